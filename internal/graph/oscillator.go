package graph

import "math"

const twoPi = math.Pi * 2

type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
	Triangle
)

var waveformNames = [...]string{"sine", "square", "sawtooth", "triangle"}

func (w Waveform) String() string {
	if w < 0 || int(w) >= len(waveformNames) {
		return "sine"
	}
	return waveformNames[w]
}

// WaveformFromIndex maps a numeric parameter value onto a waveform, rounding
// and clamping so preset values stay usable.
func WaveformFromIndex(v float64) Waveform {
	i := int(math.Round(v))
	if i < 0 {
		i = 0
	}
	if i >= len(waveformNames) {
		i = len(waveformNames) - 1
	}
	return Waveform(i)
}

// sample evaluates the waveform at phase in [0, 1).
func (w Waveform) sample(phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*phase - 1
	case Triangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(twoPi * phase)
	}
}

// Oscillator is a periodic source. Frequency is in Hz, detune in cents.
type Oscillator struct {
	node
	wave      Waveform
	frequency *Param
	detune    *Param
	phase     float64
	started   bool
	startT    float64
	stopT     float64
}

func (c *Context) NewOscillator(w Waveform, frequency float64) *Oscillator {
	o := &Oscillator{wave: w, stopT: math.Inf(1)}
	o.init(c, o)
	nyquist := c.sampleRate / 2
	o.frequency = newParam(c, frequency, -nyquist, nyquist)
	o.detune = newParam(c, 0, -153600, 153600)
	return o
}

func (o *Oscillator) Frequency() *Param { return o.frequency }
func (o *Oscillator) Detune() *Param    { return o.detune }

func (o *Oscillator) Waveform() Waveform {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	return o.wave
}

func (o *Oscillator) SetWaveform(w Waveform) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	o.wave = w
}

// Start schedules the oscillator to begin at t. Only the first call counts.
func (o *Oscillator) Start(t float64) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.startT = t
}

// Stop schedules the oscillator to end at t. An earlier stop wins; stopping
// an oscillator that never started is a no-op.
func (o *Oscillator) Stop(t float64) {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	if t < o.stopT {
		o.stopT = t
	}
}

// Ended reports whether the oscillator has passed its stop time.
func (o *Oscillator) Ended() bool {
	o.ctx.mu.Lock()
	defer o.ctx.mu.Unlock()
	return o.ctx.now() >= o.stopT
}

func (o *Oscillator) process(q int64, t0 float64, _, out []float64) {
	freq := o.frequency.values(q, t0)
	det := o.detune.values(q, t0)
	sr := o.ctx.sampleRate
	for i := range out {
		t := t0 + float64(i)/sr
		if !o.started || t < o.startT || t >= o.stopT {
			out[i] = 0
			continue
		}
		out[i] = o.wave.sample(o.phase)
		f := freq[i]
		if det[i] != 0 {
			f *= math.Pow(2, det[i]/1200)
		}
		o.phase += f / sr
		o.phase -= math.Floor(o.phase)
	}
}
