package graph

import "math"

type FilterType int

const (
	Lowpass FilterType = iota
	Highpass
	Bandpass
	Notch
)

// BiquadFilter is an RBJ cookbook biquad. Q is linear resonance.
type BiquadFilter struct {
	node
	typ       FilterType
	frequency *Param
	q         *Param

	x1, x2, y1, y2     float64
	lastF, lastQ       float64
	b0, b1, b2, a1, a2 float64
}

func (c *Context) NewBiquadFilter(typ FilterType, frequency, q float64) *BiquadFilter {
	f := &BiquadFilter{typ: typ, lastF: -1}
	f.init(c, f)
	f.frequency = newParam(c, frequency, 10, c.sampleRate/2*0.99)
	f.q = newParam(c, q, 0.0001, 100)
	return f
}

func (f *BiquadFilter) Frequency() *Param { return f.frequency }
func (f *BiquadFilter) Q() *Param         { return f.q }

func (f *BiquadFilter) SetType(t FilterType) {
	f.ctx.mu.Lock()
	defer f.ctx.mu.Unlock()
	if f.typ != t {
		f.typ = t
		f.lastF = -1
	}
}

func (f *BiquadFilter) coefficients(freq, q float64) {
	w := twoPi * freq / f.ctx.sampleRate
	cosw, sinw := math.Cos(w), math.Sin(w)
	alpha := sinw / (2 * q)
	var b0, b1, b2 float64
	switch f.typ {
	case Highpass:
		b0 = (1 + cosw) / 2
		b1 = -(1 + cosw)
		b2 = (1 + cosw) / 2
	case Bandpass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
	case Notch:
		b0 = 1
		b1 = -2 * cosw
		b2 = 1
	default:
		b0 = (1 - cosw) / 2
		b1 = 1 - cosw
		b2 = (1 - cosw) / 2
	}
	a0 := 1 + alpha
	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = -2*cosw/a0, (1-alpha)/a0
	f.lastF, f.lastQ = freq, q
}

func (f *BiquadFilter) process(q int64, t0 float64, in, out []float64) {
	freq := f.frequency.values(q, t0)
	res := f.q.values(q, t0)
	for i, x := range in {
		if freq[i] != f.lastF || res[i] != f.lastQ {
			f.coefficients(freq[i], res[i])
		}
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		out[i] = y
	}
}
