// Package synth is the two-oscillator subtractive synthesizer.
//
// Per voice: two detuned oscillators are mixed into a resonant biquad and an
// amplitude gain. Amplitude and filter cutoff each run their own ADSR. The
// instrument owns a single LFO shared by all voices; it can be patched to
// pitch, filter cutoff or amplitude.
package synth

import (
	"math"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/lfo"
	"github.com/cbegin/dawcore/internal/timing"
)

// LFO depth scaling per destination at lfoDepth=1.
const (
	pitchDepthCents = 100.0
	filterDepthHz   = 2000.0
	ampDepth        = 0.5
)

type voice struct {
	instrument.Voice
	osc1, osc2 *graph.Oscillator
	mix1, mix2 *graph.Gain
	filter     *graph.BiquadFilter
	amp        *graph.Gain
}

type Synth struct {
	instrument.Base
	pool *instrument.Pool[*voice]
	lfo  *lfo.LFO
	dest lfo.Destination
	trem *graph.Gain
}

var _ instrument.Instrument = (*Synth)(nil)

func New(opts instrument.Options) *Synth {
	s := &Synth{Base: instrument.NewBase(instrument.TypeSynth, table, opts)}
	s.pool = instrument.NewPool[*voice](s.Sched, s.Margin, s.Log)
	s.pool.OnDestroy = s.detachVoice
	s.trem = s.Ctx.NewGain(1)
	s.trem.Connect(s.Output())
	s.OutputGain().Gain().SetValue(s.Values[Volume])
	s.lfo = lfo.New(s.Ctx, s.lfoWave(), s.Values[LFORate], 0)
	s.lfo.Start(s.Ctx.CurrentTime())
	return s
}

func (s *Synth) value(p Param) float64 { return s.Values[p] }

func (s *Synth) lfoWave() graph.Waveform { return graph.WaveformFromIndex(s.value(LFOWaveform)) }

func (s *Synth) ampEnv() instrument.ADSR {
	return instrument.ADSR{Attack: s.value(Attack), Decay: s.value(Decay), Sustain: s.value(Sustain), Release: s.value(Release)}
}

func (s *Synth) filterEnv() instrument.ADSR {
	return instrument.ADSR{Attack: s.value(FilterAttack), Decay: s.value(FilterDecay), Sustain: s.value(FilterSustain), Release: s.value(FilterRelease)}
}

func (s *Synth) filterType() graph.FilterType {
	return graph.FilterType(timing.ClampInt(int(math.Round(s.value(FilterType))), 0, 3))
}

func (s *Synth) filterPeak() float64 {
	return math.Min(s.value(FilterCutoff)+s.value(FilterEnvAmount), s.Ctx.SampleRate()/2*0.99)
}

func (s *Synth) NoteOn(note, velocity int, at float64) {
	if s.Disposed() || note < 0 || note > 127 {
		return
	}
	if velocity <= 0 {
		s.NoteOff(note, at)
		return
	}
	at = s.At(at)
	if old, ok := s.pool.Active(note); ok {
		s.release(old, at)
	}

	ctx := s.Ctx
	freq := timing.NoteFrequency(note)
	cents := s.value(Detune) / 2
	v := &voice{
		Voice:  instrument.Voice{Note: note, Velocity: velocity, StartTime: at},
		osc1:   ctx.NewOscillator(graph.WaveformFromIndex(s.value(Osc1Waveform)), freq),
		osc2:   ctx.NewOscillator(graph.WaveformFromIndex(s.value(Osc2Waveform)), freq),
		mix1:   ctx.NewGain(1 - s.value(OscMix)),
		mix2:   ctx.NewGain(s.value(OscMix)),
		filter: ctx.NewBiquadFilter(s.filterType(), s.value(FilterCutoff), s.value(FilterResonance)),
		amp:    ctx.NewGain(0),
	}
	v.osc1.Detune().SetValue(-cents)
	v.osc2.Detune().SetValue(cents)
	v.osc1.Connect(v.mix1)
	v.osc2.Connect(v.mix2)
	v.mix1.Connect(v.filter)
	v.mix2.Connect(v.filter)
	v.filter.Connect(v.amp)
	v.amp.Connect(s.trem)
	v.Own(v.osc1, v.osc2, v.mix1, v.mix2, v.filter, v.amp)
	v.OwnSource(v.osc1)
	v.OwnSource(v.osc2)

	s.ampEnv().Trigger(v.amp.Gain(), at, 0, timing.Velocity(velocity))
	s.filterEnv().Trigger(v.filter.Frequency(), at, s.value(FilterCutoff), s.filterPeak())
	v.osc1.Start(at)
	v.osc2.Start(at)
	s.attachVoice(v)
	s.pool.Add(v)
}

func (s *Synth) NoteOff(note int, at float64) {
	if s.Disposed() {
		return
	}
	if v, ok := s.pool.Active(note); ok {
		s.release(v, s.At(at))
	}
}

func (s *Synth) release(v *voice, at float64) {
	end := s.ampEnv().ReleaseFrom(v.amp.Gain(), at, 0)
	s.filterEnv().ReleaseFrom(v.filter.Frequency(), at, s.value(FilterCutoff))
	s.pool.Release(v, at, end-at)
}

func (s *Synth) AllNotesOff(at float64) {
	for _, n := range s.pool.Notes() {
		s.NoteOff(n, at)
	}
}

func (s *Synth) ActiveVoices() int { return s.pool.ActiveCount() }

// SoundingVoices includes voices still in their release tail.
func (s *Synth) SoundingVoices() int { return s.pool.Sounding() }

func (s *Synth) SetParam(name string, value, at float64) {
	i, value, ok := s.Lookup(name, value)
	if !ok {
		return
	}
	s.Values[i] = value
	if s.Disposed() {
		return
	}
	s.apply(Param(i), s.At(at))
}

// apply pushes a stored parameter to the instrument and its held voices.
func (s *Synth) apply(p Param, at float64) {
	val := s.value(p)
	switch p {
	case Osc1Waveform:
		s.pool.Each(func(v *voice) { v.osc1.SetWaveform(graph.WaveformFromIndex(val)) })
	case Osc2Waveform:
		s.pool.Each(func(v *voice) { v.osc2.SetWaveform(graph.WaveformFromIndex(val)) })
	case Detune:
		s.pool.Each(func(v *voice) {
			v.osc1.Detune().SetValueAtTime(-val/2, at)
			v.osc2.Detune().SetValueAtTime(val/2, at)
		})
	case OscMix:
		s.pool.Each(func(v *voice) {
			v.mix1.Gain().SetValueAtTime(1-val, at)
			v.mix2.Gain().SetValueAtTime(val, at)
		})
	case FilterType:
		s.pool.Each(func(v *voice) { v.filter.SetType(s.filterType()) })
	case FilterResonance:
		s.pool.Each(func(v *voice) { v.filter.Q().SetValueAtTime(val, at) })
	case FilterCutoff, FilterEnvAmount, FilterSustain:
		level := s.value(FilterCutoff) + (s.filterPeak()-s.value(FilterCutoff))*s.value(FilterSustain)
		s.pool.Each(func(v *voice) {
			f := v.filter.Frequency()
			f.CancelAndHoldAtTime(at)
			f.LinearRampToValueAtTime(level, at+instrument.MinRamp)
		})
	case LFOWaveform, LFORate:
		s.lfo.SetShape(s.lfoWave(), s.value(LFORate), at)
	case LFODepth, LFODestination:
		s.repatchLFO(at)
	case Volume:
		g := s.OutputGain().Gain()
		g.CancelScheduledValues(at)
		g.SetValueAtTime(val, at)
	case Attack, Decay, Sustain, Release, FilterAttack, FilterDecay, FilterRelease:
		// Envelope shapes apply from the next note-on or note-off.
	}
}

func (s *Synth) lfoDepth() float64 {
	d := s.value(LFODepth)
	switch s.dest {
	case lfo.Pitch:
		return d * pitchDepthCents
	case lfo.Filter:
		return d * filterDepthHz
	case lfo.Amp:
		return d * ampDepth
	}
	return 0
}

func (s *Synth) repatchLFO(at float64) {
	dest := lfo.DestinationFromIndex(s.value(LFODestination))
	if dest != s.dest {
		s.lfo.DetachAll()
		s.dest = dest
		if dest == lfo.Amp {
			s.lfo.Attach(s.trem.Gain())
		}
		s.pool.EachSounding(s.attachVoice)
	}
	s.lfo.SetDepth(s.lfoDepth(), at)
}

func (s *Synth) attachVoice(v *voice) {
	switch s.dest {
	case lfo.Pitch:
		s.lfo.Attach(v.osc1.Detune())
		s.lfo.Attach(v.osc2.Detune())
	case lfo.Filter:
		s.lfo.Attach(v.filter.Frequency())
	}
}

func (s *Synth) detachVoice(v *voice) {
	s.lfo.Detach(v.osc1.Detune())
	s.lfo.Detach(v.osc2.Detune())
	s.lfo.Detach(v.filter.Frequency())
}

func (s *Synth) LoadPreset(p instrument.Preset) error {
	return s.ApplyPreset(p, s.SetParam)
}

// Dispose stops every voice and disconnects the instrument. Idempotent.
func (s *Synth) Dispose() {
	if !s.Base.Dispose() {
		return
	}
	now := s.Ctx.CurrentTime()
	s.pool.Kill(now)
	s.lfo.Dispose(now)
	s.trem.Disconnect()
}
