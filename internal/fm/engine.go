// Package fm is the two-operator FM synthesizer: a modulator whose output,
// scaled by the modulation index, drives the carrier's frequency param.
package fm

import (
	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/timing"
)

// Param enumerates the FM synth's parameters.
type Param int

const (
	CarrierRatio Param = iota
	ModulatorRatio
	ModulationIndex
	Attack
	Decay
	Sustain
	Release
	Volume
	numParams
)

var specs = [numParams]instrument.ParamSpec{
	CarrierRatio:    {Name: "carrierRatio", Min: 0.125, Max: 16, Default: 1.0},
	ModulatorRatio:  {Name: "modulatorRatio", Min: 0.125, Max: 16, Default: 2.0},
	ModulationIndex: {Name: "modulationIndex", Min: 0, Max: 50, Default: 1.6},
	Attack:          {Name: "attack", Min: 0, Max: 10, Default: 0.005},
	Decay:           {Name: "decay", Min: 0, Max: 10, Default: 0.12},
	Sustain:         {Name: "sustain", Min: 0, Max: 1, Default: 0.75},
	Release:         {Name: "release", Min: 0, Max: 10, Default: 0.2},
	Volume:          {Name: "volume", Min: 0, Max: 1, Default: 0.45},
}

var table = instrument.NewParamTable(specs[:])

func (p Param) String() string {
	if p < 0 || p >= numParams {
		return "unknown"
	}
	return specs[p].Name
}

type voice struct {
	instrument.Voice
	freq      float64
	carrier   *graph.Oscillator
	modulator *graph.Oscillator
	index     *graph.Gain
	amp       *graph.Gain
}

type Engine struct {
	instrument.Base
	pool *instrument.Pool[*voice]
}

var _ instrument.Instrument = (*Engine)(nil)

func New(opts instrument.Options) *Engine {
	e := &Engine{Base: instrument.NewBase(instrument.TypeFM, table, opts)}
	e.pool = instrument.NewPool[*voice](e.Sched, e.Margin, e.Log)
	e.OutputGain().Gain().SetValue(e.Values[Volume])
	return e
}

func (e *Engine) value(p Param) float64 { return e.Values[p] }

func (e *Engine) env() instrument.ADSR {
	return instrument.ADSR{Attack: e.value(Attack), Decay: e.value(Decay), Sustain: e.value(Sustain), Release: e.value(Release)}
}

// deviation is the peak frequency swing in Hz for a voice at freq.
func (e *Engine) deviation(freq float64) float64 {
	return e.value(ModulationIndex) * freq * e.value(ModulatorRatio)
}

func (e *Engine) NoteOn(note, velocity int, at float64) {
	if e.Disposed() || note < 0 || note > 127 {
		return
	}
	if velocity <= 0 {
		e.NoteOff(note, at)
		return
	}
	at = e.At(at)
	if old, ok := e.pool.Active(note); ok {
		e.release(old, at)
	}

	ctx := e.Ctx
	freq := timing.NoteFrequency(note)
	v := &voice{
		Voice:     instrument.Voice{Note: note, Velocity: velocity, StartTime: at},
		freq:      freq,
		carrier:   ctx.NewOscillator(graph.Sine, freq*e.value(CarrierRatio)),
		modulator: ctx.NewOscillator(graph.Sine, freq*e.value(ModulatorRatio)),
		index:     ctx.NewGain(e.deviation(freq)),
		amp:       ctx.NewGain(0),
	}
	v.modulator.Connect(v.index)
	v.index.ConnectParam(v.carrier.Frequency())
	v.carrier.Connect(v.amp)
	v.amp.Connect(e.Output())
	v.Own(v.modulator, v.index, v.carrier, v.amp)
	v.OwnSource(v.modulator)
	v.OwnSource(v.carrier)

	e.env().Trigger(v.amp.Gain(), at, 0, timing.Velocity(velocity))
	v.modulator.Start(at)
	v.carrier.Start(at)
	e.pool.Add(v)
}

func (e *Engine) NoteOff(note int, at float64) {
	if e.Disposed() {
		return
	}
	if v, ok := e.pool.Active(note); ok {
		e.release(v, e.At(at))
	}
}

func (e *Engine) release(v *voice, at float64) {
	end := e.env().ReleaseFrom(v.amp.Gain(), at, 0)
	e.pool.Release(v, at, end-at)
}

func (e *Engine) AllNotesOff(at float64) {
	for _, n := range e.pool.Notes() {
		e.NoteOff(n, at)
	}
}

func (e *Engine) ActiveVoices() int   { return e.pool.ActiveCount() }
func (e *Engine) SoundingVoices() int { return e.pool.Sounding() }

func (e *Engine) SetParam(name string, value, at float64) {
	i, value, ok := e.Lookup(name, value)
	if !ok {
		return
	}
	e.Values[i] = value
	if e.Disposed() {
		return
	}
	at = e.At(at)
	switch Param(i) {
	case CarrierRatio:
		e.pool.Each(func(v *voice) { v.carrier.Frequency().SetValueAtTime(v.freq*value, at) })
	case ModulatorRatio:
		e.pool.Each(func(v *voice) {
			v.modulator.Frequency().SetValueAtTime(v.freq*value, at)
			v.index.Gain().SetValueAtTime(e.deviation(v.freq), at)
		})
	case ModulationIndex:
		e.pool.Each(func(v *voice) { v.index.Gain().SetValueAtTime(e.deviation(v.freq), at) })
	case Volume:
		g := e.OutputGain().Gain()
		g.CancelScheduledValues(at)
		g.SetValueAtTime(value, at)
	case Attack, Decay, Sustain, Release:
		// Envelope shapes apply from the next note-on or note-off.
	}
}

func (e *Engine) LoadPreset(p instrument.Preset) error {
	return e.ApplyPreset(p, e.SetParam)
}

func (e *Engine) Dispose() {
	if !e.Base.Dispose() {
		return
	}
	e.pool.Kill(e.Ctx.CurrentTime())
}
