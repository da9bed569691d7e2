// Package lfo is the instrument-level low-frequency oscillator. One LFO is
// shared by every voice of an instrument: voices attach their params on
// creation and detach on teardown, so the modulation phase is common to all
// notes.
package lfo

import (
	"github.com/cbegin/dawcore/internal/graph"
)

// Destination selects what the LFO modulates.
type Destination int

const (
	Off Destination = iota
	Pitch
	Filter
	Amp
)

var destinationNames = [...]string{"off", "pitch", "filter", "amp"}

func (d Destination) String() string {
	if d < 0 || int(d) >= len(destinationNames) {
		return "off"
	}
	return destinationNames[d]
}

// DestinationFromIndex rounds and clamps a numeric param value.
func DestinationFromIndex(v float64) Destination {
	i := int(v + 0.5)
	if i < 0 {
		i = 0
	}
	if i >= len(destinationNames) {
		i = len(destinationNames) - 1
	}
	return Destination(i)
}

// LFO is an oscillator feeding a depth gain whose output is summed into
// every attached param.
type LFO struct {
	ctx     *graph.Context
	osc     *graph.Oscillator
	depth   *graph.Gain
	wave    graph.Waveform
	rate    float64
	targets []*graph.Param
	started bool
}

func New(ctx *graph.Context, wave graph.Waveform, rateHz, depth float64) *LFO {
	l := &LFO{
		ctx:   ctx,
		wave:  wave,
		rate:  rateHz,
		depth: ctx.NewGain(depth),
	}
	l.osc = ctx.NewOscillator(wave, rateHz)
	l.osc.Connect(l.depth)
	return l
}

// Start runs the oscillator from at. Later calls are no-ops.
func (l *LFO) Start(at float64) {
	if l.started {
		return
	}
	l.started = true
	l.osc.Start(at)
}

func (l *LFO) Waveform() graph.Waveform { return l.wave }
func (l *LFO) Rate() float64            { return l.rate }

// SetShape recreates the oscillator when waveform or rate change. The old
// oscillator is stopped at at and the new one takes over from the same time.
func (l *LFO) SetShape(wave graph.Waveform, rateHz, at float64) {
	if wave == l.wave && rateHz == l.rate {
		return
	}
	l.wave, l.rate = wave, rateHz
	old := l.osc
	old.Stop(at)
	old.Disconnect()
	l.osc = l.ctx.NewOscillator(wave, rateHz)
	l.osc.Connect(l.depth)
	if l.started {
		l.osc.Start(at)
	}
}

// SetDepth changes the modulation amount at at.
func (l *LFO) SetDepth(depth, at float64) {
	g := l.depth.Gain()
	g.CancelScheduledValues(at)
	g.SetValueAtTime(depth, at)
}

func (l *LFO) Depth() float64 { return l.depth.Gain().Value() }

// Attach adds the LFO output to p.
func (l *LFO) Attach(p *graph.Param) {
	for _, t := range l.targets {
		if t == p {
			return
		}
	}
	l.targets = append(l.targets, p)
	l.depth.ConnectParam(p)
}

// Detach removes the LFO from p. Detaching twice is a no-op.
func (l *LFO) Detach(p *graph.Param) {
	for i, t := range l.targets {
		if t == p {
			l.targets = append(l.targets[:i], l.targets[i+1:]...)
			l.depth.DisconnectParam(p)
			return
		}
	}
}

// DetachAll removes every target.
func (l *LFO) DetachAll() {
	l.depth.Disconnect()
	l.targets = nil
}

func (l *LFO) Targets() int { return len(l.targets) }

// Dispose stops the oscillator and drops every connection.
func (l *LFO) Dispose(at float64) {
	l.osc.Stop(at)
	l.osc.Disconnect()
	l.DetachAll()
}
