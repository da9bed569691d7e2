package transport

import (
	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/cbegin/dawcore/internal/timing"
)

const (
	clickLength  = 0.05
	accentFreq   = 1760.0
	clickFreq    = 880.0
	clickVolume  = 0.3
	accentVolume = 0.5
)

// Metronome follows the transport and emits one tick per signature beat.
// With Audible set it also plays a short click, accented on beat one.
type Metronome struct {
	t       *Transport
	sched   *scheduler.Scheduler
	ctx     *graph.Context
	out     graph.Node
	Audible bool
	onTick  func(bar, beat int, at float64)
	pending []*scheduler.Event
	clicks  []*graph.Oscillator
}

// NewMetronome wires a metronome into out. onTick may be nil.
func NewMetronome(t *Transport, sched *scheduler.Scheduler, ctx *graph.Context, out graph.Node, onTick func(bar, beat int, at float64)) *Metronome {
	return &Metronome{t: t, sched: sched, ctx: ctx, out: out, onTick: onTick}
}

func (m *Metronome) Window(segs []Segment) {
	live := m.pending[:0]
	for _, ev := range m.pending {
		if ev.Pending() {
			live = append(live, ev)
		}
	}
	m.pending = live
	sig := m.t.TimeSignature()
	unit := sig.BeatUnit()
	for _, seg := range segs {
		for _, k := range seg.Grid(unit) {
			beat := float64(k) * unit
			at := seg.TimeAt(beat)
			bar, sigBeat := timing.BarBeat(beat, sig)
			if m.Audible {
				m.click(at, sigBeat == 1)
			}
			var ev *scheduler.Event
			ev = m.sched.Schedule(at, func(float64) {
				m.forget(ev)
				if m.onTick != nil {
					m.onTick(bar, sigBeat, at)
				}
			})
			m.pending = append(m.pending, ev)
		}
	}
}

func (m *Metronome) click(at float64, accent bool) {
	freq, vol := clickFreq, clickVolume
	if accent {
		freq, vol = accentFreq, accentVolume
	}
	osc := m.ctx.NewOscillator(graph.Sine, freq)
	amp := m.ctx.NewGain(0)
	osc.Connect(amp)
	amp.Connect(m.out)
	g := amp.Gain()
	g.SetValueAtTime(vol, at)
	g.ExponentialRampToValueAtTime(0.001, at+clickLength)
	osc.Start(at)
	osc.Stop(at + clickLength)
	m.clicks = append(m.clicks, osc)
	m.sched.ScheduleTeardown(at+clickLength+0.01, func(float64) {
		osc.Disconnect()
		amp.Disconnect()
		for i, c := range m.clicks {
			if c == osc {
				m.clicks = append(m.clicks[:i], m.clicks[i+1:]...)
				break
			}
		}
	})
}

func (m *Metronome) forget(ev *scheduler.Event) {
	for i, e := range m.pending {
		if e == ev {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// Halt cancels pending ticks and silences clicks that have not played yet.
func (m *Metronome) Halt(now float64) {
	for _, ev := range m.pending {
		m.sched.Cancel(ev)
	}
	m.pending = nil
	for _, osc := range m.clicks {
		osc.Stop(now)
	}
}
