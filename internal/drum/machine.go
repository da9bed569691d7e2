// Package drum is the step-sequenced drum machine. Hits are one-shots: there
// is no note-off and overlapping hits on a pad each get their own voice.
package drum

import (
	"math"
	"sort"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/cbegin/dawcore/internal/timing"
	"github.com/cbegin/dawcore/internal/transport"
)

type Param int

const (
	Volume Param = iota
	Swing
	Tune
	numParams
)

var specs = [numParams]instrument.ParamSpec{
	Volume: {Name: "volume", Min: 0, Max: 1, Default: 0.8},
	Swing:  {Name: "swing", Min: 0, Max: MaxSwing, Default: 0},
	Tune:   {Name: "tune", Min: -24, Max: 24, Default: 0},
}

var table = instrument.NewParamTable(specs[:])

type voice struct {
	instrument.Voice
	src *graph.BufferSource
	amp *graph.Gain
}

type Machine struct {
	instrument.Base
	pool     *instrument.Pool[*voice]
	pads     map[int]*graph.Buffer
	patterns map[string]*Pattern
	active   string
	pending  []*scheduler.Event
}

var (
	_ instrument.Instrument = (*Machine)(nil)
	_ transport.Follower    = (*Machine)(nil)
)

func New(opts instrument.Options) *Machine {
	m := &Machine{
		Base:     instrument.NewBase(instrument.TypeDrum, table, opts),
		pads:     make(map[int]*graph.Buffer),
		patterns: make(map[string]*Pattern),
	}
	m.pool = instrument.NewPool[*voice](m.Sched, m.Margin, m.Log)
	m.OutputGain().Gain().SetValue(m.Values[Volume])
	return m
}

func (m *Machine) value(p Param) float64 { return m.Values[p] }

// SetPad assigns a buffer to a pad note. A nil buffer clears the pad.
func (m *Machine) SetPad(pad int, buf *graph.Buffer) {
	if buf == nil {
		delete(m.pads, pad)
		return
	}
	m.pads[pad] = buf
}

// LoadKit assigns every pad in kit.
func (m *Machine) LoadKit(kit map[int]*graph.Buffer) {
	for pad, buf := range kit {
		m.SetPad(pad, buf)
	}
}

func (m *Machine) Pads() []int {
	pads := make([]int, 0, len(m.pads))
	for p := range m.pads {
		pads = append(pads, p)
	}
	sort.Ints(pads)
	return pads
}

// AddPattern validates and stores a copy of p. The first pattern added
// becomes active.
func (m *Machine) AddPattern(p *Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.patterns[p.ID] = p.Clone()
	if m.active == "" {
		m.active = p.ID
	}
	return nil
}

// SetActivePattern switches the pattern used from the next window on.
func (m *Machine) SetActivePattern(id string) bool {
	if _, ok := m.patterns[id]; !ok {
		return false
	}
	m.active = id
	return true
}

// ActivePattern returns a copy of the active pattern.
func (m *Machine) ActivePattern() (*Pattern, bool) {
	p, ok := m.patterns[m.active]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *Machine) RemovePattern(id string) {
	delete(m.patterns, id)
	if m.active == id {
		m.active = ""
	}
}

// Trigger starts a one-shot on pad at time at.
func (m *Machine) Trigger(pad, velocity int, at float64) {
	if m.Disposed() || velocity <= 0 {
		return
	}
	buf, ok := m.pads[pad]
	if !ok {
		m.Log.Warnf("pad %d: no sample loaded", pad)
		return
	}
	at = m.At(at)
	rate := math.Pow(2, m.value(Tune)/12)
	v := &voice{
		Voice: instrument.Voice{Note: pad, Velocity: velocity, StartTime: at},
		src:   m.Ctx.NewBufferSource(buf),
		amp:   m.Ctx.NewGain(timing.Velocity(velocity)),
	}
	v.src.PlaybackRate().SetValue(rate)
	v.src.Connect(v.amp)
	v.amp.Connect(m.Output())
	v.Own(v.src, v.amp)
	v.OwnSource(v.src)
	v.src.Start(at, 0, 0)
	m.pool.AddOneShot(v, at+buf.Duration()/rate)
}

// NoteOn triggers the pad mapped to note.
func (m *Machine) NoteOn(note, velocity int, at float64) { m.Trigger(note, velocity, at) }

// NoteOff is a no-op: hits always play out.
func (m *Machine) NoteOff(note int, at float64) {}

func (m *Machine) AllNotesOff(at float64) {}

// ActiveVoices counts one-shots still playing.
func (m *Machine) ActiveVoices() int { return m.pool.Sounding() }

func (m *Machine) SetParam(name string, value, at float64) {
	i, value, ok := m.Lookup(name, value)
	if !ok {
		return
	}
	m.Values[i] = value
	if m.Disposed() {
		return
	}
	if Param(i) == Volume {
		at = m.At(at)
		g := m.OutputGain().Gain()
		g.CancelScheduledValues(at)
		g.SetValueAtTime(value, at)
	}
}

func (m *Machine) LoadPreset(p instrument.Preset) error {
	return m.ApplyPreset(p, m.SetParam)
}

// Window schedules the active pattern's hits for each segment.
func (m *Machine) Window(segs []transport.Segment) {
	live := m.pending[:0]
	for _, ev := range m.pending {
		if ev.Pending() {
			live = append(live, ev)
		}
	}
	m.pending = live

	p, ok := m.patterns[m.active]
	if m.Disposed() || !ok {
		return
	}
	stepBeats := p.StepBeats()
	swing := m.value(Swing)
	for _, seg := range segs {
		stepLength := stepBeats / seg.Rate
		for _, k := range seg.Grid(stepBeats) {
			i := ((k % p.Steps) + p.Steps) % p.Steps
			start := seg.TimeAt(float64(k-i) * stepBeats)
			at := StepTime(start, i, stepLength, swing)
			for pad, row := range p.Pads {
				if !row[i] {
					continue
				}
				pad := pad
				ev := m.Sched.Schedule(at, func(float64) { m.Trigger(pad, defaultVel, at) })
				m.pending = append(m.pending, ev)
			}
		}
	}
}

// Halt cancels hits that have not fired yet.
func (m *Machine) Halt(now float64) {
	for _, ev := range m.pending {
		m.Sched.Cancel(ev)
	}
	m.pending = nil
}

func (m *Machine) Dispose() {
	if !m.Base.Dispose() {
		return
	}
	m.Halt(m.Ctx.CurrentTime())
	m.pool.Kill(m.Ctx.CurrentTime())
}
