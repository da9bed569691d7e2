// Package sampler plays decoded buffers pitched from the nearest loaded
// zone. Each zone is one buffer recorded at a root note.
package sampler

import (
	"math"
	"sort"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/timing"
)

type Param int

const (
	Attack Param = iota
	Decay
	Sustain
	Release
	Volume
	Loop
	LoopStart
	LoopEnd
	Transpose
	numParams
)

var specs = [numParams]instrument.ParamSpec{
	Attack:    {Name: "attack", Min: 0, Max: 10, Default: 0.005},
	Decay:     {Name: "decay", Min: 0, Max: 10, Default: 0.1},
	Sustain:   {Name: "sustain", Min: 0, Max: 1, Default: 1},
	Release:   {Name: "release", Min: 0, Max: 10, Default: 0.3},
	Volume:    {Name: "volume", Min: 0, Max: 1, Default: 0.8},
	Loop:      {Name: "loop", Min: 0, Max: 1, Default: 0},
	LoopStart: {Name: "loopStart", Min: 0, Max: 3600, Default: 0},
	LoopEnd:   {Name: "loopEnd", Min: 0, Max: 3600, Default: 0},
	Transpose: {Name: "transpose", Min: -48, Max: 48, Default: 0},
}

var table = instrument.NewParamTable(specs[:])

type zone struct {
	root   int
	buffer *graph.Buffer
}

type voice struct {
	instrument.Voice
	root int
	src  *graph.BufferSource
	amp  *graph.Gain
}

type Sampler struct {
	instrument.Base
	pool  *instrument.Pool[*voice]
	zones map[int]zone
}

var _ instrument.Instrument = (*Sampler)(nil)

func New(opts instrument.Options) *Sampler {
	s := &Sampler{
		Base:  instrument.NewBase(instrument.TypeSampler, table, opts),
		zones: make(map[int]zone),
	}
	s.pool = instrument.NewPool[*voice](s.Sched, s.Margin, s.Log)
	s.OutputGain().Gain().SetValue(s.Values[Volume])
	return s
}

func (s *Sampler) value(p Param) float64 { return s.Values[p] }

// SetZone maps buf to root. A nil buffer removes the zone.
func (s *Sampler) SetZone(root int, buf *graph.Buffer) {
	if buf == nil {
		delete(s.zones, root)
		return
	}
	s.zones[root] = zone{root: root, buffer: buf}
	s.Log.Debugf("zone %d loaded (%.2fs)", root, buf.Duration())
}

// Zones returns the loaded root notes in ascending order.
func (s *Sampler) Zones() []int {
	roots := make([]int, 0, len(s.zones))
	for r := range s.zones {
		roots = append(roots, r)
	}
	sort.Ints(roots)
	return roots
}

// Nearest resolves the zone for note by MIDI distance. Ties go to the lower
// root.
func (s *Sampler) Nearest(note int) (root int, ok bool) {
	best := math.MaxInt
	for _, r := range s.Zones() {
		d := note - r
		if d < 0 {
			d = -d
		}
		if d < best {
			best, root, ok = d, r, true
		}
	}
	return root, ok
}

// Rate is the playback rate note would use, with its zone's root.
func (s *Sampler) Rate(note int) (rate float64, root int, ok bool) {
	root, ok = s.Nearest(note)
	if !ok {
		return 0, 0, false
	}
	return timing.PlaybackRate(note+int(s.value(Transpose)), root), root, true
}

func (s *Sampler) env() instrument.ADSR {
	return instrument.ADSR{Attack: s.value(Attack), Decay: s.value(Decay), Sustain: s.value(Sustain), Release: s.value(Release)}
}

func (s *Sampler) applyLoop(src *graph.BufferSource) {
	src.SetLoop(s.value(Loop) >= 0.5, s.value(LoopStart), s.value(LoopEnd))
}

func (s *Sampler) NoteOn(note, velocity int, at float64) {
	if s.Disposed() || note < 0 || note > 127 {
		return
	}
	if velocity <= 0 {
		s.NoteOff(note, at)
		return
	}
	rate, root, ok := s.Rate(note)
	if !ok {
		s.Log.Warnf("note %d: no sample loaded", note)
		return
	}
	at = s.At(at)
	if old, ok := s.pool.Active(note); ok {
		s.release(old, at)
	}

	v := &voice{
		Voice: instrument.Voice{Note: note, Velocity: velocity, StartTime: at},
		root:  root,
		src:   s.Ctx.NewBufferSource(s.zones[root].buffer),
		amp:   s.Ctx.NewGain(0),
	}
	v.src.PlaybackRate().SetValue(rate)
	s.applyLoop(v.src)
	v.src.Connect(v.amp)
	v.amp.Connect(s.Output())
	v.Own(v.src, v.amp)
	v.OwnSource(v.src)

	s.env().Trigger(v.amp.Gain(), at, 0, timing.Velocity(velocity))
	v.src.Start(at, 0, 0)
	s.pool.Add(v)
}

func (s *Sampler) NoteOff(note int, at float64) {
	if s.Disposed() {
		return
	}
	if v, ok := s.pool.Active(note); ok {
		s.release(v, s.At(at))
	}
}

func (s *Sampler) release(v *voice, at float64) {
	end := s.env().ReleaseFrom(v.amp.Gain(), at, 0)
	s.pool.Release(v, at, end-at)
}

func (s *Sampler) AllNotesOff(at float64) {
	for _, n := range s.pool.Notes() {
		s.NoteOff(n, at)
	}
}

func (s *Sampler) ActiveVoices() int   { return s.pool.ActiveCount() }
func (s *Sampler) SoundingVoices() int { return s.pool.Sounding() }

func (s *Sampler) SetParam(name string, value, at float64) {
	i, value, ok := s.Lookup(name, value)
	if !ok {
		return
	}
	s.Values[i] = value
	if s.Disposed() {
		return
	}
	at = s.At(at)
	switch Param(i) {
	case Volume:
		g := s.OutputGain().Gain()
		g.CancelScheduledValues(at)
		g.SetValueAtTime(value, at)
	case Loop, LoopStart, LoopEnd:
		s.pool.EachSounding(func(v *voice) { s.applyLoop(v.src) })
	case Transpose:
		s.pool.Each(func(v *voice) {
			v.src.PlaybackRate().SetValueAtTime(timing.PlaybackRate(v.Note+int(value), v.root), at)
		})
	case Attack, Decay, Sustain, Release:
	}
}

func (s *Sampler) LoadPreset(p instrument.Preset) error {
	return s.ApplyPreset(p, s.SetParam)
}

func (s *Sampler) Dispose() {
	if !s.Base.Dispose() {
		return
	}
	s.pool.Kill(s.Ctx.CurrentTime())
}
