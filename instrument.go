package dawcore

import (
	"context"

	intdrum "github.com/cbegin/dawcore/internal/drum"
	intfm "github.com/cbegin/dawcore/internal/fm"
	intinst "github.com/cbegin/dawcore/internal/instrument"
	intsampler "github.com/cbegin/dawcore/internal/sampler"
	intsynth "github.com/cbegin/dawcore/internal/synth"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
)

const (
	midiCCVolume      = 7
	midiCCAllNotesOff = 123
)

// Pattern is a drum machine step pattern.
type Pattern = intdrum.Pattern

// NewPattern creates an empty pattern of steps, beatDivision steps per beat.
func NewPattern(steps, beatDivision int) *Pattern { return intdrum.NewPattern(steps, beatDivision) }

// Instrument is a handle to one voice engine. Methods without an explicit
// time act at the current hardware time.
type Instrument struct {
	e        *Engine
	id       string
	name     string
	inst     intinst.Instrument
	unfollow func()
}

// CreateInstrument builds an instrument of the given type: "synth", "fm",
// "sampler" or "drum". Drum machines follow the transport and start with
// the built-in kit.
func (e *Engine) CreateInstrument(typ, name string) (*Instrument, error) {
	t, err := intinst.ParseType(typ)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil, ErrDisposed
	}
	opts := intinst.Options{
		Context:        e.ctx,
		Scheduler:      e.sched,
		TeardownMargin: e.cfg.teardownMargin,
		Logger:         e.cfg.loggers.NewLogger(string(t)),
	}
	h := &Instrument{e: e, id: uuid.NewString(), name: name}
	switch t {
	case intinst.TypeSynth:
		h.inst = intsynth.New(opts)
	case intinst.TypeFM:
		h.inst = intfm.New(opts)
	case intinst.TypeSampler:
		h.inst = intsampler.New(opts)
	case intinst.TypeDrum:
		m := intdrum.New(opts)
		m.LoadKit(intdrum.SynthKit(e.cfg.sampleRate))
		h.unfollow = e.transport.Follow(m)
		h.inst = m
	}
	if h.name == "" {
		h.name = string(t)
	}
	e.instruments[h.id] = h
	e.order = append(e.order, h.id)
	e.routeLocked(h)
	e.log.Debugf("created %s instrument %s", t, h.id)
	return h, nil
}

// Instrument looks up a handle by id.
func (e *Engine) Instrument(id string) (*Instrument, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.instruments[id]
	return h, ok
}

// Instruments returns handles in creation order.
func (e *Engine) Instruments() []*Instrument {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Instrument, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.instruments[id])
	}
	return out
}

// RemoveInstrument disposes the instrument and forgets it.
func (e *Engine) RemoveInstrument(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removeInstrumentLocked(id) {
		return errors.Wrapf(ErrInstrumentNotFound, "%q", id)
	}
	return nil
}

func (e *Engine) removeInstrumentLocked(id string) bool {
	h, ok := e.instruments[id]
	if !ok {
		return false
	}
	h.disposeLocked()
	delete(e.instruments, id)
	for i, x := range e.order {
		if x == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

func (e *Engine) lookupInstrument(id string) (intinst.Instrument, bool) {
	h, ok := e.instruments[id]
	if !ok {
		return nil, false
	}
	return h.inst, true
}

// routeLocked connects the instrument to the first track naming it, or to
// the destination.
func (e *Engine) routeLocked(h *Instrument) {
	out := h.inst.Output()
	out.Disconnect()
	for _, t := range e.timeline.Tracks() {
		if t.InstrumentID == h.id {
			out.Connect(e.clips.TrackOutput(t.ID))
			return
		}
	}
	out.Connect(e.ctx.Destination())
}

func (e *Engine) routeInstrumentsLocked() {
	for _, id := range e.order {
		e.routeLocked(e.instruments[id])
	}
}

func (h *Instrument) ID() string           { return h.id }
func (h *Instrument) Name() string         { return h.name }
func (h *Instrument) Type() InstrumentType { return h.inst.Type() }

func (h *Instrument) NoteOn(note, velocity int) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.NoteOn(note, velocity, h.e.ctx.CurrentTime())
}

// NoteOnAt starts a note at an absolute hardware time. Times in the past
// are treated as now.
func (h *Instrument) NoteOnAt(note, velocity int, at float64) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.NoteOn(note, velocity, at)
}

func (h *Instrument) NoteOff(note int) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.NoteOff(note, h.e.ctx.CurrentTime())
}

func (h *Instrument) NoteOffAt(note int, at float64) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.NoteOff(note, at)
}

func (h *Instrument) AllNotesOff() {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.AllNotesOff(h.e.ctx.CurrentTime())
}

// SetParam updates a named parameter. Unknown names are ignored.
func (h *Instrument) SetParam(name string, value float64) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.SetParam(name, value, h.e.ctx.CurrentTime())
}

func (h *Instrument) SetParamAt(name string, value, at float64) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	h.inst.SetParam(name, value, at)
}

func (h *Instrument) Param(name string) (float64, bool) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.inst.Param(name)
}

// LoadPreset applies p. A preset for another instrument type returns
// ErrPresetMismatch and changes nothing.
func (h *Instrument) LoadPreset(p Preset) error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.inst.LoadPreset(p)
}

func (h *Instrument) Preset() Preset {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	p := h.inst.Preset()
	p.Name = h.name
	return p
}

// ActiveVoices is the number of held notes, or sounding hits for a drum
// machine.
func (h *Instrument) ActiveVoices() int {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.inst.ActiveVoices()
}

// HandleMIDI plays a raw MIDI message: note on/off, CC 7 volume and CC 123
// all notes off. It reports whether the message was used.
func (h *Instrument) HandleMIDI(msg midi.Message) bool {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		h.NoteOn(int(key), int(vel))
	case msg.GetNoteEnd(&ch, &key):
		h.NoteOff(int(key))
	case msg.GetControlChange(&ch, &cc, &val):
		switch cc {
		case midiCCVolume:
			h.SetParam("volume", float64(val)/127)
		case midiCCAllNotesOff:
			h.AllNotesOff()
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// LoadSample loads url and assigns it to note: a sampler zone rooted at
// note, or a drum pad.
func (h *Instrument) LoadSample(ctx context.Context, note int, url string) error {
	switch h.inst.(type) {
	case *intsampler.Sampler, *intdrum.Machine:
	default:
		return errors.Wrapf(ErrUnsupported, "%s cannot load samples", h.inst.Type())
	}
	buf, err := h.e.cache.Load(ctx, url, url)
	if err != nil {
		h.e.reportError(err)
		return err
	}
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	switch inst := h.inst.(type) {
	case *intsampler.Sampler:
		inst.SetZone(note, buf)
	case *intdrum.Machine:
		inst.SetPad(note, buf)
	}
	return nil
}

// UseBuffer assigns a cached buffer to note, like LoadSample.
func (h *Instrument) UseBuffer(note int, bufferID string) error {
	buf, err := h.e.cache.Get(bufferID)
	if err != nil {
		return err
	}
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	switch inst := h.inst.(type) {
	case *intsampler.Sampler:
		inst.SetZone(note, buf)
	case *intdrum.Machine:
		inst.SetPad(note, buf)
	default:
		return errors.Wrapf(ErrUnsupported, "%s cannot load samples", h.inst.Type())
	}
	return nil
}

// SetPattern adds p to a drum machine and makes it active.
func (h *Instrument) SetPattern(p *Pattern) error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	m, ok := h.inst.(*intdrum.Machine)
	if !ok {
		return errors.Wrapf(ErrUnsupported, "%s has no patterns", h.inst.Type())
	}
	if err := m.AddPattern(p); err != nil {
		return err
	}
	m.SetActivePattern(p.ID)
	return nil
}

// Trigger fires a drum pad immediately.
func (h *Instrument) Trigger(pad, velocity int) error {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	m, ok := h.inst.(*intdrum.Machine)
	if !ok {
		return errors.Wrapf(ErrUnsupported, "%s has no pads", h.inst.Type())
	}
	m.Trigger(pad, velocity, h.e.ctx.CurrentTime())
	return nil
}

// Dispose removes the instrument from its engine. Safe to call twice.
func (h *Instrument) Dispose() {
	_ = h.e.RemoveInstrument(h.id)
}

func (h *Instrument) disposeLocked() {
	if h.unfollow != nil {
		h.unfollow()
		h.unfollow = nil
		if m, ok := h.inst.(*intdrum.Machine); ok {
			m.Halt(h.e.ctx.CurrentTime())
		}
	}
	h.inst.Dispose()
}
