package clipplayer

import (
	"math"
	"testing"

	"github.com/cbegin/dawcore/internal/buffercache"
	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/cbegin/dawcore/internal/timeline"
	"github.com/cbegin/dawcore/internal/transport"
	"github.com/davecgh/go-spew/spew"
	"github.com/pion/logging"
)

type noteEvent struct {
	on     bool
	pitch  int
	at     float64
	called float64 // clock time when the call arrived
}

type fakeInstrument struct {
	ctx    *graph.Context
	events []noteEvent
}

func (f *fakeInstrument) Type() instrument.Type { return instrument.TypeSynth }
func (f *fakeInstrument) NoteOn(note, _ int, at float64) {
	f.events = append(f.events, noteEvent{on: true, pitch: note, at: at, called: f.ctx.CurrentTime()})
}
func (f *fakeInstrument) NoteOff(note int, at float64) {
	f.events = append(f.events, noteEvent{pitch: note, at: at, called: f.ctx.CurrentTime()})
}
func (f *fakeInstrument) AllNotesOff(float64)                {}
func (f *fakeInstrument) SetParam(string, float64, float64)  {}
func (f *fakeInstrument) Param(string) (float64, bool)       { return 0, false }
func (f *fakeInstrument) LoadPreset(instrument.Preset) error { return nil }
func (f *fakeInstrument) Preset() instrument.Preset          { return instrument.Preset{} }
func (f *fakeInstrument) Output() graph.Node                 { return nil }
func (f *fakeInstrument) ActiveVoices() int                  { return 0 }
func (f *fakeInstrument) Dispose()                           {}

type harness struct {
	ctx   *graph.Context
	sched *scheduler.Scheduler
	tr    *transport.Transport
	store *timeline.Store
	cache *buffercache.Cache
	inst  *fakeInstrument
	p     *Player
}

func newHarness() *harness {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	h := &harness{
		ctx:   graph.NewContext(48000),
		store: timeline.New(),
	}
	h.inst = &fakeInstrument{ctx: h.ctx}
	h.sched = scheduler.New(0.1, f.NewLogger("scheduler"))
	h.tr = transport.New(h.sched, transport.Config{}, f.NewLogger("transport"))
	h.cache = buffercache.New(48000, nil, f.NewLogger("buffercache"))
	lookup := func(id string) (instrument.Instrument, bool) { return h.inst, id == "inst" }
	h.p = New(h.ctx, h.sched, h.store, h.ctx.Destination(), h.cache, lookup, f.NewLogger("clipplayer"))
	h.tr.Follow(h.p)
	// 60 BPM: one beat per second.
	h.tr.SetTempo(60, 0)
	return h
}

func (h *harness) runTo(end float64, each func()) {
	for h.ctx.CurrentTime() < end {
		h.ctx.RenderQuanta(1)
		now := h.ctx.CurrentTime()
		h.sched.Tick(now)
		h.tr.Tick(now)
		if each != nil {
			each()
		}
	}
}

func (h *harness) putOnes(id string, seconds float64) {
	data := make([]float32, int(seconds*48000))
	for i := range data {
		data[i] = 1
	}
	h.cache.Put(id, graph.NewBuffer(data, 48000))
}

func TestAudioClipStartsAndStopsOnBeat(t *testing.T) {
	h := newHarness()
	h.putOnes("ones", 10)
	tr := h.store.CreateTrack("audio")
	if _, err := h.store.AddClip(timeline.Clip{TrackID: tr.ID, BufferID: "ones", Start: 1, Duration: 2, Gain: 1}); err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	h.tr.Play(0)

	h.runTo(0.5, nil)
	if n := h.p.Playing(); n != 0 {
		t.Fatalf("Playing before clip start = %d", n)
	}
	h.runTo(1.5, nil)
	if n := h.p.Playing(); n != 1 {
		t.Fatalf("Playing inside clip = %d, want 1", n)
	}
	src := h.p.playing[0].src
	if got := h.p.playing[0].stop; math.Abs(got-3) > 1e-9 {
		t.Fatalf("stop = %v, want 3", got)
	}
	h.runTo(3.3, nil)
	if !src.Ended() {
		t.Fatal("source still running after clip end")
	}
	if n := h.p.Playing(); n != 0 {
		t.Fatalf("clip not torn down: Playing = %d", n)
	}
}

func TestEntryStartsSpanningClipWithOffset(t *testing.T) {
	h := newHarness()
	h.putOnes("ones", 10)
	tr := h.store.CreateTrack("audio")
	_, _ = h.store.AddClip(timeline.Clip{TrackID: tr.ID, BufferID: "ones", Start: 0, Duration: 4, Gain: 1})
	h.tr.Seek(2.5, 0)
	h.tr.Play(0)
	h.runTo(0.1, nil)
	if n := h.p.Playing(); n != 1 {
		t.Fatalf("spanning clip not started on entry: Playing = %d", n)
	}
	if got := h.p.playing[0].stop; math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("stop = %v, want 1.5", got)
	}
}

func TestLoopSeamCutsAndRestarts(t *testing.T) {
	h := newHarness()
	h.putOnes("ones", 10)
	tr := h.store.CreateTrack("audio")
	_, _ = h.store.AddClip(timeline.Clip{TrackID: tr.ID, BufferID: "ones", Start: 3, Duration: 4, Gain: 1})
	if err := h.tr.SetLoop(true, 0, 4, 0); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	h.tr.Play(0)

	seen := map[*playing]bool{}
	var started []*playing
	h.runTo(7.9, func() {
		for _, pl := range h.p.playing {
			if !seen[pl] {
				seen[pl] = true
				started = append(started, pl)
			}
		}
	})
	if len(started) != 2 {
		t.Fatalf("clip starts = %d, want 2", len(started))
	}
	for i, want := range []float64{4, 8} {
		if got := started[i].stop; math.Abs(got-want) > 1e-9 {
			t.Fatalf("pass %d stop = %v, want %v", i, got, want)
		}
	}
}

func TestNoteClipDrivesInstrument(t *testing.T) {
	h := newHarness()
	tr := h.store.CreateTrack("keys")
	_, _ = h.store.UpdateTrack(tr.ID, func(t *timeline.Track) { t.InstrumentID = "inst" })
	_, err := h.store.AddClip(timeline.Clip{TrackID: tr.ID, Start: 0, Duration: 2, Notes: []timeline.Note{
		{Pitch: 60, Velocity: 100, Start: 0, Duration: 0.5},
		{Pitch: 64, Velocity: 100, Start: 1, Duration: 4},
	}})
	if err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	h.tr.Play(0)
	h.runTo(2.2, nil)

	want := []noteEvent{
		{on: true, pitch: 60, at: 0},
		{pitch: 60, at: 0.5},
		{on: true, pitch: 64, at: 1},
		{pitch: 64, at: 2},
	}
	if len(h.inst.events) != len(want) {
		t.Fatalf("events = %s", spew.Sdump(h.inst.events))
	}
	for i := range want {
		got := h.inst.events[i]
		if got.on != want[i].on || got.pitch != want[i].pitch || math.Abs(got.at-want[i].at) > 1e-9 {
			t.Fatalf("events = %s", spew.Sdump(h.inst.events))
		}
	}
}

func TestNoteOffsArriveBeforeTheirTime(t *testing.T) {
	h := newHarness()
	tr := h.store.CreateTrack("keys")
	_, _ = h.store.UpdateTrack(tr.ID, func(t *timeline.Track) { t.InstrumentID = "inst" })
	_, _ = h.store.AddClip(timeline.Clip{TrackID: tr.ID, Duration: 2, Notes: []timeline.Note{
		{Pitch: 60, Velocity: 100, Start: 0, Duration: 0.3},
		{Pitch: 62, Velocity: 100, Start: 0.7, Duration: 0.61},
	}})
	h.tr.Play(0)
	h.runTo(2, nil)

	offs := 0
	for _, ev := range h.inst.events {
		if ev.on {
			continue
		}
		offs++
		if ev.called > ev.at {
			t.Fatalf("note-off for %d at %v arrived late at %v", ev.pitch, ev.at, ev.called)
		}
	}
	if offs != 2 {
		t.Fatalf("events = %s", spew.Sdump(h.inst.events))
	}
	if h.p.Held() != 0 {
		t.Fatalf("Held = %d after every note ended", h.p.Held())
	}
}

func TestRepeatedPitchKeepsNextNote(t *testing.T) {
	h := newHarness()
	tr := h.store.CreateTrack("keys")
	_, _ = h.store.UpdateTrack(tr.ID, func(t *timeline.Track) { t.InstrumentID = "inst" })
	_, _ = h.store.AddClip(timeline.Clip{TrackID: tr.ID, Duration: 2, Notes: []timeline.Note{
		{Pitch: 60, Velocity: 100, Start: 0, Duration: 1},
		{Pitch: 60, Velocity: 100, Start: 1, Duration: 0.5},
	}})
	h.tr.Play(0)
	h.runTo(2, nil)

	want := []noteEvent{
		{on: true, pitch: 60, at: 0},
		{pitch: 60, at: 1},
		{on: true, pitch: 60, at: 1},
		{pitch: 60, at: 1.5},
	}
	if len(h.inst.events) != len(want) {
		t.Fatalf("events = %s", spew.Sdump(h.inst.events))
	}
	for i := range want {
		got := h.inst.events[i]
		if got.on != want[i].on || math.Abs(got.at-want[i].at) > 1e-9 {
			t.Fatalf("events = %s", spew.Sdump(h.inst.events))
		}
	}
}

func TestStopReleasesHeldNotes(t *testing.T) {
	h := newHarness()
	tr := h.store.CreateTrack("keys")
	_, _ = h.store.UpdateTrack(tr.ID, func(t *timeline.Track) { t.InstrumentID = "inst" })
	_, _ = h.store.AddClip(timeline.Clip{TrackID: tr.ID, Duration: 8, Notes: []timeline.Note{{Pitch: 48, Velocity: 90, Duration: 8}}})
	h.tr.Play(0)
	h.runTo(0.5, nil)
	if h.p.Held() != 1 {
		t.Fatalf("Held = %d, want 1", h.p.Held())
	}
	h.tr.Stop(h.ctx.CurrentTime())
	if h.p.Held() != 0 {
		t.Fatalf("Held after stop = %d", h.p.Held())
	}
	last := h.inst.events[len(h.inst.events)-1]
	if last.on || last.pitch != 48 {
		t.Fatalf("last event = %+v, want note off 48", last)
	}
	h.runTo(9, nil)
	if n := len(h.inst.events); n != 2 {
		t.Fatalf("events after stop = %s", spew.Sdump(h.inst.events))
	}
}

func TestMutedAndDeletedTracks(t *testing.T) {
	h := newHarness()
	h.putOnes("ones", 10)
	muted := h.store.CreateTrack("muted")
	_, _ = h.store.UpdateTrack(muted.ID, func(t *timeline.Track) { t.Muted = true })
	_, _ = h.store.AddClip(timeline.Clip{TrackID: muted.ID, BufferID: "ones", Duration: 4, Gain: 1})
	live := h.store.CreateTrack("live")
	_, _ = h.store.AddClip(timeline.Clip{TrackID: live.ID, BufferID: "ones", Duration: 4, Gain: 1})

	h.tr.Play(0)
	h.runTo(0.5, nil)
	if n := h.p.Playing(); n != 1 {
		t.Fatalf("Playing = %d, want only the unmuted clip", n)
	}
	if err := h.store.DeleteTrack(live.ID); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	h.runTo(1, nil)
	if n := h.p.Playing(); n != 0 {
		t.Fatalf("clip outlived its track: Playing = %d", n)
	}
	if _, ok := h.p.tracks[live.ID]; ok {
		t.Fatal("track gain not removed")
	}
}
