package dawcore

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-audio/wav"
	"github.com/pion/logging"
	"gitlab.com/gomidi/midi/v2"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	base := []Option{
		WithOffline(true),
		WithSampleRate(48000),
		WithLoggerFactory(f),
		// Keep position updates from crowding the event channel.
		WithPositionInterval(100),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Dispose)
	return e
}

func drain(ch <-chan Event, kind EventKind) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestCreateInstrumentUnknownType(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateInstrument("theremin", ""); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("err = %v, want ErrUnknownInstrument", err)
	}
	for _, typ := range []string{"synth", "fm", "sampler", "drum"} {
		h, err := e.CreateInstrument(typ, "")
		if err != nil {
			t.Fatalf("CreateInstrument(%q): %v", typ, err)
		}
		if string(h.Type()) != typ || h.Name() != typ {
			t.Fatalf("type=%q name=%q, want %q", h.Type(), h.Name(), typ)
		}
	}
	if n := len(e.Instruments()); n != 4 {
		t.Fatalf("Instruments = %d, want 4", n)
	}
}

func TestLoopEventsWhileAdvancing(t *testing.T) {
	e := newTestEngine(t)
	ch := e.Watch()
	e.SetTempo(120)
	if err := e.SetLoop(true, 0, 4); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	e.Play()
	// One loop is 2s at 120 BPM.
	if err := e.Advance(4.5); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if loops := drain(ch, EventLoop); len(loops) != 2 {
		t.Fatalf("loop events = %s", spew.Sdump(loops))
	}
	if pos := e.Position(); pos < 0.9 || pos > 1.1 {
		t.Fatalf("Position = %v, want about 1", pos)
	}
	st := e.TransportState()
	if !st.Playing || !st.Looping || st.Tempo != 120 {
		t.Fatalf("state = %s", spew.Sdump(st))
	}
}

func TestMetronomeTicks(t *testing.T) {
	e := newTestEngine(t)
	ch := e.Watch()
	e.SetTempo(120)
	e.SetMetronome(true, false)
	e.Play()
	if err := e.Advance(1.9); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	ticks := drain(ch, EventMetronomeTick)
	if len(ticks) != 4 {
		t.Fatalf("ticks = %s", spew.Sdump(ticks))
	}
	// Playback starts one control tick after Play.
	delay := float64(e.clock.IntervalFrames()) / float64(e.SampleRate())
	for i, ev := range ticks {
		if ev.Bar != 1 || ev.Beat != i+1 || math.Abs(ev.Time-(delay+float64(i)*0.5)) > 1e-9 {
			t.Fatalf("tick %d = %s", i, spew.Sdump(ev))
		}
	}
}

func TestHandleMIDI(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.CreateInstrument("synth", "keys")
	if err != nil {
		t.Fatalf("CreateInstrument: %v", err)
	}
	if !h.HandleMIDI(midi.NoteOn(0, 60, 100)) || h.ActiveVoices() != 1 {
		t.Fatalf("note on: ActiveVoices = %d", h.ActiveVoices())
	}
	if !h.HandleMIDI(midi.NoteOn(0, 60, 0)) || h.ActiveVoices() != 0 {
		t.Fatalf("zero-velocity note on should release: ActiveVoices = %d", h.ActiveVoices())
	}
	if !h.HandleMIDI(midi.ControlChange(0, 7, 127)) {
		t.Fatalf("volume CC not handled")
	}
	if v, _ := h.Param("volume"); v != 1 {
		t.Fatalf("volume = %v, want 1", v)
	}
	h.HandleMIDI(midi.NoteOn(0, 64, 90))
	h.HandleMIDI(midi.NoteOn(0, 67, 90))
	if !h.HandleMIDI(midi.ControlChange(0, 123, 0)) || h.ActiveVoices() != 0 {
		t.Fatalf("all notes off: ActiveVoices = %d", h.ActiveVoices())
	}
	if h.HandleMIDI(midi.Pitchbend(0, 100)) {
		t.Fatalf("pitch bend reported as handled")
	}
}

func TestClipNotesPlayRoutedInstrument(t *testing.T) {
	e := newTestEngine(t)
	h, _ := e.CreateInstrument("synth", "lead")
	tr := e.CreateTrack("lead")
	if _, err := e.UpdateTrack(tr.ID, func(t *Track) { t.InstrumentID = h.ID() }); err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}
	_, err := e.ScheduleClip(Clip{TrackID: tr.ID, Duration: 4, Notes: []Note{{Pitch: 60, Velocity: 100, Start: 0, Duration: 1}}})
	if err != nil {
		t.Fatalf("ScheduleClip: %v", err)
	}
	e.Play()
	samples, err := e.RenderSamples(0.3)
	if err != nil {
		t.Fatalf("RenderSamples: %v", err)
	}
	if h.ActiveVoices() != 1 {
		t.Fatalf("ActiveVoices = %d, want 1", h.ActiveVoices())
	}
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak == 0 {
		t.Fatalf("clip note rendered silence")
	}
	e.Stop()
	if h.ActiveVoices() != 0 {
		t.Fatalf("Stop left %d notes held", h.ActiveVoices())
	}
}

func TestBounceWritesWAV(t *testing.T) {
	e := newTestEngine(t)
	drums, _ := e.CreateInstrument("drum", "")
	p := NewPattern(16, 4)
	p.Set(36, 0, true)
	if err := drums.SetPattern(p); err != nil {
		t.Fatalf("SetPattern: %v", err)
	}
	f, err := os.CreateTemp(t.TempDir(), "bounce-*.wav")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := e.Bounce(f, 0.5); err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if st := e.TransportState(); st.Playing || !st.Paused {
		t.Fatalf("transport after bounce = %s", spew.Sdump(st))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != 48000 || d.BitDepth != 16 {
		t.Fatalf("format = %+v bitDepth=%d", buf.Format, d.BitDepth)
	}
	// 0.5s rounds up to whole quanta: 188 * 128 frames.
	if want := 188 * 128 * 2; len(buf.Data) != want {
		t.Fatalf("samples = %d, want %d", len(buf.Data), want)
	}
	nonzero := false
	for _, s := range buf.Data {
		if s != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		t.Fatalf("bounced kick is silent")
	}
}

func TestRealtimeEngineRejectsOfflineCalls(t *testing.T) {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	e, err := New(WithLoggerFactory(f))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Dispose()
	if err := e.Advance(1); !errors.Is(err, ErrNotOffline) {
		t.Fatalf("Advance err = %v", err)
	}
	if err := e.Bounce(nil, 1); !errors.Is(err, ErrNotOffline) {
		t.Fatalf("Bounce err = %v", err)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	h, _ := e.CreateInstrument("fm", "")
	h.NoteOn(60, 100)
	e.Dispose()
	e.Dispose()
	if n := len(e.Instruments()); n != 0 {
		t.Fatalf("instruments after dispose = %d", n)
	}
	if _, err := e.CreateInstrument("synth", ""); !errors.Is(err, ErrDisposed) {
		t.Fatalf("CreateInstrument after dispose err = %v", err)
	}
	if err := e.Advance(1); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Advance after dispose err = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t)
	e.SetTempo(97)
	if err := e.SetTimeSignature(3, 4); err != nil {
		t.Fatalf("SetTimeSignature: %v", err)
	}
	tr := e.CreateTrack("vox")
	vox := NewClip(tr.ID, 4, 8)
	vox.BufferID, vox.FadeIn = "vox.wav", 0.1
	if _, err := e.ScheduleClip(vox); err != nil {
		t.Fatalf("ScheduleClip: %v", err)
	}
	snap := e.Snapshot()

	other := newTestEngine(t)
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got := other.Snapshot()
	if !reflect.DeepEqual(got.Timeline, snap.Timeline) {
		t.Fatalf("timeline = %s\nwant %s", spew.Sdump(got.Timeline), spew.Sdump(snap.Timeline))
	}
	if got.Transport.Tempo != 97 || got.Transport.TimeSignature != snap.Transport.TimeSignature {
		t.Fatalf("transport = %s", spew.Sdump(got.Transport))
	}
}

func TestLoadSampleFailurePublishesError(t *testing.T) {
	boom := errors.New("no such sample")
	e := newTestEngine(t, WithFetch(func(context.Context, string) (io.ReadCloser, error) { return nil, boom }))
	ch := e.Watch()
	if err := e.LoadSample(context.Background(), "kick", "kick.wav"); !errors.Is(err, boom) {
		t.Fatalf("LoadSample err = %v", err)
	}
	if errs := drain(ch, EventError); len(errs) != 1 || !errors.Is(errs[0].Err, boom) {
		t.Fatalf("error events = %s", spew.Sdump(errs))
	}

	s, _ := e.CreateInstrument("sampler", "")
	e.PutBuffer("tone", make([]float32, 4800), 48000)
	if err := s.UseBuffer(60, "tone"); err != nil {
		t.Fatalf("UseBuffer: %v", err)
	}
	syn, _ := e.CreateInstrument("synth", "")
	if err := syn.UseBuffer(60, "tone"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("synth UseBuffer err = %v", err)
	}
}

func TestMasterBus(t *testing.T) {
	var tapped int
	e := newTestEngine(t, WithSampleTap(func(b []float32) { tapped += len(b) }))

	if _, err := e.AddEffect("flanger", nil); !errors.Is(err, ErrUnknownEffect) {
		t.Fatalf("AddEffect(flanger) err = %v, want ErrUnknownEffect", err)
	}
	slot, err := e.AddEffect("delay", map[string]float64{"beats": 0.5, "wet": 0.3})
	if err != nil {
		t.Fatalf("AddEffect(delay): %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot = %d, want 0", slot)
	}
	if err := e.RemoveEffect(3); err == nil {
		t.Fatalf("RemoveEffect(3) succeeded on a one-slot bus")
	}
	if err := e.RemoveEffect(slot); err != nil {
		t.Fatalf("RemoveEffect(%d): %v", slot, err)
	}

	if n := e.EQBands(); n != 5 {
		t.Fatalf("EQBands = %d, want 5", n)
	}
	for band := 0; band < e.EQBands(); band++ {
		e.SetEQBand(band, 0)
	}
	if g := e.EQBand(2); g != 0 {
		t.Fatalf("EQBand(2) = %v, want 0", g)
	}
	lead, err := e.CreateInstrument("synth", "lead")
	if err != nil {
		t.Fatalf("CreateInstrument: %v", err)
	}
	lead.NoteOn(60, 100)
	out, err := e.RenderSamples(0.25)
	if err != nil {
		t.Fatalf("RenderSamples: %v", err)
	}
	if tapped != len(out) {
		t.Fatalf("tap saw %d samples, want %d", tapped, len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v with every EQ band muted", i, s)
		}
	}
}
