package synth

import (
	"errors"
	"math"
	"testing"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/davecgh/go-spew/spew"
	"github.com/pion/logging"
)

func newTestSynth() (*Synth, *graph.Context, *scheduler.Scheduler) {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	ctx := graph.NewContext(48000)
	sched := scheduler.New(0.1, f.NewLogger("scheduler"))
	s := New(instrument.Options{Context: ctx, Scheduler: sched, Logger: f.NewLogger("synth")})
	return s, ctx, sched
}

func TestRetriggerLeavesOneVoice(t *testing.T) {
	s, _, _ := newTestSynth()
	for note := 0; note <= 127; note++ {
		s.NoteOn(note, 100, 0)
		first, _ := s.pool.Active(note)
		s.NoteOn(note, 100, 0)
		second, ok := s.pool.Active(note)
		if !ok || second == first {
			t.Fatalf("note %d: second voice not active", note)
		}
		if !first.Released {
			t.Fatalf("note %d: first voice not released", note)
		}
	}
	if s.ActiveVoices() != 128 {
		t.Fatalf("ActiveVoices = %d, want 128", s.ActiveVoices())
	}
	if s.SoundingVoices() != 256 {
		t.Fatalf("SoundingVoices = %d, want 256", s.SoundingVoices())
	}
}

func TestReleaseStartsFromCurrentGain(t *testing.T) {
	s, _, _ := newTestSynth()
	s.SetParam("attack", 1, 0)
	s.SetParam("release", 1, 0)
	s.NoteOn(60, 127, 0)
	v, _ := s.pool.Active(60)
	s.NoteOff(60, 0.5)

	g := v.amp.Gain()
	if got := g.ValueAt(0.5); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("gain at release = %v, want 0.5", got)
	}
	if got := g.ValueAt(1.0); math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("gain mid release = %v, want 0.25", got)
	}
	if got := g.ValueAt(1.5); got != 0 {
		t.Fatalf("gain after release = %v, want 0", got)
	}
}

func TestVelocityScalesPeak(t *testing.T) {
	s, _, _ := newTestSynth()
	s.SetParam("attack", 0.1, 0)
	s.NoteOn(60, 64, 0)
	v, _ := s.pool.Active(60)
	want := 64.0 / 127
	if got := v.amp.Gain().ValueAt(0.1); math.Abs(got-want) > 1e-9 {
		t.Fatalf("peak = %v, want %v", got, want)
	}
}

func TestTeardownRunsThroughScheduler(t *testing.T) {
	s, _, sched := newTestSynth()
	s.NoteOn(60, 100, 0)
	v, _ := s.pool.Active(60)
	s.NoteOff(60, 0.1)
	if s.ActiveVoices() != 0 || s.SoundingVoices() != 1 {
		t.Fatalf("after note off active=%d sounding=%d", s.ActiveVoices(), s.SoundingVoices())
	}
	sched.Tick(0.2)
	if v.Destroyed() {
		t.Fatalf("voice destroyed before its release tail ended")
	}
	sched.Tick(0.5)
	if !v.Destroyed() || s.SoundingVoices() != 0 {
		t.Fatalf("voice not torn down: destroyed=%v sounding=%d", v.Destroyed(), s.SoundingVoices())
	}
	if v.amp.Connected() || v.osc1.Connected() {
		t.Fatalf("voice nodes still connected")
	}
}

func TestDisposeTwice(t *testing.T) {
	s, _, _ := newTestSynth()
	s.NoteOn(60, 100, 0)
	s.NoteOn(64, 100, 0)
	s.Dispose()
	s.Dispose()
	if s.ActiveVoices() != 0 || s.SoundingVoices() != 0 {
		t.Fatalf("voices after dispose: active=%d sounding=%d", s.ActiveVoices(), s.SoundingVoices())
	}
	s.NoteOn(60, 100, 0)
	if s.ActiveVoices() != 0 {
		t.Fatalf("note on after dispose allocated a voice")
	}
}

func TestPresetRoundTrip(t *testing.T) {
	s, _, _ := newTestSynth()
	s.SetParam("filterCutoff", 1234, 0)
	s.SetParam("lfoDestination", 2, 0)
	s.SetParam("lfoDepth", 0.4, 0)
	s.SetParam("detune", 500, 0) // clamped to 100

	before := s.Preset()
	if err := s.LoadPreset(before); err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	after := s.Preset()
	for name, want := range before.Params {
		got, ok := s.Param(name)
		if !ok || got != want || after.Params[name] != want {
			t.Fatalf("param %s = %v, want %v\n%s", name, got, want, spew.Sdump(before, after))
		}
	}
	if v, _ := s.Param("detune"); v != 100 {
		t.Fatalf("detune = %v, want clamped 100", v)
	}
}

func TestPresetMismatch(t *testing.T) {
	s, _, _ := newTestSynth()
	err := s.LoadPreset(instrument.Preset{Type: instrument.TypeFM, Params: map[string]float64{"volume": 1}})
	if !errors.Is(err, instrument.ErrPresetMismatch) {
		t.Fatalf("err = %v, want ErrPresetMismatch", err)
	}
	if v, _ := s.Param("volume"); v != 0.5 {
		t.Fatalf("volume changed to %v by rejected preset", v)
	}
}

func TestUnknownParamIsNoop(t *testing.T) {
	s, _, _ := newTestSynth()
	before := s.Preset().Params
	s.SetParam("wobble", 3, 0)
	if _, ok := s.Param("wobble"); ok {
		t.Fatalf("unknown param reported as present")
	}
	after := s.Preset().Params
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("param %s changed from %v to %v", k, v, after[k])
		}
	}
}

func TestLiveParamUpdate(t *testing.T) {
	s, _, _ := newTestSynth()
	s.NoteOn(60, 100, 0)
	v, _ := s.pool.Active(60)
	s.SetParam("oscMix", 1, 0.25)
	if got := v.mix2.Gain().ValueAt(0.3); got != 1 {
		t.Fatalf("osc2 level = %v, want 1", got)
	}
	if got := v.mix1.Gain().ValueAt(0.3); got != 0 {
		t.Fatalf("osc1 level = %v, want 0", got)
	}
}

func TestSharedLFOFollowsVoices(t *testing.T) {
	s, _, sched := newTestSynth()
	s.SetParam("lfoDestination", 1, 0)
	s.SetParam("lfoDepth", 0.5, 0)
	s.NoteOn(60, 100, 0)
	s.NoteOn(67, 100, 0)
	if n := s.lfo.Targets(); n != 4 {
		t.Fatalf("LFO targets = %d, want 4", n)
	}
	s.AllNotesOff(0.1)
	sched.Tick(1)
	if n := s.lfo.Targets(); n != 0 {
		t.Fatalf("LFO targets after teardown = %d, want 0", n)
	}

	first := s.lfo
	s.SetParam("lfoRate", 9, 1)
	if s.lfo != first || s.lfo.Rate() != 9 {
		t.Fatalf("rate change should keep the instrument LFO and recreate its oscillator")
	}
}

func TestRendersAudio(t *testing.T) {
	s, ctx, _ := newTestSynth()
	s.Output().Connect(ctx.Destination())
	s.NoteOn(69, 127, 0)
	buf := make([]float32, 4096)
	ctx.Process(buf)
	var energy float64
	for _, x := range buf {
		energy += math.Abs(float64(x))
	}
	if energy == 0 {
		t.Fatalf("expected non-zero audio energy")
	}
}
