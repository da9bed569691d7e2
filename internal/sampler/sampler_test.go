package sampler

import (
	"math"
	"testing"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/instrument"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/davecgh/go-spew/spew"
	"github.com/pion/logging"
)

func newTestSampler() (*Sampler, *graph.Context) {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	ctx := graph.NewContext(48000)
	sched := scheduler.New(0.1, f.NewLogger("scheduler"))
	return New(instrument.Options{Context: ctx, Scheduler: sched, Logger: f.NewLogger("sampler")}), ctx
}

func tone(n int) *graph.Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.05))
	}
	return graph.NewBuffer(data, 48000)
}

func TestNearestZonePitchShift(t *testing.T) {
	s, _ := newTestSampler()
	s.SetZone(60, tone(4800))
	s.NoteOn(64, 100, 0)

	v, ok := s.pool.Active(64)
	if !ok {
		t.Fatalf("no voice for note 64")
	}
	if v.root != 60 {
		t.Fatalf("root = %d, want 60", v.root)
	}
	if got := v.src.PlaybackRate().Value(); math.Abs(got-1.2599) > 1e-4 {
		t.Fatalf("playback rate = %v, want ~1.2599", got)
	}
}

func TestNearestTieGoesToLowerRoot(t *testing.T) {
	s, _ := newTestSampler()
	s.SetZone(60, tone(10))
	s.SetZone(64, tone(10))
	tests := []struct {
		note, want int
	}{
		{62, 60},
		{63, 64},
		{30, 60},
		{100, 64},
		{64, 64},
	}
	for _, tt := range tests {
		if got, _ := s.Nearest(tt.note); got != tt.want {
			t.Errorf("Nearest(%d) = %d, want %d", tt.note, got, tt.want)
		}
	}
}

func TestMissingSampleIsSilentNoop(t *testing.T) {
	s, _ := newTestSampler()
	s.NoteOn(60, 100, 0)
	if s.ActiveVoices() != 0 {
		t.Fatalf("ActiveVoices = %d, want 0", s.ActiveVoices())
	}
	s.NoteOff(60, 0)
}

func TestLoopRegionSurvivesRelease(t *testing.T) {
	s, ctx := newTestSampler()
	s.SetZone(60, tone(256))
	s.SetParam("loop", 1, 0)
	s.SetParam("release", 1, 0)
	s.Output().Connect(ctx.Destination())
	s.NoteOn(60, 127, 0)
	v, _ := s.pool.Active(60)
	s.NoteOff(60, 0.01)

	// The buffer is far shorter than the release tail; looping keeps it sounding.
	ctx.RenderQuanta(40)
	if v.src.Ended() {
		t.Fatalf("looped source ended during release")
	}
	if !v.Released {
		t.Fatalf("voice not released")
	}
}

func TestRetriggerAndDispose(t *testing.T) {
	s, _ := newTestSampler()
	s.SetZone(60, tone(100))
	s.NoteOn(60, 100, 0)
	s.NoteOn(60, 90, 0)
	if s.ActiveVoices() != 1 || s.SoundingVoices() != 2 {
		t.Fatalf("active=%d sounding=%d", s.ActiveVoices(), s.SoundingVoices())
	}
	s.Dispose()
	s.Dispose()
	if s.SoundingVoices() != 0 {
		t.Fatalf("sounding after dispose = %d", s.SoundingVoices())
	}
}

func TestPresetRoundTrip(t *testing.T) {
	s, _ := newTestSampler()
	s.SetParam("release", 1.25, 0)
	s.SetParam("loop", 1, 0)
	s.SetParam("loopEnd", 0.5, 0)
	s.SetParam("transpose", 99, 0) // clamped to 48

	before := s.Preset()
	if err := s.LoadPreset(before); err != nil {
		t.Fatalf("LoadPreset: %v", err)
	}
	after := s.Preset()
	if len(before.Params) != len(specs) {
		t.Fatalf("preset has %d params, want %d", len(before.Params), len(specs))
	}
	for name, want := range before.Params {
		got, ok := s.Param(name)
		if !ok || got != want || after.Params[name] != want {
			t.Fatalf("param %s = %v, want %v\n%s", name, got, want, spew.Sdump(before, after))
		}
	}
	if v, _ := s.Param("transpose"); v != 48 {
		t.Fatalf("transpose = %v, want clamped 48", v)
	}
	if err := s.LoadPreset(instrument.Preset{Type: instrument.TypeDrum}); err == nil {
		t.Fatalf("drum preset accepted by sampler")
	}
}
