package timing

import (
	"math"
	"testing"
)

func TestBeatsSecondsScenario(t *testing.T) {
	if got := BeatsToSeconds(16, 120); got != 8 {
		t.Fatalf("BeatsToSeconds(16, 120) = %v, want 8", got)
	}
	if got := SecondsToBeats(8, 120); got != 16 {
		t.Fatalf("SecondsToBeats(8, 120) = %v, want 16", got)
	}
}

func TestBeatsSecondsRoundTrip(t *testing.T) {
	for bpm := MinTempo; bpm <= MaxTempo; bpm += 7.3 {
		for _, s := range []float64{0, 0.001, 0.5, 1, 3.75, 61.2, 3600} {
			got := BeatsToSeconds(SecondsToBeats(s, bpm), bpm)
			if math.Abs(got-s) > 1e-9*math.Max(1, s) {
				t.Fatalf("round trip at %v bpm: got %v, want %v", bpm, got, s)
			}
		}
	}
}

func TestClampTempo(t *testing.T) {
	for _, tc := range []struct {
		in, want float64
	}{
		{10, 20},
		{20, 20},
		{133.5, 133.5},
		{301, 300},
		{math.NaN(), DefaultTempo},
	} {
		if got := ClampTempo(tc.in); got != tc.want {
			t.Errorf("ClampTempo(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBarBeat(t *testing.T) {
	for _, tc := range []struct {
		name      string
		pos       float64
		ts        TimeSignature
		bar, beat int
	}{
		{"origin", 0, CommonTime, 1, 1},
		{"beat 2", 1, CommonTime, 1, 2},
		{"bar 2", 4, CommonTime, 2, 1},
		{"just below bar", 3.9999999999, CommonTime, 2, 1},
		{"6/8 eighths", 1.5, TimeSignature{6, 8}, 1, 4},
		{"6/8 bar 2", 3, TimeSignature{6, 8}, 2, 1},
		{"3/4", 5, TimeSignature{3, 4}, 2, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bar, beat := BarBeat(tc.pos, tc.ts)
			if bar != tc.bar || beat != tc.beat {
				t.Fatalf("BarBeat(%v) = %d.%d, want %d.%d", tc.pos, bar, beat, tc.bar, tc.beat)
			}
		})
	}
}

func TestTimeSignatureValid(t *testing.T) {
	if !(TimeSignature{7, 8}).Valid() {
		t.Fatal("7/8 should be valid")
	}
	if (TimeSignature{4, 3}).Valid() {
		t.Fatal("4/3 should be invalid")
	}
	if (TimeSignature{0, 4}).Valid() {
		t.Fatal("0/4 should be invalid")
	}
}

func TestPlaybackRate(t *testing.T) {
	if got := PlaybackRate(64, 60); math.Abs(got-1.2599) > 1e-4 {
		t.Fatalf("PlaybackRate(64, 60) = %v, want ~1.2599", got)
	}
	if got := NoteFrequency(69); got != 440 {
		t.Fatalf("NoteFrequency(69) = %v, want 440", got)
	}
}
