// Package timing converts between beats, bars and seconds. Beats are quarter
// notes; all functions are pure.
package timing

import "math"

const (
	MinTempo     = 20.0
	MaxTempo     = 300.0
	DefaultTempo = 120.0
)

// TimeSignature is a numerator over a power-of-two denominator (1..16).
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// CommonTime is 4/4.
var CommonTime = TimeSignature{Numerator: 4, Denominator: 4}

// Valid reports whether the signature can be used by the transport.
func (ts TimeSignature) Valid() bool {
	if ts.Numerator < 1 || ts.Numerator > 32 {
		return false
	}
	switch ts.Denominator {
	case 1, 2, 4, 8, 16:
		return true
	}
	return false
}

// BeatUnit is the length of one signature beat in quarter notes (4/denominator).
func (ts TimeSignature) BeatUnit() float64 {
	if ts.Denominator <= 0 {
		return 1
	}
	return 4.0 / float64(ts.Denominator)
}

// BeatsPerBar is the bar length in quarter notes.
func (ts TimeSignature) BeatsPerBar() float64 {
	return float64(ts.Numerator) * ts.BeatUnit()
}

// ClampTempo limits bpm to [MinTempo, MaxTempo]. NaN maps to DefaultTempo.
func ClampTempo(bpm float64) float64 {
	if math.IsNaN(bpm) {
		return DefaultTempo
	}
	if bpm < MinTempo {
		return MinTempo
	}
	if bpm > MaxTempo {
		return MaxTempo
	}
	return bpm
}

func BeatsToSeconds(beats, bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	return beats * 60 / bpm
}

func SecondsToBeats(seconds, bpm float64) float64 {
	return seconds * bpm / 60
}

func BarsToBeats(bars float64, ts TimeSignature) float64 {
	return bars * ts.BeatsPerBar()
}

func BeatsToBars(beats float64, ts TimeSignature) float64 {
	bpb := ts.BeatsPerBar()
	if bpb <= 0 {
		return 0
	}
	return beats / bpb
}

// BarBeat returns the 1-based bar and signature beat containing position.
func BarBeat(position float64, ts TimeSignature) (bar, beat int) {
	if position < 0 {
		position = 0
	}
	bpb := ts.BeatsPerBar()
	if bpb <= 0 {
		return 1, 1
	}
	// Nudge by a tiny epsilon so positions computed as 3.9999999 land on beat 4.
	const eps = 1e-9
	barIdx := math.Floor(position/bpb + eps)
	within := position - barIdx*bpb
	if within < 0 {
		within = 0
	}
	beatIdx := math.Floor(within/ts.BeatUnit() + eps)
	if beatIdx >= float64(ts.Numerator) {
		beatIdx = float64(ts.Numerator - 1)
	}
	return int(barIdx) + 1, int(beatIdx) + 1
}

// NoteFrequency returns the equal-tempered frequency of a MIDI note (A4 = 440Hz).
func NoteFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

// PlaybackRate is the resampling ratio that shifts a sample recorded at root to note.
func PlaybackRate(note, root int) float64 {
	return math.Pow(2, float64(note-root)/12)
}

// Velocity maps a MIDI velocity (0..127) to a linear gain in [0, 1].
func Velocity(v int) float64 {
	if v <= 0 {
		return 0
	}
	if v >= 127 {
		return 1
	}
	return float64(v) / 127
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
