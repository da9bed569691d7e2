package drum

import (
	"math"
	"math/rand"

	"github.com/cbegin/dawcore/internal/graph"
)

// General MIDI percussion notes used by the built-in kit.
const (
	Kick       = 36
	Clap       = 39
	Snare      = 38
	ClosedHat  = 42
	OpenHat    = 46
	defaultVel = 100
)

// SynthKit renders a small synthesized kit so a drum machine is playable
// without loading samples.
func SynthKit(sampleRate int) map[int]*graph.Buffer {
	sr := float64(sampleRate)
	rng := rand.New(rand.NewSource(1))
	return map[int]*graph.Buffer{
		Kick:      graph.NewBuffer(kick(sr), sr),
		Snare:     graph.NewBuffer(snare(sr, rng), sr),
		ClosedHat: graph.NewBuffer(hat(sr, rng, 0.05), sr),
		OpenHat:   graph.NewBuffer(hat(sr, rng, 0.3), sr),
		Clap:      graph.NewBuffer(clap(sr, rng), sr),
	}
}

func kick(sr float64) []float32 {
	n := int(0.4 * sr)
	out := make([]float32, n)
	phase := 0.0
	for i := range out {
		t := float64(i) / sr
		freq := 50 + 100*math.Exp(-t*30)
		phase += freq / sr
		out[i] = float32(math.Sin(2*math.Pi*phase) * math.Exp(-t*8))
	}
	return out
}

func snare(sr float64, rng *rand.Rand) []float32 {
	n := int(0.2 * sr)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / sr
		body := math.Sin(2*math.Pi*180*t) * math.Exp(-t*25)
		noise := (rng.Float64()*2 - 1) * math.Exp(-t*18)
		out[i] = float32(0.4*body + 0.6*noise)
	}
	return out
}

func hat(sr float64, rng *rand.Rand, length float64) []float32 {
	n := int(length * sr)
	out := make([]float32, n)
	prev := 0.0
	for i := range out {
		t := float64(i) / sr
		x := rng.Float64()*2 - 1
		// First difference as a crude highpass.
		hp := x - prev
		prev = x
		out[i] = float32(0.5 * hp * math.Exp(-t*4/length))
	}
	return out
}

func clap(sr float64, rng *rand.Rand) []float32 {
	n := int(0.25 * sr)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / sr
		env := math.Exp(-t * 12)
		// Three short bursts before the tail.
		for _, b := range []float64{0, 0.01, 0.02} {
			if t >= b && t < b+0.008 {
				env = math.Max(env, 1)
			}
		}
		out[i] = float32((rng.Float64()*2 - 1) * env * 0.7)
	}
	return out
}
