package effects

import (
	"math"
	"sync/atomic"
)

const eqBands = 5

// EQ5Band splits the signal at 200 Hz, 800 Hz, 2.5 kHz and 8 kHz with
// cascaded one-pole lowpasses and sums the bands back with per-band gains.
// Gains are float32 bit patterns so the audio goroutine reads them without
// locking.
type EQ5Band struct {
	gains  [eqBands]atomic.Uint32
	alphas [eqBands - 1]float32
	lpL    [eqBands - 1]float32
	lpR    [eqBands - 1]float32
}

var crossovers = [eqBands - 1]float64{200, 800, 2500, 8000}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1.0 / float64(sampleRate)
	for i, hz := range crossovers {
		rc := 1.0 / (2.0 * math.Pi * hz)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// Bands is the number of EQ bands.
func (eq *EQ5Band) Bands() int { return eqBands }

// SetGain sets a band's linear gain. 1 is unity, 2 is about +6 dB.
// Out-of-range bands are ignored.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band < 0 || band >= eqBands {
		return
	}
	if gain < 0 {
		gain = 0
	}
	eq.gains[band].Store(math.Float32bits(gain))
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band < 0 || band >= eqBands {
		return 1
	}
	return math.Float32frombits(eq.gains[band].Load())
}

// Flat reports whether every band is at unity, in which case the bus skips
// the EQ.
func (eq *EQ5Band) Flat() bool {
	for i := range eq.gains {
		if math.Float32frombits(eq.gains[i].Load()) != 1 {
			return false
		}
	}
	return true
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	var outL, outR float32
	for i := 0; i < eqBands-1; i++ {
		eq.lpL[i] += eq.alphas[i] * (l - eq.lpL[i])
		eq.lpR[i] += eq.alphas[i] * (r - eq.lpR[i])
		g := math.Float32frombits(eq.gains[i].Load())
		outL += eq.lpL[i] * g
		outR += eq.lpR[i] * g
		l -= eq.lpL[i]
		r -= eq.lpR[i]
	}
	g := math.Float32frombits(eq.gains[eqBands-1].Load())
	return outL + l*g, outR + r*g
}

func (eq *EQ5Band) Reset() {
	eq.lpL = [eqBands - 1]float32{}
	eq.lpR = [eqBands - 1]float32{}
}
