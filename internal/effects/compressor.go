package effects

import "math"

// Compressor is a stereo-linked bus compressor: one envelope follows the
// louder channel and the same gain applies to both, so the image does not
// shift.
type Compressor struct {
	threshold float64 // linear
	slope     float64 // 1/ratio - 1
	attack    float64 // per-frame coefficients
	release   float64
	makeup    float32
	env       float64
}

func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float64) *Compressor {
	if ratio < 1 {
		ratio = 1
	}
	return &Compressor{
		threshold: dbToLinear(thresholdDB),
		slope:     1/ratio - 1,
		attack:    timeCoeff(attackMs, sampleRate),
		release:   timeCoeff(releaseMs, sampleRate),
		makeup:    float32(dbToLinear(makeupDB)),
	}
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func timeCoeff(ms float64, sampleRate int) float64 {
	if ms <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(ms*float64(sampleRate)/1000))
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	peak := math.Max(math.Abs(float64(l)), math.Abs(float64(r)))
	coeff := c.release
	if peak > c.env {
		coeff = c.attack
	}
	c.env += coeff * (peak - c.env)
	g := float32(c.gain()) * c.makeup
	return l * g, r * g
}

// GainReduction is the current gain below unity, before makeup.
func (c *Compressor) GainReduction() float64 { return 1 - c.gain() }

func (c *Compressor) gain() float64 {
	if c.env <= c.threshold {
		return 1
	}
	return math.Pow(c.env/c.threshold, c.slope)
}

func (c *Compressor) Reset() { c.env = 0 }
