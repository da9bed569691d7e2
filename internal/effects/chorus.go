package effects

import "math"

// Chorus mixes in a copy delayed by a sine-modulated time. The right
// channel's modulation runs a quarter cycle behind the left for width.
type Chorus struct {
	left, right ringBuffer
	center      float32 // frames
	depth       float32 // frames
	step        float64 // radians per frame
	phase       float64
	feedback    float32
	wet         float32
}

func NewChorus(sampleRate int, delayMs, depthMs, rateHz float64, feedback, wet float32) *Chorus {
	perMs := float64(sampleRate) / 1000
	center := float32(delayMs * perMs)
	depth := float32(depthMs * perMs)
	if depth > center-1 {
		depth = center - 1
	}
	if depth < 0 {
		depth = 0
	}
	n := int(center+depth) + 3
	return &Chorus{
		left:     newRing(n),
		right:    newRing(n),
		center:   center,
		depth:    depth,
		step:     2 * math.Pi * rateHz / float64(sampleRate),
		feedback: clamp(feedback, 0, 0.9),
		wet:      clamp(wet, 0, 1),
	}
}

func (c *Chorus) Process(l, r float32) (float32, float32) {
	dl := c.center + c.depth*float32(math.Sin(c.phase))
	dr := c.center + c.depth*float32(math.Cos(c.phase))
	c.phase += c.step
	if c.phase >= 2*math.Pi {
		c.phase -= 2 * math.Pi
	}
	echoL := c.left.frac(max(dl, 1))
	echoR := c.right.frac(max(dr, 1))
	c.left.write(l + echoL*c.feedback)
	c.right.write(r + echoR*c.feedback)
	return l + (echoL-l)*c.wet, r + (echoR-r)*c.wet
}

func (c *Chorus) Reset() {
	c.left.clear()
	c.right.clear()
	c.phase = 0
}
