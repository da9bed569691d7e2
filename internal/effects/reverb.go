package effects

// Comb delay ratios relative to the room size, chosen to avoid shared
// resonances.
var (
	combRatios    = [4]float32{1, 1.117, 1.271, 1.437}
	allpassRatios = [2]float32{0.347, 0.213}
)

// Reverb is a Schroeder network: four damped feedback combs in parallel
// into two series allpasses, fed with the mono sum.
type Reverb struct {
	combs   [4]comb
	allpass [2]ringBuffer
	wet     float32
}

type comb struct {
	line  ringBuffer
	size  int
	fb    float32
	damp  float32
	store float32
}

// NewReverb sizes the network from room (0..1), sets the tail with decay
// (0..1) and the high-frequency loss per pass with damp (0..1).
func NewReverb(sampleRate int, room, decay, damp, wet float32) *Reverb {
	base := int(float32(sampleRate) * clamp(room, 0.01, 1) * 0.05)
	if base < 10 {
		base = 10
	}
	r := &Reverb{wet: clamp(wet, 0, 1)}
	for i := range r.combs {
		size := int(float32(base) * combRatios[i])
		r.combs[i] = comb{line: newRing(size), size: size, fb: clamp(decay, 0, 0.95), damp: clamp(damp, 0, 1)}
	}
	for i := range r.allpass {
		r.allpass[i] = newRing(int(float32(base) * allpassRatios[i]))
	}
	return r
}

func (c *comb) process(in float32) float32 {
	out := c.line.at(c.size)
	c.store = out*(1-c.damp) + c.store*c.damp
	c.line.write(in + c.store*c.fb)
	return out
}

func (r *Reverb) Process(l, rt float32) (float32, float32) {
	in := (l + rt) * 0.5
	var tail float32
	for i := range r.combs {
		tail += r.combs[i].process(in)
	}
	tail *= 0.25
	for i := range r.allpass {
		ap := &r.allpass[i]
		delayed := ap.at(len(ap.buf))
		ap.write(tail + delayed*0.5)
		tail = delayed - tail
	}
	return l + (tail-l)*r.wet, rt + (tail-rt)*r.wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		r.combs[i].line.clear()
		r.combs[i].store = 0
	}
	for i := range r.allpass {
		r.allpass[i].clear()
	}
}
