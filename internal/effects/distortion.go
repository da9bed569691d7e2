package effects

import "math"

// Distortion drives a tanh waveshaper and tames the added harmonics with a
// one-pole tone filter. Mix blends the result with the dry signal.
type Distortion struct {
	drive float32
	level float32
	mix   float32
	alpha float32 // 0 disables the tone filter
	toneL float32
	toneR float32
}

func NewDistortion(sampleRate int, drive, level float32, toneHz float64, mix float32) *Distortion {
	d := &Distortion{drive: max(drive, 0), level: level, mix: clamp(mix, 0, 1)}
	if toneHz > 0 && toneHz < float64(sampleRate)/2 {
		rc := 1 / (2 * math.Pi * toneHz)
		dt := 1 / float64(sampleRate)
		d.alpha = float32(dt / (rc + dt))
	}
	return d
}

func (d *Distortion) shape(x float32, state *float32) float32 {
	y := float32(math.Tanh(float64(x*d.drive))) * d.level
	if d.alpha > 0 {
		*state += d.alpha * (y - *state)
		y = *state
	}
	return y
}

func (d *Distortion) Process(l, r float32) (float32, float32) {
	wl := d.shape(l, &d.toneL)
	wr := d.shape(r, &d.toneR)
	return l + (wl-l)*d.mix, r + (wr-r)*d.mix
}

func (d *Distortion) Reset() {
	d.toneL, d.toneR = 0, 0
}
