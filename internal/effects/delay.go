package effects

const maxDelaySeconds = 4

// Delay is a stereo echo whose time is a number of beats, so it stays on
// the grid when the tempo changes. Cross feeds each side's echo into the
// other for ping-pong repeats.
type Delay struct {
	left, right ringBuffer
	sampleRate  int
	beats       float64
	frames      int
	feedback    float32
	cross       float32
	wet         float32
}

func NewDelay(sampleRate int, beats float64, feedback, cross, wet float32) *Delay {
	n := sampleRate * maxDelaySeconds
	d := &Delay{
		left:       newRing(n),
		right:      newRing(n),
		sampleRate: sampleRate,
		beats:      beats,
		feedback:   clamp(feedback, 0, 0.95),
		cross:      clamp(cross, 0, 1),
		wet:        clamp(wet, 0, 1),
	}
	d.SetTempo(120)
	return d
}

// SetTempo recomputes the delay length. Lengths past the buffer clamp.
func (d *Delay) SetTempo(bpm float64) {
	if bpm <= 0 {
		return
	}
	frames := int(d.beats * 60 / bpm * float64(d.sampleRate))
	if frames < 1 {
		frames = 1
	}
	if frames > len(d.left.buf) {
		frames = len(d.left.buf)
	}
	d.frames = frames
}

// Frames is the current delay length.
func (d *Delay) Frames() int { return d.frames }

func (d *Delay) Process(l, r float32) (float32, float32) {
	echoL := d.left.at(d.frames)
	echoR := d.right.at(d.frames)
	keep := d.feedback * (1 - d.cross)
	swap := d.feedback * d.cross
	d.left.write(l + echoL*keep + echoR*swap)
	d.right.write(r + echoR*keep + echoL*swap)
	return l + (echoL-l)*d.wet, r + (echoR-r)*d.wet
}

func (d *Delay) Reset() {
	d.left.clear()
	d.right.clear()
}
