// Package effects is the master bus: an ordered insert chain and a five
// band EQ applied to the rendered stereo stream before it reaches the
// device or a bounce.
package effects

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// TempoSynced effects follow the transport tempo.
type TempoSynced interface {
	SetTempo(bpm float64)
}

type Kind string

const (
	KindDelay      Kind = "delay"
	KindReverb     Kind = "reverb"
	KindCompressor Kind = "compressor"
	KindChorus     Kind = "chorus"
	KindDistortion Kind = "distortion"
)

var ErrUnknownEffect = errors.New("effects: unknown effect")

// Params are named effect settings. Missing names take defaults.
type Params map[string]float64

func (p Params) get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p Params) f32(name string, def float64) float32 { return float32(p.get(name, def)) }

// Kinds lists the effect names New accepts.
func Kinds() []Kind {
	ks := []Kind{KindDelay, KindReverb, KindCompressor, KindChorus, KindDistortion}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// New builds an effect by name.
//
//	delay:      beats (0.5), feedback (0.35), cross (0), wet (0.3)
//	reverb:     room (0.5), decay (0.7), damp (0.3), wet (0.25)
//	compressor: threshold dB (-12), ratio (4), attack ms (5), release ms (80), makeup dB (0)
//	chorus:     delay ms (15), depth ms (3), rate Hz (0.8), feedback (0.2), wet (0.4)
//	distortion: drive (4), level (0.5), tone Hz (6000), mix (1)
func New(kind Kind, sampleRate int, p Params) (Effector, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindDelay:
		return NewDelay(sampleRate, p.get("beats", 0.5), p.f32("feedback", 0.35), p.f32("cross", 0), p.f32("wet", 0.3)), nil
	case KindReverb:
		return NewReverb(sampleRate, p.f32("room", 0.5), p.f32("decay", 0.7), p.f32("damp", 0.3), p.f32("wet", 0.25)), nil
	case KindCompressor:
		return NewCompressor(sampleRate, p.get("threshold", -12), p.get("ratio", 4), p.get("attack", 5), p.get("release", 80), p.get("makeup", 0)), nil
	case KindChorus:
		return NewChorus(sampleRate, p.get("delay", 15), p.get("depth", 3), p.get("rate", 0.8), p.f32("feedback", 0.2), p.f32("wet", 0.4)), nil
	case KindDistortion:
		return NewDistortion(sampleRate, p.f32("drive", 4), p.f32("level", 0.5), p.get("tone", 6000), p.f32("mix", 1)), nil
	}
	return nil, errors.Wrapf(ErrUnknownEffect, "%q", kind)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ringBuffer is a mono delay line.
type ringBuffer struct {
	buf []float32
	pos int
}

func newRing(n int) ringBuffer {
	if n < 1 {
		n = 1
	}
	return ringBuffer{buf: make([]float32, n)}
}

// at reads the sample written d frames ago, 1 <= d <= len.
func (r *ringBuffer) at(d int) float32 {
	i := r.pos - d
	for i < 0 {
		i += len(r.buf)
	}
	return r.buf[i]
}

// frac reads d frames ago with linear interpolation.
func (r *ringBuffer) frac(d float32) float32 {
	i := int(d)
	f := d - float32(i)
	return r.at(i)*(1-f) + r.at(i+1)*f
}

func (r *ringBuffer) write(v float32) {
	r.buf[r.pos] = v
	r.pos++
	if r.pos >= len(r.buf) {
		r.pos = 0
	}
}

func (r *ringBuffer) clear() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.pos = 0
}
