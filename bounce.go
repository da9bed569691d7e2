package dawcore

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	intgraph "github.com/cbegin/dawcore/internal/graph"
)

const bounceBitDepth = 16

// RenderSamples renders seconds of interleaved stereo audio offline,
// running every tick due along the way.
func (e *Engine) RenderSamples(seconds float64) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOffline(); err != nil {
		return nil, err
	}
	frames := e.quantaFor(seconds) * intgraph.RenderQuantum
	out := make([]float32, frames*2)
	// One quantum per Process call keeps ticks on quantum boundaries.
	for i := 0; i < len(out); i += intgraph.RenderQuantum * 2 {
		e.bus.Process(out[i : i+intgraph.RenderQuantum*2])
	}
	return out, nil
}

// Bounce renders seconds of the session from the current position and
// writes a 16-bit stereo WAV to w. The transport plays for the duration
// and is paused afterwards.
func (e *Engine) Bounce(w io.WriteSeeker, seconds float64) error {
	e.mu.Lock()
	err := e.checkOffline()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.Play()
	samples, err := e.RenderSamples(seconds)
	e.Pause()
	if err != nil {
		return err
	}
	return EncodeWAV(w, samples, e.cfg.sampleRate)
}

// EncodeWAV writes interleaved stereo float samples as 16-bit PCM.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, bounceBitDepth, 2, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 2,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bounceBitDepth,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrap(err, "encode wav")
	}
	return errors.Wrap(enc.Close(), "finish wav")
}
