// Package audio connects a rendering graph to the output device. The device
// callback pulls frames, which is what advances the engine clock in
// realtime mode.
package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"
)

// Source renders interleaved stereo float32 frames.
type Source interface {
	Process(dst []float32)
}

// StreamReader adapts a Source to the byte stream ebiten's F32 player reads.
type StreamReader struct {
	mu     sync.Mutex
	source Source
	buf    []float32
	closed bool
}

func NewStreamReader(source Source) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Output is an open device stream.
type Output struct {
	player *ebitaudio.Player
	reader *StreamReader
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// ebiten allows one audio context per process, so every Output shares it.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, errors.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Open starts pulling from source at sampleRate. A positive bufferSize
// bounds device latency.
func Open(sampleRate int, source Source, bufferSize time.Duration) (*Output, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, errors.Wrap(err, "open audio player")
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	pl.Play()
	return &Output{player: pl, reader: reader}, nil
}

func (o *Output) Pause()          { o.player.Pause() }
func (o *Output) Resume()         { o.player.Play() }
func (o *Output) IsPlaying() bool { return o.player.IsPlaying() }

// Position is what the listener has actually heard.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return errors.Wrap(err, "close audio player")
	}
	return o.reader.Close()
}
