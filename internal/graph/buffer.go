package graph

import "math"

// Buffer is decoded mono audio at its own sample rate.
type Buffer struct {
	data       []float32
	sampleRate float64
}

func NewBuffer(data []float32, sampleRate float64) *Buffer {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Buffer{data: data, sampleRate: sampleRate}
}

func (b *Buffer) Len() int            { return len(b.data) }
func (b *Buffer) SampleRate() float64 { return b.sampleRate }
func (b *Buffer) Data() []float32     { return b.data }
func (b *Buffer) Duration() float64   { return float64(len(b.data)) / b.sampleRate }

// BufferSource plays a Buffer once, or loops a region of it.
type BufferSource struct {
	node
	buffer       *Buffer
	playbackRate *Param
	loop         bool
	loopStart    float64
	loopEnd      float64
	started      bool
	startT       float64
	offset       float64
	stopT        float64
	pos          float64 // read position in buffer frames
	playing      bool
	ended        bool
}

func (c *Context) NewBufferSource(b *Buffer) *BufferSource {
	s := &BufferSource{buffer: b, stopT: math.Inf(1)}
	s.init(c, s)
	s.playbackRate = newParam(c, 1, 0, 64)
	return s
}

func (s *BufferSource) PlaybackRate() *Param { return s.playbackRate }

// SetLoop enables looping between start and end seconds. end <= start loops
// the whole buffer.
func (s *BufferSource) SetLoop(enabled bool, start, end float64) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.loop = enabled
	s.loopStart = start
	s.loopEnd = end
}

// Start begins playback at time when from offset seconds into the buffer.
// A positive duration stops playback after that many seconds.
func (s *BufferSource) Start(when, offset, duration float64) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.started {
		return
	}
	if offset < 0 {
		offset = 0
	}
	s.started = true
	s.startT = when
	s.offset = offset
	if duration > 0 && when+duration < s.stopT {
		s.stopT = when + duration
	}
}

func (s *BufferSource) Stop(t float64) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if t < s.stopT {
		s.stopT = t
	}
}

// Ended reports whether playback reached the buffer end or the stop time.
func (s *BufferSource) Ended() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.ended || s.ctx.now() >= s.stopT
}

func (s *BufferSource) process(q int64, t0 float64, _, out []float64) {
	rate := s.playbackRate.values(q, t0)
	sr := s.ctx.sampleRate
	if s.buffer == nil || s.buffer.Len() == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	data := s.buffer.data
	n := float64(len(data))
	step := s.buffer.sampleRate / sr
	loopStart, loopEnd := s.loopStart*s.buffer.sampleRate, s.loopEnd*s.buffer.sampleRate
	if loopEnd <= loopStart || loopEnd > n {
		loopStart, loopEnd = 0, n
	}
	for i := range out {
		t := t0 + float64(i)/sr
		if !s.started || s.ended || t < s.startT || t >= s.stopT {
			out[i] = 0
			continue
		}
		if !s.playing {
			s.playing = true
			s.pos = s.offset * s.buffer.sampleRate
		}
		if s.loop {
			for s.pos >= loopEnd {
				s.pos -= loopEnd - loopStart
			}
		} else if s.pos >= n {
			s.ended = true
			out[i] = 0
			continue
		}
		idx := int(s.pos)
		frac := s.pos - float64(idx)
		a := float64(data[idx])
		b := a
		if idx+1 < len(data) {
			b = float64(data[idx+1])
		} else if s.loop {
			b = float64(data[int(loopStart)])
		}
		out[i] = a + (b-a)*frac
		s.pos += rate[i] * step
	}
}
