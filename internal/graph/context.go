// Package graph is a small pull-based signal graph with Web-Audio-like
// semantics: nodes are connected into a tree that ends at the context's
// destination, parameters carry absolute-time automation, and the number of
// frames rendered so far is the hardware clock every other package schedules
// against.
//
// All node and parameter methods lock the owning Context, so they may be
// called from any goroutine. Rendering holds the same lock for one render
// quantum at a time; quantum observers run after the lock is released.
package graph

import (
	"math"
	"sync"
)

// RenderQuantum is the number of frames rendered per graph pass.
const RenderQuantum = 128

type State int

const (
	StateRunning State = iota
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	default:
		return "closed"
	}
}

type observer struct {
	id int
	fn func(now float64)
}

type Context struct {
	mu         sync.Mutex
	sampleRate float64
	frame      int64
	quantum    int64
	state      State
	dest       *Gain

	renderMu sync.Mutex // serializes pullers; guards pending/out
	pending  []float32
	out      []float32

	obsMu     sync.Mutex
	observers []observer
	nextObs   int
}

// NewContext creates a running context. sampleRate must be positive.
func NewContext(sampleRate int) *Context {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	c := &Context{
		sampleRate: float64(sampleRate),
		out:        make([]float32, RenderQuantum),
	}
	c.dest = newGain(c, 1)
	return c
}

func (c *Context) SampleRate() float64 { return c.sampleRate }

// CurrentTime is the hardware clock in seconds: the start time of the next
// quantum to be rendered.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Context) now() float64 {
	return float64(c.frame) / c.sampleRate
}

// Destination is the master gain every audible node must eventually reach.
func (c *Context) Destination() *Gain { return c.dest }

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspend stops the clock. Process keeps returning silence so the device
// stays fed, but no frames are rendered and no quantum observers fire.
func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = StateSuspended
	}
}

func (c *Context) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSuspended {
		c.state = StateRunning
	}
}

// Close permanently stops rendering. Idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.obsMu.Lock()
	c.observers = nil
	c.obsMu.Unlock()
}

// Reset rewinds the clock to zero. Scheduled automation and source start
// times are absolute, so callers must discard the graph they built before.
func (c *Context) Reset() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = 0
	c.pending = nil
}

// OnQuantum registers fn to run after every rendered quantum with the new
// current time. The returned func removes the observer.
func (c *Context) OnQuantum(fn func(now float64)) (cancel func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observer{id: id, fn: fn})
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// Process fills dst with interleaved stereo frames. It satisfies the
// SampleSource contract of the audio output.
func (c *Context) Process(dst []float32) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	frames := len(dst) / 2
	i := 0
	for i < frames {
		if len(c.pending) == 0 {
			if !c.renderQuantum() {
				for k := i * 2; k < len(dst); k++ {
					dst[k] = 0
				}
				return
			}
		}
		n := frames - i
		if n > len(c.pending) {
			n = len(c.pending)
		}
		for k := 0; k < n; k++ {
			s := c.pending[k]
			dst[(i+k)*2] = s
			dst[(i+k)*2+1] = s
		}
		c.pending = c.pending[n:]
		i += n
	}
}

// RenderQuanta renders n quanta and discards the audio. Used by offline
// callers that only need the clock to advance.
func (c *Context) RenderQuanta(n int) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	for ; n > 0; n-- {
		c.pending = nil
		if !c.renderQuantum() {
			return
		}
	}
	c.pending = nil
}

func (c *Context) renderQuantum() bool {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false
	}
	c.quantum++
	t0 := c.now()
	mix := c.dest.pull(c.quantum, t0)
	for i, v := range mix {
		if math.IsNaN(v) {
			v = 0
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		c.out[i] = float32(v)
	}
	c.frame += RenderQuantum
	now := c.now()
	c.mu.Unlock()

	c.pending = c.out[:RenderQuantum]
	c.obsMu.Lock()
	obs := make([]observer, len(c.observers))
	copy(obs, c.observers)
	c.obsMu.Unlock()
	for _, o := range obs {
		o.fn(now)
	}
	return true
}
