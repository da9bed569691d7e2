// Package clock turns the graph's render callback into a periodic tick.
package clock

import (
	"sync"

	"github.com/pion/logging"
)

// DefaultIntervalFrames is one render quantum.
const DefaultIntervalFrames = 128

// Source reports each rendered quantum together with the new hardware time.
type Source interface {
	OnQuantum(fn func(now float64)) (cancel func())
}

type subscriber struct {
	id int
	fn func(now float64)
}

// Clock emits tick(now) every interval frames while its source renders. When
// the source stops rendering (a suspended context) ticks simply stop.
type Clock struct {
	mu       sync.Mutex
	src      Source
	every    int
	frames   int
	count    int
	subs     []subscriber
	nextID   int
	detach   func()
	log      logging.LeveledLogger
	lastTick float64
}

// New creates a clock that ticks once per intervalFrames. The interval is
// rounded up to whole render quanta of quantumFrames.
func New(src Source, intervalFrames, quantumFrames int, log logging.LeveledLogger) *Clock {
	if intervalFrames <= 0 {
		intervalFrames = DefaultIntervalFrames
	}
	if quantumFrames <= 0 {
		quantumFrames = DefaultIntervalFrames
	}
	every := (intervalFrames + quantumFrames - 1) / quantumFrames
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("clock")
	}
	return &Clock{src: src, every: every, frames: every * quantumFrames, log: log}
}

// Start attaches to the source. Calling Start twice is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detach != nil {
		return
	}
	c.count = 0
	c.detach = c.src.OnQuantum(c.onQuantum)
	c.log.Debugf("clock started, tick every %d quanta", c.every)
}

// Stop detaches from the source. Idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()
	if detach != nil {
		detach()
		c.log.Debug("clock stopped")
	}
}

// Subscribe registers fn for every tick. The returned func unsubscribes.
func (c *Clock) Subscribe(fn func(now float64)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// IntervalFrames is the tick interval after rounding to whole quanta.
func (c *Clock) IntervalFrames() int { return c.frames }

// LastTick is the hardware time of the most recent tick.
func (c *Clock) LastTick() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

func (c *Clock) onQuantum(now float64) {
	c.mu.Lock()
	c.count++
	if c.count < c.every {
		c.mu.Unlock()
		return
	}
	c.count = 0
	c.lastTick = now
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(now)
	}
}
