// Package scheduler is the lookahead event queue. Events carry absolute
// hardware times; every clock tick fires, in target order, each event due
// before now+lookahead.
package scheduler

import (
	"container/heap"

	"github.com/pion/logging"
)

// DefaultLookahead is how far ahead of the clock events are fired.
const DefaultLookahead = 0.1

// Event is a pending callback. It fires at most once.
type Event struct {
	target    float64
	due       float64 // heap key; later than target for teardown events
	seq       uint64
	fn        func(firedAt float64)
	essential bool
	index     int // heap index, -1 once fired or cancelled
}

// TargetTime is the absolute hardware time the event was scheduled for.
func (e *Event) TargetTime() float64 { return e.target }

// Pending reports whether the event is still queued.
func (e *Event) Pending() bool { return e != nil && e.index >= 0 }

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *eventHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is not safe for concurrent use; the engine serializes access.
type Scheduler struct {
	queue     eventHeap
	seq       uint64
	lookahead float64
	dropped   int
	now       float64
	log       logging.LeveledLogger
}

func New(lookahead float64, log logging.LeveledLogger) *Scheduler {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("scheduler")
	}
	return &Scheduler{lookahead: lookahead, log: log}
}

func (s *Scheduler) Lookahead() float64 { return s.lookahead }

// Now is the time passed to the most recent Tick.
func (s *Scheduler) Now() float64 { return s.now }

// Schedule queues fn to fire shortly before target.
func (s *Scheduler) Schedule(target float64, fn func(firedAt float64)) *Event {
	return s.push(target, fn, false)
}

// ScheduleTeardown queues a voice or clip cleanup callback. Teardown events
// are essential and fire only once the clock has passed target, so a
// release tail is never cut short by the lookahead.
func (s *Scheduler) ScheduleTeardown(target float64, fn func(firedAt float64)) *Event {
	return s.pushAt(target, target+s.lookahead, fn, true)
}

// ScheduleEssential queues an event that is never dropped as stale and
// survives Clear. A late essential event fires on the next tick.
func (s *Scheduler) ScheduleEssential(target float64, fn func(firedAt float64)) *Event {
	return s.push(target, fn, true)
}

func (s *Scheduler) push(target float64, fn func(float64), essential bool) *Event {
	return s.pushAt(target, target, fn, essential)
}

func (s *Scheduler) pushAt(target, due float64, fn func(float64), essential bool) *Event {
	s.seq++
	e := &Event{target: target, due: due, seq: s.seq, fn: fn, essential: essential}
	heap.Push(&s.queue, e)
	return e
}

// Cancel removes e if it has not fired yet.
func (s *Scheduler) Cancel(e *Event) bool {
	if e == nil || e.index < 0 || e.index >= len(s.queue) || s.queue[e.index] != e {
		return false
	}
	heap.Remove(&s.queue, e.index)
	return true
}

// Tick fires every event due before now+lookahead. Events older than
// now-lookahead are dropped instead of fired late, unless essential.
// Callbacks may schedule more events; those fire in the same tick if due.
func (s *Scheduler) Tick(now float64) int {
	s.now = now
	horizon := now + s.lookahead
	stale := now - s.lookahead
	fired := 0
	for len(s.queue) > 0 && s.queue[0].due < horizon {
		e := heap.Pop(&s.queue).(*Event)
		if e.target < stale && !e.essential {
			s.dropped++
			s.log.Debugf("dropped stale event target=%.4f now=%.4f", e.target, now)
			continue
		}
		fired++
		e.fn(now)
	}
	return fired
}

// Pending is the number of queued events.
func (s *Scheduler) Pending() int { return len(s.queue) }

// Dropped counts stale events discarded since creation.
func (s *Scheduler) Dropped() int { return s.dropped }

// Clear cancels every queued event except teardown events.
func (s *Scheduler) Clear() {
	keep := s.queue[:0]
	for _, e := range s.queue {
		if e.essential {
			keep = append(keep, e)
		} else {
			e.index = -1
		}
	}
	for i := len(keep); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = keep
	for i, e := range s.queue {
		e.index = i
	}
	heap.Init(&s.queue)
}

// Flush fires every teardown event immediately and drops the rest. Used on
// dispose so no voice outlives its engine.
func (s *Scheduler) Flush() {
	q := s.queue
	s.queue = nil
	for _, e := range q {
		e.index = -1
	}
	for _, e := range q {
		if e.essential {
			e.fn(s.now)
		}
	}
}
