package instrument

import (
	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/pion/logging"
)

// DefaultTeardownMargin is added after a release tail before the voice's
// nodes are disconnected.
const DefaultTeardownMargin = 0.05

// Source is a node that can be told to stop at an absolute time.
type Source interface {
	Stop(t float64)
}

// Voice is one sounding note. Instrument voice types embed it.
type Voice struct {
	Note      int
	Velocity  int
	StartTime float64
	Released  bool
	// EndTime is when the release tail finishes. Zero while held.
	EndTime float64

	nodes    []graph.Node
	sources  []Source
	teardown *scheduler.Event
	dead     bool
}

func (v *Voice) base() *Voice { return v }

// Own registers nodes to disconnect when the voice is destroyed.
func (v *Voice) Own(nodes ...graph.Node) { v.nodes = append(v.nodes, nodes...) }

// OwnSource registers a source to stop when the voice ends.
func (v *Voice) OwnSource(s Source) { v.sources = append(v.sources, s) }

// Destroyed reports whether teardown has run.
func (v *Voice) Destroyed() bool { return v.dead }

func (v *Voice) stop(at float64) {
	for _, s := range v.sources {
		s.Stop(at)
	}
}

func (v *Voice) destroy() {
	if v.dead {
		return
	}
	v.dead = true
	for _, n := range v.nodes {
		n.Disconnect()
	}
}

// Voicer is satisfied by any struct embedding Voice.
type Voicer interface {
	base() *Voice
}

// Pool tracks the voices of one instrument: at most one active voice per
// note, plus released voices still ringing out. It is owned by the control
// flow and not safe for concurrent use.
type Pool[V Voicer] struct {
	sched  Scheduler
	margin float64
	log    logging.LeveledLogger
	active map[int]V
	tails  map[*Voice]V
	// OnDestroy runs after a voice's nodes are disconnected.
	OnDestroy func(v V)
}

func NewPool[V Voicer](sched Scheduler, margin float64, log logging.LeveledLogger) *Pool[V] {
	if margin <= 0 {
		margin = DefaultTeardownMargin
	}
	return &Pool[V]{
		sched:  sched,
		margin: margin,
		log:    log,
		active: make(map[int]V),
		tails:  make(map[*Voice]V),
	}
}

// Active returns the held voice for note.
func (p *Pool[V]) Active(note int) (V, bool) {
	v, ok := p.active[note]
	return v, ok
}

// Add makes v the active voice for its note. Callers release any previous
// voice for the note first.
func (p *Pool[V]) Add(v V) {
	b := v.base()
	if old, ok := p.active[b.Note]; ok {
		p.log.Warnf("note %d already active, forcing release", b.Note)
		p.Release(old, b.StartTime, 0)
	}
	p.active[b.Note] = v
}

// AddOneShot tracks a voice that is never held. It is torn down at end.
func (p *Pool[V]) AddOneShot(v V, end float64) {
	b := v.base()
	b.Released = true
	b.EndTime = end
	p.tails[b] = v
	b.stop(end)
	p.scheduleTeardown(v, end)
}

// Release marks v released, stops its sources when the tail ends and
// schedules teardown. tail is the release length already scheduled on the
// voice's envelope by the caller.
func (p *Pool[V]) Release(v V, at, tail float64) {
	b := v.base()
	if b.Released {
		return
	}
	b.Released = true
	b.EndTime = at + tail
	if cur, ok := p.active[b.Note]; ok && cur.base() == b {
		delete(p.active, b.Note)
	}
	p.tails[b] = v
	b.stop(b.EndTime + p.margin/2)
	p.scheduleTeardown(v, b.EndTime)
}

func (p *Pool[V]) scheduleTeardown(v V, end float64) {
	b := v.base()
	if b.teardown != nil {
		p.sched.Cancel(b.teardown)
	}
	b.teardown = p.sched.ScheduleTeardown(end+p.margin, func(float64) {
		p.destroy(v)
	})
}

func (p *Pool[V]) destroy(v V) {
	b := v.base()
	if b.dead {
		return
	}
	if cur, ok := p.active[b.Note]; ok && cur.base() == b {
		delete(p.active, b.Note)
	}
	delete(p.tails, b)
	b.destroy()
	if p.OnDestroy != nil {
		p.OnDestroy(v)
	}
}

// Each calls fn for every held voice.
func (p *Pool[V]) Each(fn func(v V)) {
	for _, v := range p.active {
		fn(v)
	}
}

// EachSounding calls fn for held and releasing voices.
func (p *Pool[V]) EachSounding(fn func(v V)) {
	p.Each(fn)
	for _, v := range p.tails {
		fn(v)
	}
}

// Notes returns the held notes.
func (p *Pool[V]) Notes() []int {
	notes := make([]int, 0, len(p.active))
	for n := range p.active {
		notes = append(notes, n)
	}
	return notes
}

// ActiveCount is the number of held voices.
func (p *Pool[V]) ActiveCount() int { return len(p.active) }

// Sounding is held plus releasing voices.
func (p *Pool[V]) Sounding() int { return len(p.active) + len(p.tails) }

// Kill stops and disconnects every voice immediately.
func (p *Pool[V]) Kill(at float64) {
	for _, v := range p.active {
		v.base().stop(at)
		p.sched.Cancel(v.base().teardown)
		p.destroy(v)
	}
	for _, v := range p.tails {
		v.base().stop(at)
		p.sched.Cancel(v.base().teardown)
		p.destroy(v)
	}
}
