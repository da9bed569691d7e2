package graph

import (
	"math"
	"sort"
)

type eventKind int

const (
	evSet eventKind = iota
	evLinear
	evExp
	evTarget
)

type autoEvent struct {
	kind  eventKind
	time  float64
	value float64
	tau   float64
}

// Param is an automatable value. Automation events are absolute context
// times, so a ramp scheduled for t=5.234s lands on the same sample no matter
// when the scheduling call ran. Nodes connected with ConnectParam add their
// output to the automated value sample by sample.
type Param struct {
	ctx      *Context
	value    float64 // value at anchor
	anchor   float64 // time the current value took effect
	min, max float64
	events   []autoEvent
	inputs   []*node
	buf      []float64
}

func newParam(c *Context, value, min, max float64) *Param {
	return &Param{
		ctx:   c,
		value: value,
		min:   min,
		max:   max,
		buf:   make([]float64, RenderQuantum),
	}
}

// NewParam creates a free-standing param. Useful for tests and control values.
func (c *Context) NewParam(value, min, max float64) *Param {
	return newParam(c, value, min, max)
}

// Value is the automated value at the current time (without modulation).
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.now())
}

// ValueAt evaluates the automation curve at t.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

// SetValue cancels all automation and jumps to v immediately.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.events = p.events[:0]
	p.value = v
	p.anchor = p.ctx.now()
}

func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(autoEvent{kind: evSet, time: t, value: v})
}

func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(autoEvent{kind: evLinear, time: t, value: v})
}

// ExponentialRampToValueAtTime ramps geometrically. v must be non-zero and
// share the sign of the starting value, otherwise the value holds until t.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) {
	p.insert(autoEvent{kind: evExp, time: t, value: v})
}

// SetTargetAtTime approaches target exponentially from t with time constant tau.
func (p *Param) SetTargetAtTime(target, t, tau float64) {
	p.insert(autoEvent{kind: evTarget, time: t, value: target, tau: tau})
}

// CancelScheduledValues removes every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.cancelFrom(t)
}

// CancelAndHoldAtTime freezes the curve at its value at t and drops later
// events, so a following ramp starts from wherever the value actually was.
func (p *Param) CancelAndHoldAtTime(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	v := p.valueAt(t)
	p.cancelFrom(t)
	p.events = append(p.events, autoEvent{kind: evSet, time: t, value: v})
	return v
}

func (p *Param) cancelFrom(t float64) {
	keep := p.events[:0]
	for _, e := range p.events {
		if e.time < t {
			keep = append(keep, e)
		}
	}
	p.events = keep
}

func (p *Param) insert(e autoEvent) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	if len(p.events) == 0 {
		now := p.ctx.now()
		if now > p.anchor {
			p.anchor = now
		}
	}
	idx := sort.Search(len(p.events), func(i int) bool {
		return p.events[i].time > e.time
	})
	p.events = append(p.events, autoEvent{})
	copy(p.events[idx+1:], p.events[idx:])
	p.events[idx] = e
}

func (p *Param) valueAt(t float64) float64 {
	prevKind := evSet
	prevT, prevV := p.anchor, p.value
	var target, tau float64
	for _, e := range p.events {
		if e.time > t {
			switch e.kind {
			case evLinear:
				if e.time <= prevT {
					return e.value
				}
				start := segmentValue(prevKind, prevT, prevV, target, tau, prevT)
				return start + (e.value-start)*(t-prevT)/(e.time-prevT)
			case evExp:
				start := segmentValue(prevKind, prevT, prevV, target, tau, prevT)
				if e.time <= prevT || start == 0 || e.value == 0 || (start > 0) != (e.value > 0) {
					return start
				}
				return start * math.Pow(e.value/start, (t-prevT)/(e.time-prevT))
			}
			break
		}
		at := segmentValue(prevKind, prevT, prevV, target, tau, e.time)
		switch e.kind {
		case evTarget:
			prevV = at
			target = e.value
			tau = e.tau
		default:
			prevV = e.value
		}
		prevT = e.time
		prevKind = e.kind
	}
	return segmentValue(prevKind, prevT, prevV, target, tau, t)
}

func segmentValue(kind eventKind, t0, v0, target, tau, t float64) float64 {
	if kind != evTarget {
		return v0
	}
	if tau <= 0 {
		return target
	}
	return target + (v0-target)*math.Exp(-(t-t0)/tau)
}

// prune folds events that can no longer influence values at or after now
// into the anchor.
func (p *Param) prune(now float64) {
	for len(p.events) > 0 {
		e := p.events[0]
		if e.time > now {
			return
		}
		if e.kind != evTarget {
			p.value = e.value
			p.anchor = e.time
			p.events = p.events[1:]
			continue
		}
		if len(p.events) < 2 || p.events[1].time > now {
			return
		}
		next := p.events[1].time
		p.value = p.valueAt(next)
		p.anchor = next
		p.events = p.events[1:]
	}
}

// values computes the per-sample value for quantum q.
func (p *Param) values(q int64, t0 float64) []float64 {
	p.prune(t0)
	if len(p.events) == 0 {
		v := p.value
		for i := range p.buf {
			p.buf[i] = v
		}
	} else {
		dt := 1 / p.ctx.sampleRate
		for i := range p.buf {
			p.buf[i] = p.valueAt(t0 + float64(i)*dt)
		}
	}
	for _, in := range p.inputs {
		mod := in.pull(q, t0)
		for i, v := range mod {
			p.buf[i] += v
		}
	}
	for i, v := range p.buf {
		if v < p.min {
			p.buf[i] = p.min
		} else if v > p.max {
			p.buf[i] = p.max
		}
	}
	return p.buf
}

// InputCount is the number of nodes modulating p.
func (p *Param) InputCount() int {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return len(p.inputs)
}
