package graph

// Node is anything that produces a mono signal and can be wired into the graph.
type Node interface {
	// Connect routes this node's output into dst. Connecting twice is a no-op.
	Connect(dst Node)
	// ConnectParam routes this node's output into p as audio-rate modulation.
	ConnectParam(p *Param)
	// Disconnect removes every outgoing connection. Safe to call repeatedly.
	Disconnect()
	// DisconnectFrom removes the connection to dst, if any.
	DisconnectFrom(dst Node)
	// DisconnectParam removes the modulation connection to p, if any.
	DisconnectParam(p *Param)
	// Connected reports whether the node has any outgoing connection.
	Connected() bool

	graphNode() *node
}

type processor interface {
	process(q int64, t0 float64, in, out []float64)
}

type node struct {
	ctx      *Context
	self     processor
	inputs   []*node
	outputs  []*node
	modulate []*Param
	mix      []float64
	out      []float64
	rendered int64
}

func (n *node) init(ctx *Context, self processor) {
	n.ctx = ctx
	n.self = self
	n.mix = make([]float64, RenderQuantum)
	n.out = make([]float64, RenderQuantum)
}

func (n *node) graphNode() *node { return n }

func (n *node) Connect(dst Node) {
	d := dst.graphNode()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, o := range n.outputs {
		if o == d {
			return
		}
	}
	n.outputs = append(n.outputs, d)
	d.inputs = append(d.inputs, n)
}

func (n *node) ConnectParam(p *Param) {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, m := range n.modulate {
		if m == p {
			return
		}
	}
	n.modulate = append(n.modulate, p)
	p.inputs = append(p.inputs, n)
}

func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, d := range n.outputs {
		d.inputs = removeNode(d.inputs, n)
	}
	for _, p := range n.modulate {
		p.inputs = removeNode(p.inputs, n)
	}
	n.outputs = nil
	n.modulate = nil
}

func (n *node) DisconnectFrom(dst Node) {
	d := dst.graphNode()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	n.outputs = removeNode(n.outputs, d)
	d.inputs = removeNode(d.inputs, n)
}

func (n *node) DisconnectParam(p *Param) {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for i, m := range n.modulate {
		if m == p {
			n.modulate = append(n.modulate[:i], n.modulate[i+1:]...)
			break
		}
	}
	p.inputs = removeNode(p.inputs, n)
}

func (n *node) Connected() bool {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return len(n.outputs) > 0 || len(n.modulate) > 0
}

// InputCount is the number of nodes feeding this node.
func (n *node) InputCount() int {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return len(n.inputs)
}

// pull renders the node for quantum q, at most once per quantum.
func (n *node) pull(q int64, t0 float64) []float64 {
	if n.rendered == q {
		return n.out
	}
	// Mark first so an accidental cycle reads the previous quantum instead of recursing.
	n.rendered = q
	for i := range n.mix {
		n.mix[i] = 0
	}
	for _, in := range n.inputs {
		src := in.pull(q, t0)
		for i, v := range src {
			n.mix[i] += v
		}
	}
	n.self.process(q, t0, n.mix, n.out)
	return n.out
}

func removeNode(list []*node, n *node) []*node {
	for i, x := range list {
		if x == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Gain scales the sum of its inputs by an automatable gain param.
type Gain struct {
	node
	gain *Param
}

func (c *Context) NewGain(gain float64) *Gain {
	return newGain(c, gain)
}

func newGain(c *Context, gain float64) *Gain {
	g := &Gain{}
	g.init(c, g)
	g.gain = newParam(c, gain, -1e6, 1e6)
	return g
}

func (g *Gain) Gain() *Param { return g.gain }

func (g *Gain) process(q int64, t0 float64, in, out []float64) {
	gain := g.gain.values(q, t0)
	for i := range out {
		out[i] = in[i] * gain[i]
	}
}
