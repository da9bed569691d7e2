package graph

import (
	"math"
	"testing"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestParamAutomation(t *testing.T) {
	c := NewContext(48000)

	lin := c.NewParam(0, -10, 10)
	lin.SetValueAtTime(0, 0)
	lin.LinearRampToValueAtTime(1, 1)

	exp := c.NewParam(1, -10, 10)
	exp.SetValueAtTime(1, 0)
	exp.ExponentialRampToValueAtTime(4, 2)

	target := c.NewParam(0, -10, 10)
	target.SetValueAtTime(0, 0)
	target.SetTargetAtTime(1, 0, 1)

	tests := []struct {
		name string
		p    *Param
		at   float64
		want float64
	}{
		{"linear midpoint", lin, 0.5, 0.5},
		{"linear end", lin, 1, 1},
		{"linear holds after end", lin, 3, 1},
		{"exponential midpoint", exp, 1, 2},
		{"set target one tau", target, 1, 1 - math.Exp(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.ValueAt(tt.at); !approx(got, tt.want, 1e-9) {
				t.Fatalf("ValueAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestCancelAndHoldStartsReleaseFromCurrentValue(t *testing.T) {
	c := NewContext(48000)
	p := c.NewParam(0, 0, 1)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 1)

	held := p.CancelAndHoldAtTime(0.25)
	if !approx(held, 0.25, 1e-9) {
		t.Fatalf("held = %v, want 0.25", held)
	}
	if got := p.ValueAt(0.5); !approx(got, 0.25, 1e-9) {
		t.Fatalf("ValueAt(0.5) = %v, want 0.25", got)
	}
	p.LinearRampToValueAtTime(0, 0.75)
	if got := p.ValueAt(0.5); !approx(got, 0.125, 1e-9) {
		t.Fatalf("release midpoint = %v, want 0.125", got)
	}
}

func TestCancelScheduledValues(t *testing.T) {
	c := NewContext(48000)
	p := c.NewParam(0.5, 0, 1)
	p.SetValueAtTime(1, 2)
	p.CancelScheduledValues(1)
	if got := p.ValueAt(3); got != 0.5 {
		t.Fatalf("ValueAt(3) = %v, want 0.5", got)
	}
}

func TestCurrentTimeFollowsRenderedFrames(t *testing.T) {
	c := NewContext(48000)
	c.RenderQuanta(10)
	want := float64(10*RenderQuantum) / 48000
	if got := c.CurrentTime(); got != want {
		t.Fatalf("CurrentTime = %v, want %v", got, want)
	}
	c.Reset()
	if got := c.CurrentTime(); got != 0 {
		t.Fatalf("CurrentTime after reset = %v, want 0", got)
	}
}

func TestSuspendStopsClockAndObservers(t *testing.T) {
	c := NewContext(48000)
	ticks := 0
	cancel := c.OnQuantum(func(float64) { ticks++ })
	c.RenderQuanta(2)
	if ticks != 2 {
		t.Fatalf("ticks = %d, want 2", ticks)
	}

	c.Suspend()
	before := c.CurrentTime()
	buf := make([]float32, RenderQuantum*2)
	c.Process(buf)
	if ticks != 2 || c.CurrentTime() != before {
		t.Fatalf("suspended context advanced: ticks=%d time=%v", ticks, c.CurrentTime())
	}

	c.Resume()
	cancel()
	c.RenderQuanta(1)
	if ticks != 2 {
		t.Fatalf("cancelled observer still called: ticks=%d", ticks)
	}
}

func TestOscillatorRendersBetweenStartAndStop(t *testing.T) {
	c := NewContext(48000)
	osc := c.NewOscillator(Square, 440)
	osc.Connect(c.Destination())
	osc.Start(0)

	buf := make([]float32, RenderQuantum*2)
	c.Process(buf)
	if buf[0] != 1 || buf[1] != 1 {
		t.Fatalf("first frame = (%v, %v), want (1, 1)", buf[0], buf[1])
	}

	osc.Stop(c.CurrentTime())
	c.Process(buf)
	for i, s := range buf {
		if s != 0 {
			t.Fatalf("sample %d = %v after stop, want 0", i, s)
		}
	}
	if !osc.Ended() {
		t.Fatalf("Ended() = false after stop")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := NewContext(48000)
	g := c.NewGain(1)
	g.Connect(c.Destination())
	g.Connect(c.Destination())
	if n := c.Destination().InputCount(); n != 1 {
		t.Fatalf("InputCount = %d, want 1", n)
	}
	g.Disconnect()
	g.Disconnect()
	g.DisconnectFrom(c.Destination())
	if g.Connected() {
		t.Fatalf("Connected() = true after disconnect")
	}
	if n := c.Destination().InputCount(); n != 0 {
		t.Fatalf("InputCount = %d, want 0", n)
	}
}

func TestBufferSourceOneShotEnds(t *testing.T) {
	c := NewContext(48000)
	src := c.NewBufferSource(NewBuffer([]float32{1, 1, 1, 1}, 48000))
	src.Connect(c.Destination())
	src.Start(0, 0, 0)

	buf := make([]float32, 16)
	c.Process(buf)
	if buf[0] != 1 || buf[6] != 1 {
		t.Fatalf("expected buffer samples at start, got %v", buf)
	}
	if buf[8] != 0 {
		t.Fatalf("frame 4 = %v, want 0 past buffer end", buf[8])
	}
	if !src.Ended() {
		t.Fatalf("Ended() = false after buffer end")
	}
}

func TestBiquadFilterDC(t *testing.T) {
	ones := make([]float32, RenderQuantum)
	for i := range ones {
		ones[i] = 0.5
	}
	tests := []struct {
		name string
		typ  FilterType
		want float64
	}{
		{"lowpass passes dc", Lowpass, 0.5},
		{"highpass blocks dc", Highpass, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext(48000)
			src := c.NewBufferSource(NewBuffer(ones, 48000))
			src.SetLoop(true, 0, 0)
			f := c.NewBiquadFilter(tt.typ, 1000, 0.707)
			src.Connect(f)
			f.Connect(c.Destination())
			src.Start(0, 0, 0)

			buf := make([]float32, 48000/4*2)
			c.Process(buf)
			got := float64(buf[len(buf)-1])
			if !approx(got, tt.want, 1e-3) {
				t.Fatalf("settled output = %v, want %v", got, tt.want)
			}
		})
	}
}
