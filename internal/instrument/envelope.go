package instrument

import "github.com/cbegin/dawcore/internal/graph"

// MinRamp keeps attack and release ramps long enough to avoid clicks.
const MinRamp = 0.002

// ADSR is an attack/decay/sustain/release shape. Times are seconds, sustain
// is a fraction of the peak excursion.
type ADSR struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// Trigger schedules attack and decay on p starting at at. The param rises
// from floor to peak, then settles at floor+(peak-floor)*Sustain.
func (e ADSR) Trigger(p *graph.Param, at, floor, peak float64) {
	attack := max(e.Attack, MinRamp)
	p.CancelScheduledValues(at)
	p.SetValueAtTime(floor, at)
	p.LinearRampToValueAtTime(peak, at+attack)
	p.LinearRampToValueAtTime(floor+(peak-floor)*e.Sustain, at+attack+max(e.Decay, 0))
}

// ReleaseFrom ramps p from its instantaneous value at at down to floor.
// It returns the time the ramp ends.
func (e ADSR) ReleaseFrom(p *graph.Param, at, floor float64) float64 {
	release := max(e.Release, MinRamp)
	p.CancelAndHoldAtTime(at)
	p.LinearRampToValueAtTime(floor, at+release)
	return at + release
}
