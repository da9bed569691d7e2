package transport

import "math"

// Segment is a stretch of hardware time [T0, T1) that maps linearly onto
// beats [B0, B1).
type Segment struct {
	T0, T1 float64
	B0, B1 float64
	Rate   float64 // beats per second
	// Entry marks a segment that starts where playback (re)entered the
	// timeline: play, seek or a loop wrap. Followers start material that
	// spans B0 only on entry segments.
	Entry bool
	// Wrap marks a segment that ends at the loop seam.
	Wrap bool
}

// TimeAt maps a beat inside the segment to hardware time.
func (s Segment) TimeAt(beat float64) float64 {
	if s.Rate <= 0 {
		return s.T0
	}
	return s.T0 + (beat-s.B0)/s.Rate
}

// Contains reports whether beat lies in [B0, B1).
func (s Segment) Contains(beat float64) bool {
	return beat >= s.B0 && beat < s.B1
}

// Grid returns the indices k with k*unit in [B0, B1).
func (s Segment) Grid(unit float64) []int {
	if unit <= 0 || s.B1 <= s.B0 {
		return nil
	}
	var ks []int
	k := int(math.Ceil(s.B0 / unit))
	// Guard against B0/unit landing a hair above an integer.
	if float64(k-1)*unit >= s.B0 {
		k--
	}
	for ; float64(k)*unit < s.B1; k++ {
		ks = append(ks, k)
	}
	return ks
}
