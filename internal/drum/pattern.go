package drum

import (
	"github.com/cbegin/dawcore/internal/timing"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxSwing caps the odd-step delay as a fraction of one step.
const MaxSwing = 0.75

var ErrInvalidPattern = errors.New("drum: invalid pattern")

// Pattern is a step grid: one boolean row per pad note. BeatDivision is the
// number of steps per quarter note.
type Pattern struct {
	ID           string         `json:"id"`
	Steps        int            `json:"steps"`
	BeatDivision int            `json:"beatDivision"`
	Pads         map[int][]bool `json:"pads"`
}

// NewPattern returns an empty pattern with a fresh id.
func NewPattern(steps, beatDivision int) *Pattern {
	return &Pattern{
		ID:           uuid.NewString(),
		Steps:        steps,
		BeatDivision: beatDivision,
		Pads:         make(map[int][]bool),
	}
}

// Set turns step i of pad on or off, growing the row as needed.
func (p *Pattern) Set(pad, i int, on bool) {
	if i < 0 || i >= p.Steps {
		return
	}
	row := p.Pads[pad]
	if len(row) != p.Steps {
		grown := make([]bool, p.Steps)
		copy(grown, row)
		row = grown
	}
	row[i] = on
	p.Pads[pad] = row
}

func (p *Pattern) Validate() error {
	if p.Steps <= 0 || p.Steps > 256 {
		return errors.Wrapf(ErrInvalidPattern, "steps=%d", p.Steps)
	}
	if p.BeatDivision <= 0 || p.BeatDivision > 16 {
		return errors.Wrapf(ErrInvalidPattern, "beatDivision=%d", p.BeatDivision)
	}
	for pad, row := range p.Pads {
		if pad < 0 || pad > 127 {
			return errors.Wrapf(ErrInvalidPattern, "pad %d out of range", pad)
		}
		if len(row) != p.Steps {
			return errors.Wrapf(ErrInvalidPattern, "pad %d has %d steps, want %d", pad, len(row), p.Steps)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	c := *p
	c.Pads = make(map[int][]bool, len(p.Pads))
	for pad, row := range p.Pads {
		c.Pads[pad] = append([]bool(nil), row...)
	}
	return &c
}

// StepBeats is the length of one step in quarter notes.
func (p *Pattern) StepBeats() float64 { return 1 / float64(p.BeatDivision) }

// StepTime is the start of step i for a pattern beginning at start. Odd steps
// are delayed by stepLength*swing, with swing clamped to [0, MaxSwing].
func StepTime(start float64, i int, stepLength, swing float64) float64 {
	t := start + float64(i)*stepLength
	if i%2 == 1 {
		t += stepLength * timing.Clamp(swing, 0, MaxSwing)
	}
	return t
}
