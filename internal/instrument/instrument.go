// Package instrument holds what every voice engine shares: the Instrument
// contract, presets, closed parameter tables, the per-note voice pool and
// envelope helpers.
package instrument

import (
	"strings"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/cbegin/dawcore/internal/scheduler"
	"github.com/pkg/errors"
)

type Type string

const (
	TypeSynth   Type = "synth"
	TypeFM      Type = "fm"
	TypeSampler Type = "sampler"
	TypeDrum    Type = "drum"
)

var (
	ErrUnknownType    = errors.New("instrument: unknown instrument type")
	ErrPresetMismatch = errors.New("instrument: preset type mismatch")
)

// ParseType accepts the canonical names plus a few aliases used by presets.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "synth", "subtractive", "analog":
		return TypeSynth, nil
	case "fm", "fmsynth", "fm-synth":
		return TypeFM, nil
	case "sampler":
		return TypeSampler, nil
	case "drum", "drums", "drum-machine", "drummachine":
		return TypeDrum, nil
	}
	return "", errors.Wrapf(ErrUnknownType, "%q", s)
}

// Instrument is implemented by every voice engine. Times are absolute
// hardware seconds; the public boundary substitutes "now" for omitted times.
type Instrument interface {
	Type() Type
	NoteOn(note, velocity int, at float64)
	NoteOff(note int, at float64)
	AllNotesOff(at float64)
	// SetParam updates the stored value and live-updates sounding voices.
	// Unknown names are ignored.
	SetParam(name string, value, at float64)
	Param(name string) (float64, bool)
	LoadPreset(p Preset) error
	Preset() Preset
	Output() graph.Node
	ActiveVoices() int
	Dispose()
}

// Scheduler is the part of the lookahead scheduler instruments use.
type Scheduler interface {
	Schedule(target float64, fn func(firedAt float64)) *scheduler.Event
	ScheduleTeardown(target float64, fn func(firedAt float64)) *scheduler.Event
	Cancel(e *scheduler.Event) bool
}

// Preset is a serializable snapshot of an instrument's parameters.
type Preset struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Type   Type               `json:"instrumentType"`
	Params map[string]float64 `json:"params"`
}

// CheckPreset returns ErrPresetMismatch unless p targets want.
func CheckPreset(p Preset, want Type) error {
	if p.Type != want {
		return errors.Wrapf(ErrPresetMismatch, "preset %q is %q, instrument is %q", p.Name, p.Type, want)
	}
	return nil
}
