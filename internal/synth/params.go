package synth

import (
	"github.com/cbegin/dawcore/internal/instrument"
)

// Param enumerates the subtractive synth's parameters.
type Param int

const (
	Osc1Waveform Param = iota
	Osc2Waveform
	Detune
	OscMix
	FilterType
	FilterCutoff
	FilterResonance
	FilterEnvAmount
	Attack
	Decay
	Sustain
	Release
	FilterAttack
	FilterDecay
	FilterSustain
	FilterRelease
	LFOWaveform
	LFORate
	LFODepth
	LFODestination
	Volume
	numParams
)

var specs = [numParams]instrument.ParamSpec{
	Osc1Waveform:    {Name: "osc1Waveform", Min: 0, Max: 3, Default: 2},
	Osc2Waveform:    {Name: "osc2Waveform", Min: 0, Max: 3, Default: 1},
	Detune:          {Name: "detune", Min: 0, Max: 100, Default: 7},
	OscMix:          {Name: "oscMix", Min: 0, Max: 1, Default: 0.5},
	FilterType:      {Name: "filterType", Min: 0, Max: 3, Default: 0},
	FilterCutoff:    {Name: "filterCutoff", Min: 20, Max: 20000, Default: 2000},
	FilterResonance: {Name: "filterResonance", Min: 0.1, Max: 30, Default: 1},
	FilterEnvAmount: {Name: "filterEnvAmount", Min: 0, Max: 10000, Default: 2000},
	Attack:          {Name: "attack", Min: 0, Max: 10, Default: 0.01},
	Decay:           {Name: "decay", Min: 0, Max: 10, Default: 0.2},
	Sustain:         {Name: "sustain", Min: 0, Max: 1, Default: 0.7},
	Release:         {Name: "release", Min: 0, Max: 10, Default: 0.3},
	FilterAttack:    {Name: "filterAttack", Min: 0, Max: 10, Default: 0.01},
	FilterDecay:     {Name: "filterDecay", Min: 0, Max: 10, Default: 0.3},
	FilterSustain:   {Name: "filterSustain", Min: 0, Max: 1, Default: 0.3},
	FilterRelease:   {Name: "filterRelease", Min: 0, Max: 10, Default: 0.3},
	LFOWaveform:     {Name: "lfoWaveform", Min: 0, Max: 3, Default: 0},
	LFORate:         {Name: "lfoRate", Min: 0.01, Max: 20, Default: 5},
	LFODepth:        {Name: "lfoDepth", Min: 0, Max: 1, Default: 0},
	LFODestination:  {Name: "lfoDestination", Min: 0, Max: 3, Default: 0},
	Volume:          {Name: "volume", Min: 0, Max: 1, Default: 0.5},
}

var table = instrument.NewParamTable(specs[:])

func (p Param) String() string {
	if p < 0 || p >= numParams {
		return "unknown"
	}
	return specs[p].Name
}
