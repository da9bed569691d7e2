package instrument

import "math"

// ParamSpec describes one entry of an instrument's closed parameter set.
type ParamSpec struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
}

// Clamp limits v to the spec range. NaN becomes the default.
func (s ParamSpec) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.Default
	}
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// ParamTable maps external names onto enum indices. It is the only place
// parameter strings are interpreted.
type ParamTable struct {
	specs []ParamSpec
	index map[string]int
}

func NewParamTable(specs []ParamSpec) *ParamTable {
	t := &ParamTable{specs: specs, index: make(map[string]int, len(specs))}
	for i, s := range specs {
		t.index[s.Name] = i
	}
	return t
}

// Lookup returns the enum index for name.
func (t *ParamTable) Lookup(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *ParamTable) Spec(i int) ParamSpec { return t.specs[i] }
func (t *ParamTable) Len() int             { return len(t.specs) }

// Defaults fills values with every spec default.
func (t *ParamTable) Defaults(values []float64) {
	for i, s := range t.specs {
		values[i] = s.Default
	}
}

// Export builds the string-keyed map used by presets.
func (t *ParamTable) Export(values []float64) map[string]float64 {
	m := make(map[string]float64, len(t.specs))
	for i, s := range t.specs {
		m[s.Name] = values[i]
	}
	return m
}
