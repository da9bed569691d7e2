package instrument

import (
	"github.com/cbegin/dawcore/internal/graph"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Options carries the collaborators every instrument needs.
type Options struct {
	Context        *graph.Context
	Scheduler      Scheduler
	TeardownMargin float64
	Logger         logging.LeveledLogger
}

// Base is the instrument-level state shared by all engines: output gain,
// preset identity and the closed parameter record.
type Base struct {
	Ctx    *graph.Context
	Sched  Scheduler
	Log    logging.LeveledLogger
	Margin float64

	typ      Type
	out      *graph.Gain
	table    *ParamTable
	Values   []float64
	presetID string
	name     string
	disposed bool
}

func NewBase(typ Type, table *ParamTable, opts Options) Base {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger(string(typ))
	}
	margin := opts.TeardownMargin
	if margin <= 0 {
		margin = DefaultTeardownMargin
	}
	b := Base{
		Ctx:      opts.Context,
		Sched:    opts.Scheduler,
		Log:      log,
		Margin:   margin,
		typ:      typ,
		out:      opts.Context.NewGain(1),
		table:    table,
		Values:   make([]float64, table.Len()),
		presetID: uuid.NewString(),
		name:     string(typ),
	}
	table.Defaults(b.Values)
	return b
}

func (b *Base) Type() Type         { return b.typ }
func (b *Base) Output() graph.Node { return b.out }
func (b *Base) OutputGain() *graph.Gain {
	return b.out
}
func (b *Base) Disposed() bool { return b.disposed }

// At substitutes the current hardware time for times already in the past.
func (b *Base) At(at float64) float64 {
	if now := b.Ctx.CurrentTime(); at < now {
		return now
	}
	return at
}

// Lookup resolves an external parameter name and clamps value to its range.
func (b *Base) Lookup(name string, value float64) (int, float64, bool) {
	i, ok := b.table.Lookup(name)
	if !ok {
		b.Log.Debugf("ignoring unknown param %q", name)
		return 0, 0, false
	}
	return i, b.table.Spec(i).Clamp(value), true
}

// Param reports the stored value of name.
func (b *Base) Param(name string) (float64, bool) {
	i, ok := b.table.Lookup(name)
	if !ok {
		return 0, false
	}
	return b.Values[i], true
}

// Preset snapshots the parameter record.
func (b *Base) Preset() Preset {
	return Preset{
		ID:     b.presetID,
		Name:   b.name,
		Type:   b.typ,
		Params: b.table.Export(b.Values),
	}
}

// ApplyPreset type-checks p and feeds every known param through set.
func (b *Base) ApplyPreset(p Preset, set func(name string, value, at float64)) error {
	if err := CheckPreset(p, b.typ); err != nil {
		return err
	}
	now := b.Ctx.CurrentTime()
	for name, v := range p.Params {
		set(name, v, now)
	}
	if p.ID != "" {
		b.presetID = p.ID
	}
	if p.Name != "" {
		b.name = p.Name
	}
	return nil
}

// Dispose disconnects the output once. It reports false if already disposed.
func (b *Base) Dispose() bool {
	if b.disposed {
		return false
	}
	b.disposed = true
	b.out.Disconnect()
	return true
}
