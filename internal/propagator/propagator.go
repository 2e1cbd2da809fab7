// Package propagator defines the Propagator contract and the pipeline that
// validates a set of propagators and plans how their reads and writes
// resolve within a tick (spec.md §4.4-4.5).
package propagator

import (
	"github.com/tachyon-beep/murk-sub003/internal/engine/stepctx"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// ReadMode and WriteMode are defined in package schema (not here) so that
// internal/arena can consult a pipeline's write-mode declarations when
// zeroing Full-mode fields at BeginTick without importing internal/
// propagator, which would cycle back through internal/engine/stepctx.
// Euler means "see values already staged this tick by earlier
// propagators"; Jacobi means "see only the previous published generation".
type ReadMode = schema.ReadMode

// WriteMode controls whether a propagator must supply every component of a
// field it writes (Full) or may write only a subset, inheriting the rest
// from the last published generation (Incremental).
type WriteMode = schema.WriteMode

const (
	Euler  = schema.Euler
	Jacobi = schema.Jacobi
)

const (
	Full        = schema.Full
	Incremental = schema.Incremental
)

// FieldAccess names one field a propagator reads or writes, together with
// the mode that access uses.
type FieldAccess struct {
	Field schema.FieldId
	Read  ReadMode  // meaningful only when the access is a read
	Write WriteMode // meaningful only when the access is a write
}

// Propagator is one unit of per-tick field mutation.
type Propagator interface {
	// Name uniquely identifies the propagator for diagnostics and
	// WriteConflict reporting.
	Name() string
	// Reads lists the fields this propagator reads, and in what mode.
	Reads() []FieldAccess
	// Writes lists the fields this propagator writes, and in what mode.
	Writes() []FieldAccess
	// MaxDt optionally bounds the timestep this propagator is stable for,
	// given the space it runs over (a CFL-style condition). A propagator
	// with no such bound returns ok=false.
	MaxDt(space topology.Space) (dt float64, ok bool)
	// Step executes one tick's worth of field mutation.
	Step(ctx *stepctx.StepContext) error
}
