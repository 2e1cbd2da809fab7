package schema

// ReadMode controls whether a propagator's read of a field observes values
// already staged by earlier propagators this tick (Euler) or only the
// previous published generation, insulated from this tick's in-flight
// writes (Jacobi). Declared per (propagator, field) in
// internal/propagator.FieldAccess; defined here rather than in
// internal/propagator so internal/arena can consult a pipeline's write
// declarations (see WriteMode below) without an import cycle through
// internal/engine/stepctx.
type ReadMode int

const (
	Euler ReadMode = iota
	Jacobi
)

// WriteMode controls whether a propagator must supply every component of a
// field it writes this tick (Full, so BeginTick starts its staging region
// at zero) or may write only a subset, inheriting the rest from the
// previous published generation (Incremental, so BeginTick seeds it from
// the last publish).
type WriteMode int

const (
	Full WriteMode = iota
	Incremental
)
