// Package stepctx defines StepContext, the per-tick handle a Propagator
// uses to read and write fields (spec.md §4.4). It is a separate,
// dependency-light package so both internal/propagator (which references
// it in the Propagator interface) and internal/engine (which constructs
// it) can import it without a cycle.
package stepctx

import (
	"math/rand"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// StepContext is handed to every Propagator.Step call for exactly one
// tick; it must not be retained past that call.
type StepContext struct {
	TickID uint64
	Dt     float64
	Space  topology.Space
	// RNG is the world's seeded deterministic source, shared across every
	// propagator and every tick so that two runs seeded identically and
	// fed the same command stream draw the same sequence of values.
	RNG *rand.Rand

	pingpong *arena.PingPong
	static   *arena.Static
	sparse   map[schema.FieldId]*arena.Sparse
	guard    arena.TickGuard
	scratch  *arena.Scratch

	// readPlan is this propagator's (field -> read mode) declarations,
	// resolved once by propagator.Pipeline.Validate and handed in fresh for
	// each propagator's Step call so Read can pick Base vs Staging itself.
	readPlan map[schema.FieldId]schema.ReadMode
}

// New constructs a StepContext for one propagator's Step call within one
// tick. The tick engine is its only caller; propagators receive the
// context it builds rather than constructing one themselves.
func New(tickID uint64, dt float64, space topology.Space, rng *rand.Rand, pingpong *arena.PingPong, static *arena.Static, sparse map[schema.FieldId]*arena.Sparse, guard arena.TickGuard, scratch *arena.Scratch, readPlan map[schema.FieldId]schema.ReadMode) *StepContext {
	return &StepContext{
		TickID:   tickID,
		Dt:       dt,
		Space:    space,
		RNG:      rng,
		pingpong: pingpong,
		static:   static,
		sparse:   sparse,
		guard:    guard,
		scratch:  scratch,
		readPlan: readPlan,
	}
}

// ReadBase reads a PerTick field's previous published generation - the
// source a Jacobi-mode read uses, insulated from whatever earlier
// propagators have staged so far this tick.
func (c *StepContext) ReadBase(id schema.FieldId) ([]float32, error) {
	return c.pingpong.Base(id)
}

// ReadStaging reads a PerTick field's in-progress values as staged so far
// this tick by earlier propagators - the source an Euler-mode read uses.
func (c *StepContext) ReadStaging(id schema.FieldId) ([]float32, error) {
	return c.pingpong.Staging(c.guard, id)
}

// Read resolves id against this propagator's declared FieldAccess.Read mode
// (from Propagator.Reads()) rather than leaving the Base-vs-Staging choice
// to the caller: Euler resolves to ReadStaging, Jacobi to ReadBase. A field
// this propagator never declared a read for fails with UnknownField -
// Read is the enforcement path for spec.md §4.4's per-(propagator, field)
// read-resolution plan; ReadBase/ReadStaging remain available below for
// callers that already know which generation they want regardless of the
// declared mode.
func (c *StepContext) Read(id schema.FieldId) ([]float32, error) {
	mode, ok := c.readPlan[id]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "field %d has no declared read access for this propagator", id)
	}
	if mode == schema.Jacobi {
		return c.ReadBase(id)
	}
	return c.ReadStaging(id)
}

// WriteStaging returns the mutable staging slice for a PerTick field this
// propagator is declared to write.
func (c *StepContext) WriteStaging(id schema.FieldId) ([]float32, error) {
	return c.pingpong.Staging(c.guard, id)
}

// ReadStatic reads an immutable Static field.
func (c *StepContext) ReadStatic(id schema.FieldId) ([]float32, error) {
	return c.static.Read(id)
}

// Sparse returns the sparse slab for a field, if registered Sparse.
func (c *StepContext) Sparse(id schema.FieldId) (*arena.Sparse, bool) {
	s, ok := c.sparse[id]
	return s, ok
}

// Scratch reserves length float32s of per-tick working storage, or nil if
// the scratch budget is exhausted.
func (c *StepContext) Scratch(length int) []float32 {
	return c.scratch.Alloc(length)
}
