// Package engine implements the tick engine and its three runtime modes
// (spec.md §4.6-4.9): synchronous lockstep, background realtime-async, and
// batched N-world stepping.
package engine

import (
	"log"
	"math/rand"
	"time"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/engine/stepctx"
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/ingress"
	"github.com/tachyon-beep/murk-sub003/internal/metrics"
	"github.com/tachyon-beep/murk-sub003/internal/propagator"
	"github.com/tachyon-beep/murk-sub003/internal/replay"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// PropagatorTiming is one entry of StepMetrics.PerPropagatorUs.
type PropagatorTiming struct {
	Name       string
	DurationUs int64
}

// StepMetrics reports what happened during one Step call (spec.md §4.8).
type StepMetrics struct {
	TickID           uint64
	Generation       uint64
	DurationUs       int64
	PerPropagatorUs  []PropagatorTiming
	CommandsApplied  int
	CommandsRejected int
	SparseLive       int
	SparseRetired    int
	SnapshotHash     uint64 // 0 means "not computed" (EnableSnapshotHash == false)
	Receipts         []ingress.Receipt
	// ParameterVersion is the engine's parameter store counter as of the
	// end of this tick, bumped once per applied SetParameterKind command
	// (spec.md §3's parameter_version).
	ParameterVersion uint64
}

// Engine owns every subsystem a single world instance needs to advance one
// tick at a time. It is not safe for concurrent Step calls - lockstep.go
// and realtime.go each provide their own single-writer discipline on top
// of it, grounded on Engine.tick()'s single critical section in the
// teacher, generalized from a sync.RWMutex-guarded struct to an explicit
// "only one Step in flight" contract enforced by the ping-pong arena's own
// re-entry guard.
type Engine struct {
	sch      *schema.Schema
	space    topology.Space
	pp       *arena.PingPong
	static   *arena.Static
	sparse   map[schema.FieldId]*arena.Sparse
	scratch  *arena.Scratch
	pipeline *propagator.Pipeline
	queue    *ingress.Queue
	metrics  *metrics.Registry // nil-safe: every use is guarded
	rng      *rand.Rand

	dt                 float64
	tickID             uint64
	maxCommandsPerTick int
	enableHash         bool

	cmdBuf []ingress.Command // reused drain buffer, sized maxCommandsPerTick

	// parameters holds named scalar values set via SetParameterKind
	// commands (spec.md §3); parameterVersion is bumped once per applied
	// SetParameterKind command.
	parameters       map[string]float32
	parameterVersion uint64
}

// Config bundles the dependencies Engine needs; callers (typically
// top-level World) construct each subsystem and hand them in already
// validated.
type Config struct {
	Schema             *schema.Schema
	Space              topology.Space
	PingPong           *arena.PingPong
	Static             *arena.Static
	Sparse             map[schema.FieldId]*arena.Sparse
	Scratch            *arena.Scratch
	Pipeline           *propagator.Pipeline
	Queue              *ingress.Queue
	Metrics            *metrics.Registry
	Seed               uint64
	Dt                 float64
	MaxCommandsPerTick int
	EnableSnapshotHash bool
}

// New builds an Engine from an already-validated Config.
func New(cfg Config) *Engine {
	if cfg.MaxCommandsPerTick <= 0 {
		cfg.MaxCommandsPerTick = 256
	}
	// A Snapshot must resolve any field by FieldId regardless of
	// Mutability (spec.md §3), not just PerTick ones - attach the Static
	// arena and Sparse slabs this engine owns so CurrentSnapshot composes
	// a complete view.
	cfg.PingPong.AttachStaticSparse(cfg.Static, cfg.Sparse)
	return &Engine{
		sch:                cfg.Schema,
		space:              cfg.Space,
		pp:                 cfg.PingPong,
		static:             cfg.Static,
		sparse:             cfg.Sparse,
		scratch:            cfg.Scratch,
		pipeline:           cfg.Pipeline,
		queue:              cfg.Queue,
		metrics:            cfg.Metrics,
		rng:                rand.New(rand.NewSource(int64(cfg.Seed))),
		dt:                 cfg.Dt,
		maxCommandsPerTick: cfg.MaxCommandsPerTick,
		enableHash:         cfg.EnableSnapshotHash,
		cmdBuf:             make([]ingress.Command, cfg.MaxCommandsPerTick),
		parameters:         make(map[string]float32),
	}
}

// Step advances the world by exactly one tick: begin_tick, drain and apply
// queued commands in deterministic order, run every propagator in
// pipeline order, publish, then optionally hash the newly published
// generation (spec.md §4.6).
func (e *Engine) Step() (StepMetrics, error) {
	start := time.Now()

	guard, err := e.pp.BeginTick()
	if err != nil {
		return StepMetrics{}, err
	}

	n := e.queue.DrainTo(e.cmdBuf)
	cmds := e.cmdBuf[:n]
	ingress.SortCommands(cmds)

	receipts, applied, rejected := e.applyCommands(guard, cmds)

	propagators := e.pipeline.Propagators()
	timings := make([]PropagatorTiming, 0, len(propagators))
	for i, p := range propagators {
		// Scratch is reset before every propagator, not once per tick - a
		// propagator must never see leftover scratch contents left behind
		// by one that ran earlier this same tick (spec.md §4.6).
		e.scratch.Reset()
		ctx := stepctx.New(e.tickID, e.dt, e.space, e.rng, e.pp, e.static, e.sparse, guard, e.scratch, e.pipeline.ReadPlan(i))

		pStart := time.Now()
		if err := p.Step(ctx); err != nil {
			e.pp.Abort(guard)
			return StepMetrics{}, errs.Newf(errs.PropagatorFailed, "propagator %q failed: %v", p.Name(), err)
		}
		us := time.Since(pStart).Microseconds()
		timings = append(timings, PropagatorTiming{Name: p.Name(), DurationUs: us})
		if e.metrics != nil {
			e.metrics.PropagatorDuration.WithLabelValues(p.Name()).Observe(time.Since(pStart).Seconds())
		}
	}

	gen, err := e.pp.Publish(guard)
	if err != nil {
		return StepMetrics{}, err
	}
	e.tickID++

	var hash uint64
	if e.enableHash {
		hash = e.hashSnapshot()
	}

	liveTotal, retiredTotal := e.sparseTotals()

	m := StepMetrics{
		TickID:           e.tickID - 1,
		Generation:       gen,
		DurationUs:       time.Since(start).Microseconds(),
		PerPropagatorUs:  timings,
		CommandsApplied:  applied,
		CommandsRejected: rejected,
		SparseLive:       liveTotal,
		SparseRetired:    retiredTotal,
		SnapshotHash:     hash,
		Receipts:         receipts,
		ParameterVersion: e.parameterVersion,
	}

	if e.metrics != nil {
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
		e.metrics.Generation.Set(float64(gen))
		e.metrics.TickID.Set(float64(m.TickID))
		e.metrics.SparseLive.Set(float64(liveTotal))
		e.metrics.SparseRetired.Set(float64(retiredTotal))
		e.metrics.CommandsApplied.Add(float64(applied))
	}

	return m, nil
}

// applyCommands resolves each command's payload union member and applies
// it, in the order cmds is already sorted into. A command whose
// ExpiresAfterTick has passed is rejected (Expired) before its payload is
// even inspected; anything else a handler rejects (ShapeMismatch,
// UnknownField, out-of-bounds Coord, NotApplied) is likewise rejected
// without aborting the rest of the tick - one malformed or stale command
// must never stall every other command sharing its tick.
func (e *Engine) applyCommands(g arena.TickGuard, cmds []ingress.Command) (receipts []ingress.Receipt, applied, rejected int) {
	receipts = make([]ingress.Receipt, len(cmds))
	for i, c := range cmds {
		r := ingress.Receipt{SourceID: c.SourceID, SourceSeq: c.SourceSeq, ArrivalSeq: c.ArrivalSeq}

		if c.ExpiresAfterTick != 0 && e.tickID > c.ExpiresAfterTick {
			rejected++
			r.Err = errs.Newf(errs.Expired, "command expired after tick %d, applied at tick %d", c.ExpiresAfterTick, e.tickID)
			if e.metrics != nil {
				e.metrics.CommandsRejected.WithLabelValues("expired").Inc()
			}
			receipts[i] = r
			continue
		}

		var err error
		switch c.Kind {
		case ingress.SetFieldKind:
			err = e.applySetField(g, c)
		case ingress.SetParameterKind:
			err = e.applySetParameter(c)
		default:
			err = errs.Newf(errs.NotApplied, "command kind %d has no registered handler", c.Kind)
		}

		if err != nil {
			rejected++
			r.Err = err
			if e.metrics != nil {
				e.metrics.CommandsRejected.WithLabelValues(rejectReason(err)).Inc()
			}
			receipts[i] = r
			continue
		}
		applied++
		r.Applied = true
		r.AppliedTickID = e.tickID
		receipts[i] = r
	}
	return receipts, applied, rejected
}

// applySetField resolves c.Coord through the engine's Space to a single
// cell index and writes c.Values into that cell's component slots of
// c.TargetField's staging region - spec.md §3's SetField{field_id, coord,
// value} payload, replacing the teacher's whole-field-overwrite shape with
// single-cell addressing. Each value passes through the field's Bounds and
// Boundary policy (schema.ApplyBoundaryPolicy) before it is stored.
func (e *Engine) applySetField(g arena.TickGuard, c ingress.Command) error {
	f, err := e.sch.MustLookup(schema.FieldId(c.TargetField))
	if err != nil {
		return err
	}
	width := f.Components(f.Width)
	if len(c.Values) != width {
		return errs.Newf(errs.ShapeMismatch, "command values length %d, want %d", len(c.Values), width)
	}
	cell := e.space.Index(c.Coord)
	if cell < 0 {
		return errs.Newf(errs.ShapeMismatch, "command coord %v is out of bounds for the field's space", c.Coord)
	}
	dst, err := e.pp.Staging(g, schema.FieldId(c.TargetField))
	if err != nil {
		return err
	}
	off := cell * width
	if off+width > len(dst) {
		return errs.Newf(errs.ShapeMismatch, "resolved cell %d out of range for field %d", cell, c.TargetField)
	}
	for i, v := range c.Values {
		dst[off+i] = schema.ApplyBoundaryPolicy(f.Boundary, f.Bounds, v)
	}
	return nil
}

// applySetParameter sets a named scalar parameter and bumps the engine's
// parameter_version counter (spec.md §3's SetParameter{key, value}
// payload).
func (e *Engine) applySetParameter(c ingress.Command) error {
	if c.ParameterKey == "" {
		return errs.New(errs.NotApplied, "set_parameter command carries an empty key")
	}
	e.parameters[c.ParameterKey] = c.ParameterValue
	e.parameterVersion++
	return nil
}

// rejectReason maps an applyCommands rejection to a metrics label.
func rejectReason(err error) string {
	if e, ok := err.(*errs.E); ok {
		switch e.Kind {
		case errs.UnknownField:
			return "unknown_field"
		case errs.ShapeMismatch:
			return "shape_mismatch"
		case errs.NotApplied:
			return "not_applied"
		}
	}
	return "error"
}

func (e *Engine) sparseTotals() (live, retired int) {
	for _, s := range e.sparse {
		live += s.LiveCount()
		retired += s.RetiredCount()
	}
	return live, retired
}

// hashSnapshot computes spec.md §4.10's snapshot digest over the
// currently published generation.
func (e *Engine) hashSnapshot() uint64 {
	return replay.HashSnapshot(e.sch, e.pp.CurrentSnapshot())
}

// TickID returns the id of the next tick Step will execute.
func (e *Engine) TickID() uint64 { return e.tickID }

// CurrentSnapshot returns a read-only view of the currently published
// generation, for callers (typically World) that need to read published
// state between ticks.
func (e *Engine) CurrentSnapshot() arena.Snapshot { return e.pp.CurrentSnapshot() }

// StaticField returns the mutable slice for a Static field, used only to
// seed initial state before the first Step (propagators never write
// Static fields themselves).
func (e *Engine) StaticField(id schema.FieldId) ([]float32, error) { return e.static.Write(id) }

// Parameter returns the current value of a named parameter set via a
// SetParameterKind command, or (0, false) if it has never been set.
func (e *Engine) Parameter(key string) (float32, bool) {
	v, ok := e.parameters[key]
	return v, ok
}

// ParameterVersion returns the monotonic counter bumped once per applied
// SetParameterKind command (spec.md §3's parameter_version).
func (e *Engine) ParameterVersion() uint64 { return e.parameterVersion }

// Reseed reinitializes the engine's deterministic RNG and tick counter,
// called by World.Reset so that two worlds built with the same seed and
// fed the same command stream produce identical snapshot sequences
// (spec.md §8's reset/replay invariant).
func (e *Engine) Reseed(seed uint64) {
	e.rng = rand.New(rand.NewSource(int64(seed)))
	e.tickID = 0
}

// logStall is called by realtime.go when the background loop detects it
// cannot keep up with the configured tick rate.
func logStall(tickID uint64, behindBy time.Duration) {
	log.Printf("engine: tick %d running %s behind schedule", tickID, behindBy)
}
