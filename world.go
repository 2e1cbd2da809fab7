package murk

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/engine"
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/ingress"
	"github.com/tachyon-beep/murk-sub003/internal/metrics"
	"github.com/tachyon-beep/murk-sub003/internal/observe"
	"github.com/tachyon-beep/murk-sub003/internal/propagator"
	"github.com/tachyon-beep/murk-sub003/internal/replay"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// sparsePoolSegmentSize and sparsePoolMaxSegments bound the backing store
// each Sparse field's Pool grows to. These aren't exposed on WorldConfig -
// no operation this module implements needs per-field control over them,
// and a single generous default keeps World.New's surface small.
const (
	sparsePoolSegmentSize = 4096
	sparsePoolMaxSegments = 1024
)

// StepResult is what one synchronous tick hands back to a lockstep caller:
// per-command receipts in the order commands were submitted, the
// resulting published snapshot, and the tick's metrics (spec.md §4.7).
type StepResult struct {
	Receipts []ingress.Receipt
	Snapshot arena.Snapshot
	Metrics  engine.StepMetrics
}

// World is one simulated instance: a schema, a topology space, the arena
// subsystems backing it, a validated propagator pipeline, a command
// queue, and the tick engine that ties them together - constructed once
// by New and stepped for its entire lifetime, except across Reset (spec.md
// §4.1-4.9).
type World struct {
	mu sync.Mutex // serializes StepSync/Reset/realtime start-stop against each other

	cfg    WorldConfig
	sch    *schema.Schema
	space  topology.Space
	sparse map[schema.FieldId]*arena.Sparse

	pipeline *propagator.Pipeline
	queue    *ingress.Queue
	metrics  *metrics.Registry
	promReg  *prometheus.Registry // nil unless WorldConfig.EnableMetrics

	eng      *engine.Engine
	lockstep *engine.Lockstep
	realtime *engine.Realtime

	// worldEpoch is bumped only by Reset (never by an ordinary tick's
	// ping-pong publish) and is what ObsPlan.CompiledEpoch is checked
	// against: spec.md §4.12 says a plan is only valid "for the generation
	// it was compiled against", but the per-tick ping-pong generation
	// advances on every single Step, which would make a compiled plan
	// useless after one tick. worldEpoch is the coarser cookie that
	// actually changes schema/space validity - the plan's real invalidation
	// condition (see DESIGN.md's Open Question decision).
	worldEpoch uint64

	replayRing   *replay.Ring
	replayWriter *replay.Writer
}

// New validates config and constructs every subsystem a World needs. The
// returned World has not taken a single tick yet - callers seed Static
// fields via WriteStatic before the first StepSync/StartRealtime call if
// the propagators they registered expect non-zero static state.
func New(config WorldConfig) (*World, error) {
	space, err := buildSpace(config.Space)
	if err != nil {
		return nil, err
	}

	sch, err := schema.Build(space.CellCount(), config.Fields)
	if err != nil {
		return nil, err
	}

	static, err := arena.BuildStatic(sch)
	if err != nil {
		return nil, err
	}

	sparse, err := buildSparseSlabs(sch)
	if err != nil {
		return nil, err
	}

	pp, err := arena.NewPingPong(sch)
	if err != nil {
		return nil, err
	}

	pipeline, err := propagator.Validate(sch, space, config.Dt, config.Propagators)
	if err != nil {
		return nil, err
	}
	pp.SetFullWriteFields(pipeline.FullWriteFields())

	maxQueue := config.MaxIngressQueue
	if maxQueue <= 0 {
		maxQueue = 1024
	}
	burst := config.PerSourceBurst
	if burst <= 0 && config.PerSourceRate > 0 {
		burst = 1
	}
	queue := ingress.NewQueue(maxQueue, rate.Limit(config.PerSourceRate), burst)

	maxPerTick := config.MaxCommandsPerTick
	if maxPerTick <= 0 {
		maxPerTick = maxQueue
	}

	var reg *metrics.Registry
	var promReg *prometheus.Registry
	if config.EnableMetrics {
		promReg = prometheus.NewRegistry()
		reg = metrics.New(promReg)
	}

	eng := engine.New(engine.Config{
		Schema:             sch,
		Space:              space,
		PingPong:           pp,
		Static:             static,
		Sparse:             sparse,
		Scratch:            arena.NewScratch(defaultScratchSize(sch)),
		Pipeline:           pipeline,
		Queue:              queue,
		Metrics:            reg,
		Seed:               config.Seed,
		Dt:                 config.Dt,
		MaxCommandsPerTick: maxPerTick,
		EnableSnapshotHash: config.EnableSnapshotHash,
	})

	w := &World{
		cfg:      config,
		sch:      sch,
		space:    space,
		sparse:   sparse,
		pipeline: pipeline,
		queue:    queue,
		metrics:  reg,
		promReg:  promReg,
		eng:      eng,
		lockstep: engine.NewLockstep(eng),
	}
	return w, nil
}

// MetricsRegisterer exposes the world's Prometheus registry for mounting
// with metrics.Mount, or nil if WorldConfig.EnableMetrics was false.
func (w *World) MetricsRegisterer() *prometheus.Registry { return w.promReg }

// buildSpace constructs the topology.Space named by spec, validating
// dimensions itself since the topology constructors panic on invalid
// input rather than returning an error (spec.md §4.1's space parameters
// are checked at World construction, not deferred to a panic recovery).
func buildSpace(spec SpaceSpec) (topology.Space, error) {
	switch spec.Kind {
	case Line1D:
		if spec.Length <= 0 {
			return nil, errs.New(errs.InvalidSpaceParams, "line1d length must be positive")
		}
		return topology.NewLine1D(spec.Length, spec.Policy), nil
	case Ring1D:
		if spec.Length <= 0 {
			return nil, errs.New(errs.InvalidSpaceParams, "ring1d length must be positive")
		}
		return topology.NewRing1D(spec.Length), nil
	case Square4:
		if spec.Cols <= 0 || spec.Rows <= 0 {
			return nil, errs.New(errs.InvalidSpaceParams, "square4 cols/rows must be positive")
		}
		return topology.NewSquare4(spec.Cols, spec.Rows, spec.Policy), nil
	case Square8:
		if spec.Cols <= 0 || spec.Rows <= 0 {
			return nil, errs.New(errs.InvalidSpaceParams, "square8 cols/rows must be positive")
		}
		return topology.NewSquare8(spec.Cols, spec.Rows, spec.Policy), nil
	default:
		return nil, errs.Newf(errs.InvalidSpaceParams, "unknown space kind %d", spec.Kind)
	}
}

// buildSparseSlabs allocates one arena.Sparse (backed by its own Pool) per
// Sparse-mutability field in sch.
func buildSparseSlabs(sch *schema.Schema) (map[schema.FieldId]*arena.Sparse, error) {
	out := make(map[schema.FieldId]*arena.Sparse)
	for _, f := range sch.All() {
		if f.Mutability != schema.Sparse {
			continue
		}
		width := f.Components(f.Width)
		pool := arena.NewPool(sparsePoolSegmentSize, sparsePoolMaxSegments)
		out[f.ID] = arena.NewSparse(pool, width, sch.CellCount())
	}
	return out, nil
}

// defaultScratchSize picks a scratch region generous enough for a
// propagator to borrow a couple of full PerTick fields' worth of working
// storage per tick - not exposed on WorldConfig since no spec operation
// needs to tune it directly.
func defaultScratchSize(sch *schema.Schema) int {
	widest := 0
	for _, f := range sch.All() {
		if f.Mutability != schema.PerTick {
			continue
		}
		n := sch.CellCount() * f.Components(f.Width)
		if n > widest {
			widest = n
		}
	}
	return widest*4 + 64
}

// WriteStatic seeds a Static field's values before the first tick.
// Propagators never write Static fields themselves (spec.md §4.4); this
// is the only mutation path for them.
func (w *World) WriteStatic(id schema.FieldId, values []float32) error {
	dst, err := w.eng.StaticField(id)
	if err != nil {
		return err
	}
	if len(values) != len(dst) {
		return errs.Newf(errs.ShapeMismatch, "static field %d: got %d values, want %d", id, len(values), len(dst))
	}
	copy(dst, values)
	return nil
}

// Submit enqueues cmd for application on the next tick and returns
// immediately with an accept/reject receipt - it does not wait for the
// command to actually be applied. Callers needing a receipt that reflects
// whether the command was applied use StepSync instead (spec.md §4.7's
// async ingress path only confirms queueing, not application).
func (w *World) Submit(cmd ingress.Command) (ingress.Receipt, error) {
	accepted, err := w.queue.TryEnqueue(cmd)
	if err != nil {
		return ingress.Receipt{SourceID: cmd.SourceID, SourceSeq: cmd.SourceSeq, Err: err}, err
	}
	return ingress.Receipt{SourceID: accepted.SourceID, SourceSeq: accepted.SourceSeq, ArrivalSeq: accepted.ArrivalSeq}, nil
}

// StepSync enqueues cmds and advances the world by exactly one tick,
// returning a receipt for every command in cmds (in submission order),
// the resulting published snapshot, and the tick's metrics (spec.md
// §4.7's lockstep runtime).
func (w *World) StepSync(cmds []ingress.Command) (StepResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	receipts := make([]ingress.Receipt, len(cmds))
	byArrival := make(map[uint64]int, len(cmds))
	for i, c := range cmds {
		accepted, err := w.queue.TryEnqueue(c)
		if err != nil {
			receipts[i] = ingress.Receipt{SourceID: c.SourceID, SourceSeq: c.SourceSeq, Err: err}
			continue
		}
		byArrival[accepted.ArrivalSeq] = i
	}

	m, err := w.lockstep.StepSync()
	if err != nil {
		return StepResult{}, err
	}
	for _, r := range m.Receipts {
		if idx, ok := byArrival[r.ArrivalSeq]; ok {
			receipts[idx] = r
		}
	}

	if w.replayWriter != nil {
		w.replayWriter.Push(replay.ReplayFrame{
			TickID:       m.TickID,
			Generation:   m.Generation,
			Commands:     cmds,
			SnapshotHash: m.SnapshotHash,
		})
	}

	return StepResult{Receipts: receipts, Snapshot: w.eng.CurrentSnapshot(), Metrics: m}, nil
}

// Parameter returns the current value of a named parameter set via a
// SetParameterKind command, or (0, false) if it has never been set.
func (w *World) Parameter(key string) (float32, bool) { return w.eng.Parameter(key) }

// ParameterVersion returns the monotonic counter bumped once per applied
// SetParameterKind command (spec.md §3's parameter_version).
func (w *World) ParameterVersion() uint64 { return w.eng.ParameterVersion() }

// Snapshot returns the currently published generation.
func (w *World) Snapshot() arena.Snapshot {
	return w.eng.CurrentSnapshot()
}

// TickID returns the id of the next tick that will run.
func (w *World) TickID() uint64 { return w.eng.TickID() }

// Epoch returns the world's current epoch cookie - the value
// CompilePlan/Observe check ObsPlan.CompiledEpoch against.
func (w *World) Epoch() uint64 { return atomic.LoadUint64(&w.worldEpoch) }

// Reset reinitializes the world's tick counter and deterministic RNG from
// seed, drains any commands still queued from before the reset, and bumps
// the world epoch so every compiled ObsPlan becomes stale (spec.md §8's
// reset/replay invariant: two worlds built with the same seed and fed the
// same command stream from Reset onward must produce identical snapshot
// sequences). Static and PerTick/Sparse field contents are not rewound -
// callers wanting a clean field state call WriteStatic again and rely on
// their propagators to re-derive PerTick/Sparse state from ticks 0..N, the
// same "construction is seeding" contract New already exposes.
func (w *World) Reset(seed uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	drain := make([]ingress.Command, w.queue.Cap())
	for w.queue.DrainTo(drain) > 0 {
	}

	w.eng.Reseed(seed)
	atomic.AddUint64(&w.worldEpoch, 1)
	return nil
}

// CompilePlan compiles spec into a reusable ObsPlan pinned to the world's
// current epoch.
func (w *World) CompilePlan(spec observe.ObsSpec) (*observe.ObsPlan, error) {
	return observe.Compile(spec, w.sch, w.space, w.Epoch())
}

// Observe executes plan against the currently published snapshot for a
// single agent center. output and mask must be sized plan.OutputLen and
// plan.MaskLen.
func (w *World) Observe(plan *observe.ObsPlan, agentCenter int, output []float32, mask []bool) error {
	return plan.Execute(w.Snapshot(), w.space, agentCenter, w.Epoch(), output, mask)
}

// ObserveAgents executes plan once per center in centers against the same
// published snapshot, writing each agent's fixed-size block contiguously
// into output/mask (spec.md §4.13's execute_agents batch call). output
// must have length plan.OutputLen*len(centers); mask must have length
// plan.MaskLen*len(centers).
func (w *World) ObserveAgents(plan *observe.ObsPlan, centers []int, output []float32, mask []bool) error {
	outStride, maskStride := plan.OutputLen, plan.MaskLen
	if len(output) != outStride*len(centers) {
		return errs.Newf(errs.ShapeMismatch, "output length %d, want %d", len(output), outStride*len(centers))
	}
	if len(mask) != maskStride*len(centers) {
		return errs.Newf(errs.ShapeMismatch, "mask length %d, want %d", len(mask), maskStride*len(centers))
	}

	snap := w.Snapshot()
	epoch := w.Epoch()
	for i, c := range centers {
		out := output[i*outStride : (i+1)*outStride]
		m := mask[i*maskStride : (i+1)*maskStride]
		if err := plan.Execute(snap, w.space, c, epoch, out, m); err != nil {
			return err
		}
	}
	return nil
}

// EnableReplay starts an async replay writer draining frames to dst,
// pushed from every subsequent StepSync call and from realtime ticks if
// StartRealtime is also active. Calling EnableReplay twice replaces the
// previous writer.
func (w *World) EnableReplay(dst io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.replayWriter != nil {
		w.replayWriter.Stop()
	}
	w.replayRing = replay.NewRing()
	w.replayWriter = replay.NewWriter(w.replayRing, dst)
	w.replayWriter.Start()
}

// DisableReplay stops the replay writer, if one is running.
func (w *World) DisableReplay() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.replayWriter != nil {
		w.replayWriter.Stop()
		w.replayWriter = nil
		w.replayRing = nil
	}
}

// ReplayStats reports the replay writer's throughput/backpressure
// counters, or the zero Stats if replay isn't enabled.
func (w *World) ReplayStats() replay.Stats {
	if w.replayWriter == nil {
		return replay.Stats{}
	}
	return w.replayWriter.Stats()
}

// StartRealtime begins background tick stepping at the configured
// TickRateHz (or free-running, backed off per Backoff, if TickRateHz ==
// 0). onTick, if non-nil, is called synchronously from the tick goroutine
// after every successful Step, in addition to the world's own replay push.
func (w *World) StartRealtime(onTick func(engine.StepMetrics)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	backoff := engine.NewBackoff(w.cfg.Backoff.MinSleep, w.cfg.Backoff.MaxSleep, w.cfg.Backoff.Multiplier)
	w.realtime = engine.NewRealtime(w.eng, w.cfg.TickRateHz, backoff, func(m engine.StepMetrics) {
		if w.replayWriter != nil {
			w.replayWriter.Push(replay.ReplayFrame{
				TickID:       m.TickID,
				Generation:   m.Generation,
				SnapshotHash: m.SnapshotHash,
			})
		}
		if onTick != nil {
			onTick(m)
		}
	})
	w.realtime.Start()
}

// StopRealtime stops the background tick loop started by StartRealtime.
// A no-op if realtime was never started.
func (w *World) StopRealtime() {
	w.mu.Lock()
	r := w.realtime
	w.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// RealtimeHealth reports the background runtime's liveness, or the zero
// Health if realtime was never started.
func (w *World) RealtimeHealth() engine.Health {
	w.mu.Lock()
	r := w.realtime
	w.mu.Unlock()
	if r == nil {
		return engine.Health{}
	}
	return r.HealthCheck()
}

// Schema exposes the world's immutable field schema, e.g. for callers
// building an ObsSpec programmatically.
func (w *World) Schema() *schema.Schema { return w.sch }

// Space exposes the world's topology, e.g. for callers computing agent
// centers from external coordinates.
func (w *World) Space() topology.Space { return w.space }
