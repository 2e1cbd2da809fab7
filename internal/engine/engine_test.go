package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/engine/stepctx"
	"github.com/tachyon-beep/murk-sub003/internal/ingress"
	"github.com/tachyon-beep/murk-sub003/internal/propagator"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// addOneProp writes field 0 += 1 every tick, unconditionally - enough to
// assert the tick loop actually runs propagators and publishes.
type addOneProp struct{}

func (addOneProp) Name() string         { return "add_one" }
func (addOneProp) Reads() []propagator.FieldAccess  { return nil }
func (addOneProp) Writes() []propagator.FieldAccess {
	return []propagator.FieldAccess{{Field: 0, Write: propagator.Full}}
}
func (addOneProp) MaxDt(topology.Space) (float64, bool) { return 0, false }
func (addOneProp) Step(ctx *stepctx.StepContext) error {
	dst, err := ctx.WriteStaging(0)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] += 1
	}
	return nil
}

func buildTestEngine(t *testing.T) *Engine {
	t.Helper()
	sch, err := schema.Build(4, []schema.VectorField{
		{Field: schema.Field{ID: 0, Name: "counter", Kind: schema.Scalar, Mutability: schema.PerTick}},
	})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	sp := topology.NewLine1D(4, topology.Absorb)
	pp, err := arena.NewPingPong(sch)
	if err != nil {
		t.Fatalf("NewPingPong: %v", err)
	}
	static, err := arena.BuildStatic(sch)
	if err != nil {
		t.Fatalf("BuildStatic: %v", err)
	}
	pipeline, err := propagator.Validate(sch, sp, 0.1, []propagator.Propagator{addOneProp{}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	queue := ingress.NewQueue(16, 0, 0)

	return New(Config{
		Schema:             sch,
		Space:              sp,
		PingPong:           pp,
		Static:             static,
		Sparse:             map[schema.FieldId]*arena.Sparse{},
		Scratch:            arena.NewScratch(64),
		Pipeline:           pipeline,
		Queue:              queue,
		Dt:                 0.1,
		MaxCommandsPerTick: 16,
		EnableSnapshotHash: true,
	})
}

func TestEngineStepPublishesAndAdvancesGeneration(t *testing.T) {
	e := buildTestEngine(t)
	m, err := e.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.Generation != 1 {
		t.Fatalf("Generation = %d, want 1", m.Generation)
	}
	if m.TickID != 0 {
		t.Fatalf("TickID = %d, want 0", m.TickID)
	}
	if m.SnapshotHash == 0 {
		t.Fatalf("expected non-zero snapshot hash when EnableSnapshotHash is set")
	}

	m2, err := e.Step()
	if err != nil {
		t.Fatalf("second Step: %v", err)
	}
	if m2.TickID != 1 {
		t.Fatalf("second TickID = %d, want 1", m2.TickID)
	}
}

func TestEngineAppliesQueuedCommands(t *testing.T) {
	e := buildTestEngine(t)
	for cell := 0; cell < 4; cell++ {
		cmd := ingress.Command{Kind: ingress.SetFieldKind, TargetField: 0, Coord: []float64{float64(cell)}, Values: []float32{10}}
		if _, err := e.queue.TryEnqueue(cmd); err != nil {
			t.Fatalf("TryEnqueue cell %d: %v", cell, err)
		}
	}
	m, err := e.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.CommandsApplied != 4 {
		t.Fatalf("CommandsApplied = %d, want 4", m.CommandsApplied)
	}
	base, err := e.pp.Base(0)
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	for i, v := range base {
		if v != 11 { // 10 from the command, +1 from addOneProp
			t.Fatalf("base[%d] = %f, want 11", i, v)
		}
	}
}

func TestEngineRejectsShapeMismatchedCommand(t *testing.T) {
	e := buildTestEngine(t)
	cmd := ingress.Command{Kind: ingress.SetFieldKind, TargetField: 0, Coord: []float64{0}, Values: []float32{1, 2}}
	if _, err := e.queue.TryEnqueue(cmd); err != nil {
		t.Fatalf("TryEnqueue: %v", err)
	}
	m, err := e.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.CommandsRejected != 1 {
		t.Fatalf("CommandsRejected = %d, want 1", m.CommandsRejected)
	}
}

func TestLockstepStepSync(t *testing.T) {
	l := NewLockstep(buildTestEngine(t))
	if _, err := l.StepSync(); err != nil {
		t.Fatalf("StepSync: %v", err)
	}
	if l.TickID() != 1 {
		t.Fatalf("TickID = %d, want 1", l.TickID())
	}
}

func TestRealtimeStartStop(t *testing.T) {
	var got int
	r := NewRealtime(buildTestEngine(t), 1000, nil, func(StepMetrics) { got++ })
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	if r.IsRunning() {
		t.Fatalf("expected runtime to be stopped")
	}
	if got == 0 {
		t.Fatalf("expected at least one tick to have run")
	}
}

func TestRealtimeFreeRunningBacksOffWhenIdle(t *testing.T) {
	var got int32
	r := NewRealtime(buildTestEngine(t), 0, NewBackoff(time.Millisecond, 5*time.Millisecond, 2), func(StepMetrics) {
		atomic.AddInt32(&got, 1)
	})
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	if r.IsRunning() {
		t.Fatalf("expected runtime to be stopped")
	}
	if atomic.LoadInt32(&got) == 0 {
		t.Fatalf("expected at least one tick to have run")
	}
}

func TestBatchedStepAllSequential(t *testing.T) {
	b := NewBatched([]*Engine{buildTestEngine(t), buildTestEngine(t)}, 0)
	metrics, errsOut := b.StepAll()
	for i, err := range errsOut {
		if err != nil {
			t.Fatalf("world %d: %v", i, err)
		}
	}
	if len(metrics) != 2 {
		t.Fatalf("len(metrics) = %d, want 2", len(metrics))
	}
}

func TestBatchedStepAllParallel(t *testing.T) {
	b := NewBatched([]*Engine{buildTestEngine(t), buildTestEngine(t), buildTestEngine(t)}, 2)
	b.Parallel = true
	metrics, errsOut := b.StepAll()
	for i, err := range errsOut {
		if err != nil {
			t.Fatalf("world %d: %v", i, err)
		}
	}
	for i, m := range metrics {
		if m.Generation != 1 {
			t.Fatalf("world %d Generation = %d, want 1", i, m.Generation)
		}
	}
}
