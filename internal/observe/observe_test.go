package observe

import (
	"math"
	"testing"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

func testFixture(t *testing.T) (*schema.Schema, topology.Space, arena.Snapshot) {
	t.Helper()
	sp := topology.NewSquare4(5, 5, topology.Absorb)
	sch, err := schema.Build(sp.CellCount(), []schema.VectorField{
		{Field: schema.Field{ID: 0, Name: "temp", Kind: schema.Scalar, Mutability: schema.PerTick}},
	})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	pp, err := arena.NewPingPong(sch)
	if err != nil {
		t.Fatalf("NewPingPong: %v", err)
	}
	g, err := pp.BeginTick()
	if err != nil {
		t.Fatalf("BeginTick: %v", err)
	}
	staging, err := pp.Staging(g, 0)
	if err != nil {
		t.Fatalf("Staging: %v", err)
	}
	for i := range staging {
		staging[i] = float32(i)
	}
	if _, err := pp.Publish(g); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return sch, sp, pp.CurrentSnapshot()
}

func TestCompileAllRegion(t *testing.T) {
	sch, sp, snap := testFixture(t)
	plan, err := Compile(ObsSpec{Fields: []schema.FieldId{0}, Region: Region{Kind: All}}, sch, sp, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if plan.OutputLen != sch.CellCount() {
		t.Fatalf("OutputLen = %d, want %d", plan.OutputLen, sch.CellCount())
	}
	out := make([]float32, plan.OutputLen)
	mask := make([]bool, plan.MaskLen)
	if err := plan.Execute(snap, sp, 0, 0, out, mask); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, v := range out {
		if v != float32(i) {
			t.Fatalf("out[%d] = %f, want %f", i, v, float32(i))
		}
	}
}

func TestExecuteRejectsStaleEpoch(t *testing.T) {
	sch, sp, snap := testFixture(t)
	plan, err := Compile(ObsSpec{Fields: []schema.FieldId{0}, Region: Region{Kind: All}}, sch, sp, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := make([]float32, plan.OutputLen)
	mask := make([]bool, plan.MaskLen)
	err = plan.Execute(snap, sp, 0, 1, out, mask)
	if err == nil {
		t.Fatalf("expected PlanInvalidated error")
	}
}

func TestAgentDiskPoolMean(t *testing.T) {
	sch, sp, snap := testFixture(t)
	center := sp.Index([]float64{2, 2})
	plan, err := Compile(ObsSpec{
		Fields: []schema.FieldId{0},
		Region: Region{Kind: AgentDisk, Radius: 1},
		Pool:   Mean,
	}, sch, sp, 0)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := make([]float32, plan.OutputLen)
	mask := make([]bool, plan.MaskLen)
	if err := plan.Execute(snap, sp, center, 0, out, mask); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if math.IsNaN(float64(out[0])) {
		t.Fatalf("expected a real mean, got NaN")
	}
}

func TestAgentRectDimensionMismatch(t *testing.T) {
	sch, sp, _ := testFixture(t)
	_, err := Compile(ObsSpec{
		Fields: []schema.FieldId{0},
		Region: Region{Kind: AgentRect, RectHalfExtent: []float64{1}},
	}, sch, sp, 0)
	if err == nil {
		t.Fatalf("expected DimensionMismatch error")
	}
}
