package arena

import (
	"testing"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
)

func TestPoolAllocBumpsWithinSegment(t *testing.T) {
	p := NewPool(16, 4)
	h1, err := p.Alloc(4)
	if err != nil {
		t.Fatalf("Alloc h1: %v", err)
	}
	h2, err := p.Alloc(4)
	if err != nil {
		t.Fatalf("Alloc h2: %v", err)
	}
	if h1.SegmentID != h2.SegmentID {
		t.Fatalf("expected both allocations in same segment, got %d and %d", h1.SegmentID, h2.SegmentID)
	}
	if h2.Offset != 4 {
		t.Fatalf("h2.Offset = %d, want 4", h2.Offset)
	}
}

func TestPoolAllocTooLarge(t *testing.T) {
	p := NewPool(8, 4)
	_, err := p.Alloc(9)
	var e *errs.E
	if !asE(err, &e) || e.Kind != errs.AllocationTooLarge {
		t.Fatalf("expected AllocationTooLarge, got %v", err)
	}
}

func TestPoolCapacityExceeded(t *testing.T) {
	p := NewPool(4, 1)
	if _, err := p.Alloc(4); err != nil {
		t.Fatalf("first alloc (fills the only segment): %v", err)
	}
	// The first segment is now full; a second allocation needs a second
	// segment, which exceeds maxSegments=1.
	_, err := p.Alloc(4)
	var e *errs.E
	if !asE(err, &e) || e.Kind != errs.CapacityExceeded {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
}

func TestSparseAllocateOrReuse(t *testing.T) {
	pool := NewPool(64, 64)
	s := NewSparse(pool, 1, 16)

	h, err := s.AllocateOrReuse(10, 0)
	if err != nil {
		t.Fatalf("AllocateOrReuse: %v", err)
	}
	if s.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1", s.LiveCount())
	}

	if err := s.Retire(10, 0); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if s.LiveCount() != 0 || s.RetiredCount() != 1 {
		t.Fatalf("after retire: live=%d retired=%d", s.LiveCount(), s.RetiredCount())
	}

	// Before the reclaim horizon elapses, a new key must not reuse h's slot.
	h2, err := s.AllocateOrReuse(11, 1)
	if err != nil {
		t.Fatalf("AllocateOrReuse before horizon: %v", err)
	}
	if h2 == h {
		t.Fatalf("reused retired handle before ReclaimHorizon elapsed")
	}

	// After the horizon, a further allocation may reclaim the retired slot.
	h3, err := s.AllocateOrReuse(12, ReclaimHorizon)
	if err != nil {
		t.Fatalf("AllocateOrReuse after horizon: %v", err)
	}
	if h3 != h {
		t.Fatalf("expected reclaimed handle %+v, got %+v", h, h3)
	}
}

func TestSparseRetireUnknownKey(t *testing.T) {
	s := NewSparse(NewPool(8, 8), 1, 16)
	err := s.Retire(99, 0)
	var e *errs.E
	if !asE(err, &e) || e.Kind != errs.InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func buildPerTickSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.Build(4, []schema.VectorField{
		{Field: schema.Field{ID: 0, Name: "temp", Kind: schema.Scalar, Mutability: schema.PerTick}},
	})
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}
	return sch
}

func TestPingPongPublishCycle(t *testing.T) {
	sch := buildPerTickSchema(t)
	pp, err := NewPingPong(sch)
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
		staging[i] = 1.0
	}
	gen, err := pp.Publish(g)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gen != 1 {
		t.Fatalf("gen = %d, want 1", gen)
	}

	base, err := pp.Base(0)
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	for i, v := range base {
		if v != 1.0 {
			t.Fatalf("base[%d] = %f, want 1.0", i, v)
		}
	}
}

func TestPingPongReentryGuard(t *testing.T) {
	sch := buildPerTickSchema(t)
	pp, err := NewPingPong(sch)
	if err != nil {
		t.Fatalf("NewPingPong: %v", err)
	}
	if _, err := pp.BeginTick(); err != nil {
		t.Fatalf("first BeginTick: %v", err)
	}
	_, err = pp.BeginTick()
	var e *errs.E
	if !asE(err, &e) || e.Kind != errs.InvariantViolation {
		t.Fatalf("expected InvariantViolation on re-entrant BeginTick, got %v", err)
	}
}

func TestScratchAllocAndReset(t *testing.T) {
	s := NewScratch(8)
	a := s.Alloc(4)
	if a == nil || len(a) != 4 {
		t.Fatalf("Alloc(4) = %v", a)
	}
	b := s.Alloc(5)
	if b != nil {
		t.Fatalf("expected nil on overflow, got %v", b)
	}
	s.Reset()
	c := s.Alloc(8)
	if c == nil || len(c) != 8 {
		t.Fatalf("Alloc(8) after Reset = %v", c)
	}
}

func asE(err error, target **errs.E) bool {
	e, ok := err.(*errs.E)
	if ok {
		*target = e
	}
	return ok
}
