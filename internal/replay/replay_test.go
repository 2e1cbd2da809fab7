package replay

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/ingress"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	f := ReplayFrame{
		TickID:     7,
		Generation: 3,
		Commands: []ingress.Command{
			{Kind: ingress.SetFieldKind, TargetField: 1, Coord: []float64{0}, Values: []float32{1, 2, 3}, PriorityClass: 0, SourceID: 5, SourceSeq: 1, ArrivalSeq: 9},
		},
		SnapshotHash: 0xdeadbeef,
	}

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, f); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	got, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !reflect.DeepEqual(f, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestDecodeFrameRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, ReplayFrame{TickID: 1}); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	raw := buf.Bytes()
	raw[0] = 0xff // corrupt version byte

	if _, err := DecodeFrame(bytes.NewReader(raw)); err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func buildHashFixture(t *testing.T) (*schema.Schema, arena.Snapshot) {
	t.Helper()
	return buildHashFixtureOrdered(t, []schema.VectorField{
		{Field: schema.Field{ID: 5, Name: "b", Kind: schema.Scalar, Mutability: schema.PerTick}},
		{Field: schema.Field{ID: 1, Name: "a", Kind: schema.Scalar, Mutability: schema.PerTick}},
	})
}

// buildHashFixtureOrdered registers fields (which must be ids 1 and 5) in
// the given order and publishes one generation where cell i of field id
// holds id+i.
func buildHashFixtureOrdered(t *testing.T, fields []schema.VectorField) (*schema.Schema, arena.Snapshot) {
	t.Helper()
	sch, err := schema.Build(2, fields)
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
	for _, id := range []schema.FieldId{1, 5} {
		staging, err := pp.Staging(g, id)
		if err != nil {
			t.Fatalf("Staging(%d): %v", id, err)
		}
		for i := range staging {
			staging[i] = float32(id) + float32(i)
		}
	}
	if _, err := pp.Publish(g); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return sch, pp.CurrentSnapshot()
}

func TestHashSnapshotDeterministicAcrossRegistrationOrder(t *testing.T) {
	sch, snap := buildHashFixture(t)
	h1 := HashSnapshot(sch, snap)
	h2 := HashSnapshot(sch, snap)
	if h1 != h2 {
		t.Fatalf("HashSnapshot not deterministic: %d != %d", h1, h2)
	}
	if h1 == NoHash {
		t.Fatalf("HashSnapshot must never return the NoHash sentinel for a real snapshot")
	}

	// Same ids and values, registered in the opposite order.
	sch2, snap2 := buildHashFixtureOrdered(t, []schema.VectorField{
		{Field: schema.Field{ID: 1, Name: "a", Kind: schema.Scalar, Mutability: schema.PerTick}},
		{Field: schema.Field{ID: 5, Name: "b", Kind: schema.Scalar, Mutability: schema.PerTick}},
	})
	if h3 := HashSnapshot(sch2, snap2); h3 != h1 {
		t.Fatalf("HashSnapshot depends on registration order: %d != %d", h3, h1)
	}
}

func TestHashSnapshotChangesWithValues(t *testing.T) {
	sch, snap := buildHashFixture(t)
	h1 := HashSnapshot(sch, snap)

	pp, err := arena.NewPingPong(sch)
	if err != nil {
		t.Fatalf("NewPingPong: %v", err)
	}
	g, err := pp.BeginTick()
	if err != nil {
		t.Fatalf("BeginTick: %v", err)
	}
	staging, err := pp.Staging(g, 1)
	if err != nil {
		t.Fatalf("Staging: %v", err)
	}
	for i := range staging {
		staging[i] = 999
	}
	if _, err := pp.Publish(g); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	h2 := HashSnapshot(sch, pp.CurrentSnapshot())
	if h1 == h2 {
		t.Fatalf("expected different hashes for different snapshot contents")
	}
}

func TestRingDropsWhenFull(t *testing.T) {
	r := NewRing()
	accepted := 0
	for i := 0; i < ringSize+5; i++ {
		if r.TryWrite(ReplayFrame{TickID: uint64(i)}) {
			accepted++
		}
	}
	if accepted != ringSize-1 {
		t.Fatalf("accepted = %d, want %d (ring reserves one slot to distinguish full from empty)", accepted, ringSize-1)
	}
	written, dropped, _ := r.Stats()
	if written != uint64(ringSize-1) {
		t.Fatalf("written = %d, want %d", written, ringSize-1)
	}
	if dropped == 0 {
		t.Fatalf("expected at least one dropped frame")
	}
}

func TestRingFIFOOrder(t *testing.T) {
	r := NewRing()
	for i := 0; i < 5; i++ {
		if !r.TryWrite(ReplayFrame{TickID: uint64(i)}) {
			t.Fatalf("TryWrite(%d) failed unexpectedly", i)
		}
	}
	for i := 0; i < 5; i++ {
		f, ok := r.TryRead()
		if !ok {
			t.Fatalf("TryRead() = false at i=%d", i)
		}
		if f.TickID != uint64(i) {
			t.Fatalf("TryRead() TickID = %d, want %d", f.TickID, i)
		}
	}
	if _, ok := r.TryRead(); ok {
		t.Fatalf("expected empty ring after draining all writes")
	}
}

func TestWriterDrainsToDestination(t *testing.T) {
	r := NewRing()
	var buf bytes.Buffer
	w := NewWriter(r, &buf)

	for i := 0; i < 3; i++ {
		if !w.Push(ReplayFrame{TickID: uint64(i), SnapshotHash: uint64(i) + 1}) {
			t.Fatalf("Push(%d) dropped unexpectedly", i)
		}
	}

	w.Start()
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Stats().FramesWritten >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := w.Stats()
	if stats.FramesWritten != 3 {
		t.Fatalf("FramesWritten = %d, want 3", stats.FramesWritten)
	}

	r2 := bytes.NewReader(buf.Bytes())
	for i := 0; i < 3; i++ {
		f, err := DecodeFrame(r2)
		if err != nil {
			t.Fatalf("DecodeFrame(%d): %v", i, err)
		}
		if f.TickID != uint64(i) {
			t.Fatalf("frame %d TickID = %d, want %d", i, f.TickID, i)
		}
	}
}

func TestWriterStopIsIdempotent(t *testing.T) {
	r := NewRing()
	var buf bytes.Buffer
	w := NewWriter(r, &buf)
	w.Start()
	w.Stop()
	w.Stop() // must not panic or block
	if w.IsRunning() {
		t.Fatalf("expected writer to be stopped")
	}
}
