package ingress

import (
	"testing"

	"golang.org/x/time/rate"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
)

func TestQueueEnqueueDrainOrder(t *testing.T) {
	q := NewQueue(8, 0, 0)
	for i := 0; i < 4; i++ {
		if _, err := q.TryEnqueue(Command{SourceID: 1, SourceSeq: uint64(i)}); err != nil {
			t.Fatalf("TryEnqueue %d: %v", i, err)
		}
	}
	buf := make([]Command, 8)
	n := q.DrainTo(buf)
	if n != 4 {
		t.Fatalf("DrainTo = %d, want 4", n)
	}
	for i, c := range buf[:n] {
		if c.SourceSeq != uint64(i) {
			t.Fatalf("buf[%d].SourceSeq = %d, want %d", i, c.SourceSeq, i)
		}
	}
}

func TestQueueFullRejects(t *testing.T) {
	q := NewQueue(2, 0, 0)
	for i := 0; i < 2; i++ {
		if _, err := q.TryEnqueue(Command{}); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}
	_, err := q.TryEnqueue(Command{})
	e, ok := err.(*errs.E)
	if !ok || e.Kind != errs.QueueFull {
		t.Fatalf("expected QueueFull, got %v", err)
	}
}

func TestQueueRateLimitsPerSource(t *testing.T) {
	q := NewQueue(16, rate.Limit(1), 1)
	if _, err := q.TryEnqueue(Command{SourceID: 7}); err != nil {
		t.Fatalf("first enqueue under burst: %v", err)
	}
	_, err := q.TryEnqueue(Command{SourceID: 7})
	e, ok := err.(*errs.E)
	if !ok || e.Kind != errs.NotApplied {
		t.Fatalf("expected rate-limited NotApplied, got %v", err)
	}
	// A different source has its own bucket and is unaffected.
	if _, err := q.TryEnqueue(Command{SourceID: 8}); err != nil {
		t.Fatalf("other source enqueue: %v", err)
	}
}

func TestSortCommandsOrdering(t *testing.T) {
	cmds := []Command{
		{PriorityClass: 1, SourceID: 2, SourceSeq: 0, ArrivalSeq: 5},
		{PriorityClass: 0, SourceID: 9, SourceSeq: 1, ArrivalSeq: 1},
		{PriorityClass: 0, SourceID: 1, SourceSeq: 0, ArrivalSeq: 2},
		{PriorityClass: 0, SourceID: 1, SourceSeq: 1, ArrivalSeq: 0},
	}
	SortCommands(cmds)

	want := []struct{ SourceID, SourceSeq uint64 }{
		{1, 0}, {1, 1}, {9, 1},
	}
	for i, w := range want {
		if cmds[i].SourceID != w.SourceID || cmds[i].SourceSeq != w.SourceSeq {
			t.Fatalf("cmds[%d] = %+v, want SourceID=%d SourceSeq=%d", i, cmds[i], w.SourceID, w.SourceSeq)
		}
	}
	if cmds[3].PriorityClass != 1 {
		t.Fatalf("last command should be the higher priority class, got %+v", cmds[3])
	}
}
