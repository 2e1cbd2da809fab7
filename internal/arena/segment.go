// Package arena implements the memory substrate of spec.md §4.1-4.3: a
// segmented bump-allocated pool, an immutable static arena, a copy-on-write
// sparse slab, and the double-buffered ping-pong arena that ties them
// together with publish/snapshot semantics.
package arena

import (
	"math"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
)

// maxFloatLen bounds any single allocation request so that
// len*sizeof(float32) cannot overflow a machine int - the Go analogue of
// spec.md's "isize::MAX / sizeof(f32)" ceiling.
const maxFloatLen = math.MaxInt64 / 4

// Segment is a contiguous float32 buffer with a bump cursor.
type Segment struct {
	data   []float32
	cursor int
}

func newSegment(size int) *Segment {
	return &Segment{data: make([]float32, size)}
}

// Len returns the segment's fixed capacity.
func (s *Segment) Len() int { return len(s.data) }

// Slice returns the backing slice for a prior allocation at [offset, offset+n).
func (s *Segment) Slice(offset, n int) []float32 {
	return s.data[offset : offset+n]
}

func (s *Segment) reset() { s.cursor = 0 }

// Pool owns a vector of same-sized segments plus a bump cursor into the
// current (last) segment. alloc(len) bump-allocates from the current
// segment or appends a new one if the request doesn't fit; pools never
// resize an existing segment (spec.md §4.1).
type Pool struct {
	segments    []*Segment
	segmentSize int
	maxSegments int
}

// NewPool creates an empty pool with the given per-segment size and a hard
// cap on the number of segments it may grow to. maxSegments == 0 means no
// segment may ever be allocated (spec.md §8: "Pool construction with
// max_segments = 0 rejects allocation; no initial segment is pre-allocated
// unless the budget permits it").
func NewPool(segmentSize, maxSegments int) *Pool {
	return &Pool{segmentSize: segmentSize, maxSegments: maxSegments}
}

// Handle locates an allocation within a Pool.
type Handle struct {
	SegmentID int
	Offset    int
	Length    int
}

// Alloc reserves len contiguous float32s, returning a Handle. Allocation
// uses checked arithmetic throughout; overflow yields CapacityExceeded.
// A request longer than segmentSize fails with AllocationTooLarge (spec.md
// §8), regardless of current occupancy.
func (p *Pool) Alloc(length int) (Handle, error) {
	if length < 0 || length > maxFloatLen {
		return Handle{}, errs.Newf(errs.AllocationTooLarge, "requested length %d exceeds addressable float32 range", length)
	}
	if length > p.segmentSize {
		return Handle{}, errs.Newf(errs.AllocationTooLarge, "requested length %d exceeds segment size %d", length, p.segmentSize)
	}

	if len(p.segments) > 0 {
		cur := p.segments[len(p.segments)-1]
		end := cur.cursor + length
		if end >= cur.cursor && end <= cur.Len() { // checked: end can't wrap since length <= segmentSize
			h := Handle{SegmentID: len(p.segments) - 1, Offset: cur.cursor, Length: length}
			cur.cursor = end
			return h, nil
		}
	}

	if len(p.segments) >= p.maxSegments {
		return Handle{}, errs.Newf(errs.CapacityExceeded, "pool exhausted: %d/%d segments", len(p.segments), p.maxSegments)
	}

	seg := newSegment(p.segmentSize)
	seg.cursor = length
	p.segments = append(p.segments, seg)
	return Handle{SegmentID: len(p.segments) - 1, Offset: 0, Length: length}, nil
}

// Read resolves a Handle to its backing slice.
func (p *Pool) Read(h Handle) []float32 {
	return p.segments[h.SegmentID].Slice(h.Offset, h.Length)
}

// Reset discards all staged allocations by resetting every segment's cursor
// to zero without deallocating - segments are reused on the next tick
// (spec.md §4.3: "contents are logically discarded ... when the next
// begin_tick begins").
func (p *Pool) Reset() {
	for _, seg := range p.segments {
		seg.reset()
	}
}

// SegmentCount reports how many segments have been allocated so far.
func (p *Pool) SegmentCount() int { return len(p.segments) }
