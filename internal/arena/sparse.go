package arena

import (
	"math"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
)

// ReclaimHorizon is the number of generations a retired sparse allocation
// must age before its storage is eligible for reuse - long enough that an
// in-flight reader holding the previous generation's snapshot can never
// observe it being overwritten (spec.md §4.3).
const ReclaimHorizon = 2

type retiredEntry struct {
	key   uint64
	gen   uint64
	slots Handle
}

// Sparse is the copy-on-write slab backing schema.Sparse fields: an
// allocate-or-reuse map over live entries plus a FIFO of retired
// allocations awaiting their reclaim horizon, grounded on the same
// "span tracked in allocation order" idea as spatial.SkipList's augmented
// rank structure, simplified here because retirement is already produced
// in monotonic tick order and needs no reordering.
type Sparse struct {
	pool      *Pool
	live      map[uint64]Handle
	retired   []retiredEntry // FIFO: oldest retirement at index 0
	width     int
	cellCount int
}

// NewSparse creates a sparse slab whose per-key allocation width is fixed
// (the field's component count) and backed by pool. cellCount is the
// owning space's cell count, used only by Dense to size its gathered
// output - AllocateOrReuse/Retire treat key as an opaque uint64 regardless
// of cellCount.
func NewSparse(pool *Pool, width int, cellCount int) *Sparse {
	return &Sparse{
		pool:      pool,
		live:      make(map[uint64]Handle),
		width:     width,
		cellCount: cellCount,
	}
}

// AllocateOrReuse returns the storage handle for key, allocating fresh
// backing storage only if key has no live entry and nothing in the
// retired queue has aged past ReclaimHorizon yet to hand back. currentGen
// is the generation this call is being made on behalf of.
func (s *Sparse) AllocateOrReuse(key uint64, currentGen uint64) (Handle, error) {
	if h, ok := s.live[key]; ok {
		return h, nil
	}

	if reused, ok := s.reclaimOne(currentGen); ok {
		s.live[key] = reused
		return reused, nil
	}

	h, err := s.pool.Alloc(s.width)
	if err != nil {
		return Handle{}, err
	}
	s.live[key] = h
	return h, nil
}

// reclaimOne pops the oldest retired entry if it has aged past
// ReclaimHorizon relative to currentGen, returning its handle for reuse.
func (s *Sparse) reclaimOne(currentGen uint64) (Handle, bool) {
	if len(s.retired) == 0 {
		return Handle{}, false
	}
	oldest := s.retired[0]
	if currentGen < oldest.gen+ReclaimHorizon {
		return Handle{}, false
	}
	s.retired = s.retired[1:]
	return oldest.slots, true
}

// Retire removes key from the live set and queues its storage for reuse
// once ReclaimHorizon generations have elapsed. UnknownField-class callers
// retiring a key with no live entry get InvariantViolation - retirement of
// a never-allocated key is a caller bug, not a recoverable runtime state.
func (s *Sparse) Retire(key uint64, gen uint64) error {
	h, ok := s.live[key]
	if !ok {
		return errs.Newf(errs.InvariantViolation, "retire of unallocated sparse key %d", key)
	}
	delete(s.live, key)
	s.retired = append(s.retired, retiredEntry{key: key, gen: gen, slots: h})
	return nil
}

// Lookup returns the live handle for key, if any.
func (s *Sparse) Lookup(key uint64) (Handle, bool) {
	h, ok := s.live[key]
	return h, ok
}

// Read resolves key's live allocation to its backing slice, or
// UnknownField if key has no live entry.
func (s *Sparse) Read(key uint64) ([]float32, error) {
	h, ok := s.live[key]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "sparse key %d has no live allocation", key)
	}
	return s.pool.Read(h), nil
}

// Dense gathers every live entry into a cellCount*width slice indexed by
// cell, treating a sparse field's key as the index of the cell it belongs
// to. A live key >= cellCount has no cell and is left out of the result.
// Cells with no live allocation are filled with NaN rather than zero, so a
// pooling read (observe.Max/Min, in particular) can tell "no value" apart
// from a real zero - the Snapshot.Field resolution path spec.md §3
// requires Sparse fields to support alongside Static and PerTick ones.
func (s *Sparse) Dense() []float32 {
	out := make([]float32, s.cellCount*s.width)
	nan := float32(math.NaN())
	for i := range out {
		out[i] = nan
	}
	for key, h := range s.live {
		if key >= uint64(s.cellCount) {
			continue
		}
		copy(out[int(key)*s.width:(int(key)+1)*s.width], s.pool.Read(h))
	}
	return out
}

// LiveCount reports the number of currently-live keys.
func (s *Sparse) LiveCount() int { return len(s.live) }

// RetiredCount reports the number of allocations awaiting their reclaim
// horizon.
func (s *Sparse) RetiredCount() int { return len(s.retired) }
