package replay

import (
	"math"
	"sort"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
)

// NoHash is the sentinel SnapshotHash value meaning "not computed".
// HashSnapshot never returns it: a digest that would come out as zero is
// replaced by 1.
const NoHash uint64 = 0

// HashSnapshot computes a stable FNV-1a digest over every field in snap -
// Static and Sparse included, not just PerTick - visited in ascending
// FieldId order regardless of schema registration order, then in
// canonical (ascending) cell order within each field - spec.md §4.10's
// requirement that two runs producing bit-identical state always hash
// identically, independent of construction-time bookkeeping order or
// sparse-allocation order (Sparse resolves through arena.Sparse.Dense,
// which is itself keyed by cell index rather than allocation order).
func HashSnapshot(sch *schema.Schema, snap arena.Snapshot) uint64 {
	ids := make([]schema.FieldId, 0, sch.Len())
	for _, f := range sch.All() {
		ids = append(ids, f.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)

	for _, id := range ids {
		values, err := snap.Field(id)
		if err != nil {
			continue
		}
		for _, v := range values {
			bits := math.Float32bits(v)
			for i := 0; i < 4; i++ {
				h ^= uint64(byte(bits >> (8 * i)))
				h *= prime64
			}
		}
	}

	if h == NoHash {
		// An empty schema or an all-zero snapshot must still produce a
		// non-zero digest, since 0 is reserved to mean "no hash computed".
		return 1
	}
	return h
}
