package arena

import (
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
)

// Static is the immutable-after-construction arena for schema.Static
// fields: one flat buffer with a fixed offset per field, built once at
// world construction and never resized (spec.md §4.2).
type Static struct {
	buf     []float32
	offsets map[schema.FieldId]int
	lengths map[schema.FieldId]int
}

// BuildStatic lays out every Static-mutability field of sch into one flat
// buffer in schema registration order. Duplicate field ids are already
// rejected by schema.Build; this additionally rejects a cumulative size
// that would overflow a Go int (ArithmeticOverflow), matching the check
// segment.Pool applies to individual allocations.
func BuildStatic(sch *schema.Schema) (*Static, error) {
	offsets := make(map[schema.FieldId]int)
	lengths := make(map[schema.FieldId]int)

	total := 0
	for _, f := range sch.All() {
		if f.Mutability != schema.Static {
			continue
		}
		n, err := sch.Elements(f.ID)
		if err != nil {
			return nil, err
		}
		next := total + n
		if next < total {
			return nil, errs.Newf(errs.ArithmeticOverflow, "static arena layout overflow at field %d (%s)", f.ID, f.Name)
		}
		offsets[f.ID] = total
		lengths[f.ID] = n
		total = next
	}

	return &Static{
		buf:     make([]float32, total),
		offsets: offsets,
		lengths: lengths,
	}, nil
}

// Read returns the slice for a Static field. UnknownField if the field was
// never registered as Static.
func (s *Static) Read(id schema.FieldId) ([]float32, error) {
	off, ok := s.offsets[id]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "field %d is not a static field", id)
	}
	return s.buf[off : off+s.lengths[id]], nil
}

// Write returns a mutable slice for a Static field, used only during world
// construction/seeding - propagators never hold a Static field in their
// writes() set (spec.md §4.4 treats Static as read-only to propagators).
func (s *Static) Write(id schema.FieldId) ([]float32, error) {
	off, ok := s.offsets[id]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "field %d is not a static field", id)
	}
	return s.buf[off : off+s.lengths[id]], nil
}
