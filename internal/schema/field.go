// Package schema defines field identity and the immutable-after-construction
// field schema (spec.md §3).
package schema

import (
	"fmt"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// FieldId is the compact unsigned tag assigned at schema registration.
type FieldId uint32

// ComponentKind describes how many floats per cell a field carries and how
// to interpret them.
type ComponentKind int

const (
	Scalar ComponentKind = iota
	Vector
	Categorical
)

// Mutability controls a field's memory class and allocation cadence.
type Mutability int

const (
	Static Mutability = iota
	PerTick
	Sparse
)

func (m Mutability) String() string {
	switch m {
	case Static:
		return "Static"
	case PerTick:
		return "PerTick"
	case Sparse:
		return "Sparse"
	default:
		return fmt.Sprintf("Mutability(%d)", int(m))
	}
}

// Bounds is an optional (min, max) range, applied with the field's
// Boundary policy to values written by SetField commands. Values a
// propagator writes into staging are not bounded.
type Bounds struct {
	Min, Max float32
	Enabled  bool
}

// Field is the immutable-after-construction record for one FieldId.
type Field struct {
	ID         FieldId
	Name       string
	Kind       ComponentKind
	Mutability Mutability
	Bounds     Bounds
	Boundary   topology.BoundaryPolicy
}

// Components returns how many float32 components each cell of this field
// carries.
func (f Field) Components(vectorWidth int) int {
	switch f.Kind {
	case Scalar, Categorical:
		return 1
	case Vector:
		if vectorWidth < 1 {
			return 1
		}
		return vectorWidth
	default:
		return 1
	}
}

// VectorField additionally carries the component count for Vector-kind
// fields (scalar/categorical fields are always width 1).
type VectorField struct {
	Field
	Width int // only meaningful when Kind == Vector
}

// Schema is the immutable, validated collection of fields registered at
// world construction. Construction rejects duplicate FieldIds and overflow
// of the cumulative element count.
type Schema struct {
	fields    []VectorField
	byID      map[FieldId]int // index into fields
	cellCount int
}

// Build validates and constructs a Schema. Duplicate FieldIds fail with
// DuplicateFieldId; an overflowing cumulative size fails with
// ArithmeticOverflow.
func Build(cellCount int, fields []VectorField) (*Schema, error) {
	if cellCount <= 0 {
		return nil, errs.New(errs.InvalidSpaceParams, "cell count must be positive")
	}
	byID := make(map[FieldId]int, len(fields))
	var total int64
	for i, f := range fields {
		if _, dup := byID[f.ID]; dup {
			return nil, errs.Newf(errs.DuplicateFieldId, "field id %d (%s) registered more than once", f.ID, f.Name)
		}
		byID[f.ID] = i

		width := f.Components(f.Width)
		elems := int64(cellCount) * int64(width)
		if elems < 0 || elems > (1<<62) {
			return nil, errs.Newf(errs.ArithmeticOverflow, "field %d (%s) size overflow", f.ID, f.Name)
		}
		total += elems
		if total < 0 {
			return nil, errs.Newf(errs.ArithmeticOverflow, "cumulative schema size overflow at field %d", f.ID)
		}
	}
	return &Schema{fields: fields, byID: byID, cellCount: cellCount}, nil
}

// CellCount is the fixed cell count the schema was built against.
func (s *Schema) CellCount() int { return s.cellCount }

// Len returns the number of registered fields.
func (s *Schema) Len() int { return len(s.fields) }

// Lookup returns the field for id, or (zero, false) if unregistered.
func (s *Schema) Lookup(id FieldId) (VectorField, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return VectorField{}, false
	}
	return s.fields[idx], true
}

// MustLookup returns the field for id or an UnknownField error.
func (s *Schema) MustLookup(id FieldId) (VectorField, error) {
	f, ok := s.Lookup(id)
	if !ok {
		return VectorField{}, errs.Newf(errs.UnknownField, "unknown field id %d", id)
	}
	return f, nil
}

// Elements returns the total float32 element count for a field
// (cell_count x components_per_cell, per spec.md §3's invariant).
func (s *Schema) Elements(id FieldId) (int, error) {
	f, err := s.MustLookup(id)
	if err != nil {
		return 0, err
	}
	return s.cellCount * f.Components(f.Width), nil
}

// All returns every registered field, in registration order - ascending
// FieldId order is NOT guaranteed. Callers needing canonical order (e.g.
// replay.HashSnapshot) sort explicitly.
func (s *Schema) All() []VectorField {
	return s.fields
}

// ApplyBoundaryPolicy clamps/reflects/absorbs/wraps a single value into a
// field's configured bounds. Absorb means "let it through unmodified but the
// caller may choose to zero/flag it"; this helper implements Clamp, Reflect
// and Wrap, and passes Absorb through unchanged, matching spec.md §3's
// "boundary policy applied on writes" contract.
func ApplyBoundaryPolicy(policy topology.BoundaryPolicy, b Bounds, v float32) float32 {
	if !b.Enabled {
		return v
	}
	switch policy {
	case topology.Clamp:
		if v < b.Min {
			return b.Min
		}
		if v > b.Max {
			return b.Max
		}
		return v
	case topology.Wrap:
		span := b.Max - b.Min
		if span <= 0 {
			return v
		}
		for v < b.Min {
			v += span
		}
		for v > b.Max {
			v -= span
		}
		return v
	case topology.Reflect:
		if v < b.Min {
			return b.Min + (b.Min - v)
		}
		if v > b.Max {
			return b.Max - (v - b.Max)
		}
		return v
	case topology.Absorb:
		return v
	default:
		return v
	}
}
