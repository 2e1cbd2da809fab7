// Package observe implements the observation planner (spec.md §4.11-4.12):
// compiling an ObsSpec into a reusable ObsPlan, then executing that plan
// against a published generation to produce a flat float32 tensor.
package observe

import "github.com/tachyon-beep/murk-sub003/internal/schema"

// RegionKind selects how a spec's cell region is determined.
type RegionKind int

const (
	// All selects every cell in the space.
	All RegionKind = iota
	// Coords selects an explicit, caller-supplied list of cell indices.
	Coords
	// AgentDisk selects every cell within a graph-distance radius of an
	// agent-supplied center cell.
	AgentDisk
	// AgentRect selects a hyper-rectangle of cells around an
	// agent-supplied center coordinate.
	AgentRect
)

// Region describes which cells an ObsSpec gathers from.
type Region struct {
	Kind RegionKind

	// Coords-only: explicit cell indices.
	CellIndices []int

	// AgentDisk-only. Center is not read by Compile or Execute: the disk
	// is centred on the agentCenter cell passed to Execute.
	Center int
	Radius int

	// AgentRect-only: per-dimension half extents in the space's native
	// coordinate system. RectCenter is not read by Compile or Execute: the
	// rectangle is centred on the coordinate of the agentCenter cell
	// passed to Execute.
	RectCenter     []float64
	RectHalfExtent []float64
}

// TransformKind selects a post-gather elementwise transform.
type TransformKind int

const (
	Identity TransformKind = iota
	Normalize
)

// Transform configures an elementwise transform applied after gathering
// and before pooling.
type Transform struct {
	Kind     TransformKind
	Min, Max float32 // Normalize-only: maps [Min, Max] -> [0, 1]
}

// PoolKind selects a reduction applied across the gathered region,
// collapsing it to one value per field instead of one value per cell.
type PoolKind int

const (
	NoPool PoolKind = iota
	Mean
	Max
	Min
	Sum
)

// ObsSpec is the declarative description of one observation: which
// fields, which region, what transform, and whether the region is
// reduced to a single pooled value per field.
type ObsSpec struct {
	Fields    []schema.FieldId
	Region    Region
	Transform Transform
	Pool      PoolKind
}
