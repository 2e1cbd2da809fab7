package observe

import (
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// ObsPlan is the compiled, reusable form of an ObsSpec: field widths are
// resolved, Coords/All regions are gathered once up front, and
// AgentDisk/AgentRect regions get a fixed capacity (their actual
// membership is resolved per Execute call against a caller-supplied
// agent center, since it moves tick to tick).
type ObsPlan struct {
	spec   ObsSpec
	widths []int // per spec.Fields, components per cell
	total  int   // sum(widths)

	staticIndices []int // populated for All/Coords; nil otherwise
	maxRegionSize int    // capacity reserved for AgentDisk/AgentRect gathers

	// CompiledEpoch pins the world epoch this plan was compiled against;
	// Execute rejects a mismatched current epoch with PlanInvalidated
	// rather than silently gathering from a schema that may have been
	// rebuilt by a Reset since compilation (spec.md §9's "reset bumps a
	// generation cookie" decision, recorded in the design ledger).
	CompiledEpoch uint64

	// OutputLen and MaskLen are the fixed sizes Execute always produces,
	// regardless of how many cells an AgentDisk/AgentRect query actually
	// finds in bounds this call - callers allocate output buffers once.
	OutputLen int
	MaskLen   int

	state *execState // lazily allocated on first Execute call
}

// Compile validates spec against sch and space and produces a reusable
// ObsPlan. epoch is the world's current epoch cookie, stored as the
// plan's CompiledEpoch.
func Compile(spec ObsSpec, sch *schema.Schema, space topology.Space, epoch uint64) (*ObsPlan, error) {
	if len(spec.Fields) == 0 {
		return nil, errs.New(errs.InvalidObsSpec, "obs spec names no fields")
	}

	widths := make([]int, len(spec.Fields))
	total := 0
	for i, id := range spec.Fields {
		f, err := sch.MustLookup(id)
		if err != nil {
			return nil, errs.Newf(errs.InvalidObsSpec, "obs spec references unknown field %d", id)
		}
		w := f.Components(f.Width)
		widths[i] = w
		total += w
	}

	p := &ObsPlan{spec: spec, widths: widths, total: total, CompiledEpoch: epoch}

	switch spec.Region.Kind {
	case All:
		p.staticIndices = make([]int, sch.CellCount())
		for i := range p.staticIndices {
			p.staticIndices[i] = i
		}
	case Coords:
		for _, idx := range spec.Region.CellIndices {
			if idx < 0 || idx >= sch.CellCount() {
				return nil, errs.Newf(errs.InvalidObsSpec, "obs spec coord %d out of range [0,%d)", idx, sch.CellCount())
			}
		}
		p.staticIndices = append([]int(nil), spec.Region.CellIndices...)
	case AgentDisk:
		if spec.Region.Radius < 0 {
			return nil, errs.New(errs.InvalidObsSpec, "agent disk radius must be non-negative")
		}
		p.maxRegionSize = maxDiskCells(space, spec.Region.Radius)
	case AgentRect:
		if len(spec.Region.RectHalfExtent) != space.NDim() {
			return nil, errs.Newf(errs.DimensionMismatch, "rect half_extent has %d dims, space has %d", len(spec.Region.RectHalfExtent), space.NDim())
		}
		p.maxRegionSize = maxRectCells(spec.Region.RectHalfExtent)
	default:
		return nil, errs.Newf(errs.InvalidObsSpec, "unknown region kind %d", spec.Region.Kind)
	}

	regionSize := p.regionCapacity(sch.CellCount())
	if spec.Pool != NoPool {
		p.OutputLen = total
	} else {
		p.OutputLen = total * regionSize
	}
	p.MaskLen = regionSize

	return p, nil
}

func (p *ObsPlan) regionCapacity(cellCount int) int {
	if p.staticIndices != nil {
		return len(p.staticIndices)
	}
	if p.maxRegionSize > cellCount {
		return cellCount
	}
	return p.maxRegionSize
}

// maxDiskCells estimates the worst-case cell count within graph-distance
// radius of any center, using the space's fixed out-degree k (the same
// NeighborCount() CFL checks use) as an upper bound on each BFS ring's
// growth: 1 + k + k^2 + ... + k^radius, capped at the space's cell count.
func maxDiskCells(space topology.Space, radius int) int {
	n := 1
	ring := 1
	for i := 0; i < radius; i++ {
		ring *= space.NeighborCount()
		n += ring
	}
	if n > space.CellCount() {
		return space.CellCount()
	}
	return n
}

// maxRectCells computes the exact cell count of a hyper-rectangle with
// the given per-dimension half extents (inclusive), truncating each extent
// to an integer the same way appendRectIndices does.
func maxRectCells(halfExtent []float64) int {
	n := 1
	for _, h := range halfExtent {
		side := int(h)*2 + 1
		if side < 1 {
			side = 1
		}
		n *= side
	}
	return n
}
