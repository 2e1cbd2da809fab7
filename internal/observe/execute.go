package observe

import (
	"math"

	"github.com/tachyon-beep/murk-sub003/internal/arena"
	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// execState holds the reusable scratch buffers one ObsPlan's Execute calls
// reuse across ticks, the same "allocate once, clear and reuse" discipline
// as FlowField.queue / FlowField.integration.
type execState struct {
	dist   []int
	queue  []int
	nbr    []int
	region []int
}

// Execute gathers, transforms and optionally pools plan's fields from
// snap, against space and the given agent center (ignored for All/Coords
// regions). currentEpoch must match plan.CompiledEpoch or the call fails
// with PlanInvalidated rather than silently executing against a stale
// schema layout. output and mask must be length plan.OutputLen and
// plan.MaskLen respectively; mask[i] is false where no cell was found to
// fill output slot i (AgentDisk/AgentRect only - All/Coords always fill
// every slot).
func (p *ObsPlan) Execute(snap arena.Snapshot, space topology.Space, agentCenter int, currentEpoch uint64, output []float32, mask []bool) error {
	if currentEpoch != p.CompiledEpoch {
		return errs.PlanInvalidatedErr(p.CompiledEpoch, currentEpoch)
	}
	if len(output) != p.OutputLen {
		return errs.Newf(errs.ShapeMismatch, "output length %d, want %d", len(output), p.OutputLen)
	}
	if len(mask) != p.MaskLen {
		return errs.Newf(errs.ShapeMismatch, "mask length %d, want %d", len(mask), p.MaskLen)
	}

	if p.state == nil {
		p.state = &execState{
			dist:   make([]int, space.CellCount()),
			region: make([]int, 0, p.maxRegionSize),
		}
	}

	region := p.resolveRegion(space, agentCenter)
	for i := range mask {
		mask[i] = i < len(region)
	}

	if p.spec.Pool == NoPool {
		p.gatherUnpooled(snap, region, output)
		return nil
	}
	p.gatherPooled(snap, region, output)
	return nil
}

func (p *ObsPlan) resolveRegion(space topology.Space, agentCenter int) []int {
	if p.staticIndices != nil {
		return p.staticIndices
	}

	st := p.state
	switch p.spec.Region.Kind {
	case AgentDisk:
		for i := range st.dist {
			st.dist[i] = -1
		}
		st.queue = topology.GraphDistanceBFS(space, agentCenter, p.spec.Region.Radius, st.dist, st.queue[:0], st.nbr[:0])
		st.region = st.region[:0]
		st.region = append(st.region, st.queue...)
		return st.region
	case AgentRect:
		st.region = st.region[:0]
		center := space.Coord(agentCenter)
		st.region = appendRectIndices(space, center, p.spec.Region.RectHalfExtent, st.region)
		return st.region
	default:
		return nil
	}
}

// appendRectIndices enumerates the hyper-rectangle around center with the
// given per-dimension half extents and appends every valid cell index to
// dst.
func appendRectIndices(space topology.Space, center []float64, halfExtent []float64, dst []int) []int {
	ndim := len(center)
	offsets := make([]int, ndim)
	sides := make([]int, ndim)
	for d := 0; d < ndim; d++ {
		sides[d] = int(halfExtent[d])
	}

	coord := make([]float64, ndim)
	var recurse func(d int)
	recurse = func(d int) {
		if d == ndim {
			for i := range coord {
				coord[i] = center[i] + float64(offsets[i])
			}
			if idx := space.Index(coord); idx != -1 {
				dst = append(dst, idx)
			}
			return
		}
		for o := -sides[d]; o <= sides[d]; o++ {
			offsets[d] = o
			recurse(d + 1)
		}
	}
	recurse(0)
	return dst
}

// gatherUnpooled writes one fixed-stride block per field into output: each
// block has capacity p.MaskLen cells (the plan's reserved region
// capacity), so output's layout never depends on how many cells this
// particular call actually found - AgentDisk/AgentRect slots beyond
// len(region) are filled with NaN and their mask entry is false.
func (p *ObsPlan) gatherUnpooled(snap arena.Snapshot, region []int, output []float32) {
	stride := p.MaskLen
	componentOffset := 0
	for fi, id := range p.spec.Fields {
		w := p.widths[fi]
		field, err := snap.Field(id)
		for ri := 0; ri < stride; ri++ {
			for c := 0; c < w; c++ {
				idx := componentOffset + ri*w + c
				if err != nil || ri >= len(region) {
					output[idx] = float32(math.NaN())
					continue
				}
				cell := region[ri]
				output[idx] = p.transform(field[cell*w+c])
			}
		}
		componentOffset += w * stride
	}
}

func (p *ObsPlan) gatherPooled(snap arena.Snapshot, region []int, output []float32) {
	out := 0
	for fi, id := range p.spec.Fields {
		w := p.widths[fi]
		field, err := snap.Field(id)
		if err != nil {
			for c := 0; c < w; c++ {
				output[out+c] = float32(math.NaN())
			}
			out += w
			continue
		}
		for c := 0; c < w; c++ {
			output[out+c] = p.pool(field, region, w, c)
		}
		out += w
	}
}

func (p *ObsPlan) pool(field []float32, region []int, width, component int) float32 {
	if len(region) == 0 {
		return float32(math.NaN())
	}
	switch p.spec.Pool {
	case Sum:
		var acc float32
		for _, cell := range region {
			acc += p.transform(field[cell*width+component])
		}
		return acc
	case Mean:
		var acc float32
		for _, cell := range region {
			acc += p.transform(field[cell*width+component])
		}
		return acc / float32(len(region))
	case Max:
		acc := float32(math.Inf(-1))
		for _, cell := range region {
			v := p.transform(field[cell*width+component])
			if math.IsNaN(float64(v)) {
				return v
			}
			if v > acc {
				acc = v
			}
		}
		return acc
	case Min:
		acc := float32(math.Inf(1))
		for _, cell := range region {
			v := p.transform(field[cell*width+component])
			if math.IsNaN(float64(v)) {
				return v
			}
			if v < acc {
				acc = v
			}
		}
		return acc
	default:
		return float32(math.NaN())
	}
}

func (p *ObsPlan) transform(v float32) float32 {
	switch p.spec.Transform.Kind {
	case Normalize:
		span := p.spec.Transform.Max - p.spec.Transform.Min
		if span == 0 {
			return 0
		}
		return (v - p.spec.Transform.Min) / span
	default:
		return v
	}
}
