// Package topology implements the Space capability spec.md treats as an
// external collaborator: it owns cell counting, canonical iteration order,
// neighbor queries (for CFL checks and diffusion-style propagators) and
// graph-distance queries (for the AgentDisk observation region).
//
// Only a small reference set of backends is implemented here - Line1D,
// Ring1D, Square4 and Square8 - enough to drive the engine's own tests and
// the spec's end-to-end scenarios. Hex2D, Fcc12 and ProductSpace are named
// in spec.md as consumed-not-built topology backends and are left to
// callers that need them; the Space interface is the actual contract.
package topology

import "math"

// Space is the capability contract every topology backend satisfies.
type Space interface {
	// CellCount is the total number of cells, fixed for the Space's lifetime.
	CellCount() int
	// NDim is the coordinate dimensionality (used to validate AgentRect).
	NDim() int
	// Index maps a coordinate to its canonical cell index, or -1 if the
	// coordinate is out of bounds.
	Index(coord []float64) int
	// Coord maps a canonical cell index back to a representative coordinate.
	Coord(index int) []float64
	// Neighbors appends the canonical indices of cells adjacent to index
	// into dst (reused to avoid allocation) and returns the extended slice.
	Neighbors(index int, dst []int) []int
	// NeighborCount is the fixed out-degree used by CFL checks
	// (neighbour_count x D x dt < 1).
	NeighborCount() int
}

// Line1D is a finite one-dimensional line of cells with a boundary policy
// applied at the two ends for neighbor queries (Absorb omits the missing
// neighbor; Wrap links end to end; Reflect mirrors back into bounds).
type Line1D struct {
	length int
	policy BoundaryPolicy
}

// BoundaryPolicy controls how out-of-range coordinates and missing
// neighbors are resolved at the edges of a bounded topology.
type BoundaryPolicy int

const (
	Clamp BoundaryPolicy = iota
	Reflect
	Absorb
	Wrap
)

// NewLine1D builds a Line1D of the given length (must be positive).
func NewLine1D(length int, policy BoundaryPolicy) *Line1D {
	if length <= 0 {
		panic("topology: Line1D length must be positive")
	}
	return &Line1D{length: length, policy: policy}
}

func (l *Line1D) CellCount() int { return l.length }
func (l *Line1D) NDim() int      { return 1 }

func (l *Line1D) Index(coord []float64) int {
	if len(coord) != 1 {
		return -1
	}
	i := int(math.Round(coord[0]))
	if i < 0 || i >= l.length {
		return -1
	}
	return i
}

func (l *Line1D) Coord(index int) []float64 {
	return []float64{float64(index)}
}

func (l *Line1D) Neighbors(index int, dst []int) []int {
	for _, d := range [2]int{-1, 1} {
		n := index + d
		switch {
		case n >= 0 && n < l.length:
			dst = append(dst, n)
		case l.policy == Wrap:
			dst = append(dst, ((n%l.length)+l.length)%l.length)
		case l.policy == Reflect:
			if n < 0 {
				dst = append(dst, -n)
			} else {
				dst = append(dst, 2*l.length-n-2)
			}
			// Absorb/Clamp: no neighbor contributed at this edge.
		}
	}
	return dst
}

func (l *Line1D) NeighborCount() int { return 2 }

// Ring1D is a 1D topology with wraparound at both ends - a Line1D pinned to
// the Wrap boundary policy, kept as a distinct named type because spec.md
// lists it as its own Space variant.
type Ring1D struct {
	inner *Line1D
}

func NewRing1D(length int) *Ring1D {
	return &Ring1D{inner: NewLine1D(length, Wrap)}
}

func (r *Ring1D) CellCount() int                      { return r.inner.CellCount() }
func (r *Ring1D) NDim() int                            { return 1 }
func (r *Ring1D) Index(coord []float64) int            { return r.inner.Index(coord) }
func (r *Ring1D) Coord(index int) []float64            { return r.inner.Coord(index) }
func (r *Ring1D) Neighbors(i int, dst []int) []int     { return r.inner.Neighbors(i, dst) }
func (r *Ring1D) NeighborCount() int                   { return 2 }

// Square4 is a 2D grid with 4-connectivity (von Neumann neighborhood),
// row-major canonical order - the same cell-index scheme as
// spatial.SpatialGrid in the teacher, generalized from a continuous
// collision grid to a discrete cell topology.
type Square4 struct {
	cols, rows int
	policy     BoundaryPolicy
}

func NewSquare4(cols, rows int, policy BoundaryPolicy) *Square4 {
	if cols <= 0 || rows <= 0 {
		panic("topology: Square4 dimensions must be positive")
	}
	return &Square4{cols: cols, rows: rows, policy: policy}
}

func (s *Square4) CellCount() int { return s.cols * s.rows }
func (s *Square4) NDim() int      { return 2 }

func (s *Square4) Index(coord []float64) int {
	if len(coord) != 2 {
		return -1
	}
	col := int(math.Round(coord[0]))
	row := int(math.Round(coord[1]))
	if col < 0 || col >= s.cols || row < 0 || row >= s.rows {
		return -1
	}
	return row*s.cols + col
}

func (s *Square4) Coord(index int) []float64 {
	return []float64{float64(index % s.cols), float64(index / s.cols)}
}

func (s *Square4) resolveEdge(col, row int) (int, int, bool) {
	switch s.policy {
	case Wrap:
		col = ((col % s.cols) + s.cols) % s.cols
		row = ((row % s.rows) + s.rows) % s.rows
		return col, row, true
	case Clamp:
		if col < 0 {
			col = 0
		} else if col >= s.cols {
			col = s.cols - 1
		}
		if row < 0 {
			row = 0
		} else if row >= s.rows {
			row = s.rows - 1
		}
		return col, row, true
	default: // Absorb, Reflect (reflect not meaningful off-axis; treat as absorb)
		return 0, 0, false
	}
}

func (s *Square4) Neighbors(index int, dst []int) []int {
	col, row := index%s.cols, index/s.cols
	deltas := [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for _, d := range deltas {
		nc, nr := col+d[0], row+d[1]
		if nc >= 0 && nc < s.cols && nr >= 0 && nr < s.rows {
			dst = append(dst, nr*s.cols+nc)
			continue
		}
		if rc, rr, ok := s.resolveEdge(nc, nr); ok {
			dst = append(dst, rr*s.cols+rc)
		}
	}
	return dst
}

func (s *Square4) NeighborCount() int { return 4 }

// Square8 is Square4 extended to the Moore (8-connected) neighborhood.
type Square8 struct {
	*Square4
}

func NewSquare8(cols, rows int, policy BoundaryPolicy) *Square8 {
	return &Square8{Square4: NewSquare4(cols, rows, policy)}
}

func (s *Square8) Neighbors(index int, dst []int) []int {
	col, row := index%s.cols, index/s.cols
	deltas := [8][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
	for _, d := range deltas {
		nc, nr := col+d[0], row+d[1]
		if nc >= 0 && nc < s.cols && nr >= 0 && nr < s.rows {
			dst = append(dst, nr*s.cols+nc)
			continue
		}
		if rc, rr, ok := s.resolveEdge(nc, nr); ok {
			dst = append(dst, rr*s.cols+rc)
		}
	}
	return dst
}

func (s *Square8) NeighborCount() int { return 8 }

// GraphDistanceBFS computes, for every cell reachable from center within
// radius hops, its hop distance, using reusable scratch buffers to stay
// allocation-free on repeated calls (the same shape as
// spatial.FlowField's integration-field BFS, bounded by radius instead of
// run to convergence). dist must have length CellCount() and be pre-filled
// with -1 by the caller; reached cells are overwritten with their hop
// distance. queue and nbrScratch are scratch buffers (len 0 is fine;
// capacity grows as needed). Only queue is returned, so only its grown
// capacity reaches the caller; growth of nbrScratch stays local to the call.
func GraphDistanceBFS(sp Space, center int, radius int, dist []int, queue []int, nbrScratch []int) []int {
	queue = queue[:0]
	dist[center] = 0
	queue = append(queue, center)

	head := 0
	for head < len(queue) {
		cur := queue[head]
		head++
		d := dist[cur]
		if d >= radius {
			continue
		}
		nbrScratch = sp.Neighbors(cur, nbrScratch[:0])
		for _, n := range nbrScratch {
			if dist[n] == -1 {
				dist[n] = d + 1
				queue = append(queue, n)
			}
		}
	}
	return queue
}
