package topology

import "testing"

func TestLine1DAbsorbBoundary(t *testing.T) {
	l := NewLine1D(5, Absorb)
	if l.CellCount() != 5 {
		t.Fatalf("CellCount = %d, want 5", l.CellCount())
	}
	var dst []int
	dst = l.Neighbors(0, dst[:0])
	if len(dst) != 1 || dst[0] != 1 {
		t.Fatalf("Neighbors(0) = %v, want [1]", dst)
	}
	dst = l.Neighbors(4, dst[:0])
	if len(dst) != 1 || dst[0] != 3 {
		t.Fatalf("Neighbors(4) = %v, want [3]", dst)
	}
}

func TestRing1DWraps(t *testing.T) {
	r := NewRing1D(4)
	var dst []int
	dst = r.Neighbors(0, dst[:0])
	if len(dst) != 2 {
		t.Fatalf("Neighbors(0) len = %d, want 2", len(dst))
	}
	found3, found1 := false, false
	for _, n := range dst {
		if n == 3 {
			found3 = true
		}
		if n == 1 {
			found1 = true
		}
	}
	if !found3 || !found1 {
		t.Fatalf("Neighbors(0) = %v, want to contain 3 and 1", dst)
	}
}

func TestSquare4IndexRoundTrip(t *testing.T) {
	s := NewSquare4(3, 3, Clamp)
	for i := 0; i < s.CellCount(); i++ {
		coord := s.Coord(i)
		if got := s.Index(coord); got != i {
			t.Fatalf("Index(Coord(%d)) = %d, want %d", i, got, i)
		}
	}
}

func TestSquare4NeighborCountInterior(t *testing.T) {
	s := NewSquare4(5, 5, Absorb)
	center := s.Index([]float64{2, 2})
	var dst []int
	dst = s.Neighbors(center, dst[:0])
	if len(dst) != 4 {
		t.Fatalf("interior neighbor count = %d, want 4", len(dst))
	}
}

func TestSquare8CornerAbsorb(t *testing.T) {
	s := NewSquare8(5, 5, Absorb)
	var dst []int
	dst = s.Neighbors(0, dst[:0]) // top-left corner
	if len(dst) != 3 {
		t.Fatalf("corner neighbor count = %d, want 3 (only interior-facing)", len(dst))
	}
}

func TestGraphDistanceBFSRadius(t *testing.T) {
	s := NewSquare4(7, 7, Absorb)
	dist := make([]int, s.CellCount())
	for i := range dist {
		dist[i] = -1
	}
	center := s.Index([]float64{3, 3})
	GraphDistanceBFS(s, center, 2, dist, nil, nil)

	if dist[center] != 0 {
		t.Fatalf("dist[center] = %d, want 0", dist[center])
	}
	neighbor := s.Index([]float64{4, 3})
	if dist[neighbor] != 1 {
		t.Fatalf("dist[neighbor] = %d, want 1", dist[neighbor])
	}
	far := s.Index([]float64{0, 0})
	if dist[far] != -1 {
		t.Fatalf("dist[far] = %d, want -1 (outside radius)", dist[far])
	}
}
