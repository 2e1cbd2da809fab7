package arena

// Scratch is the per-tick bump-allocated region propagators borrow working
// storage from (spec.md §4.6). Unlike Pool, Scratch never grows past its
// configured budget and never returns an error - Alloc returns nil when
// the request doesn't fit, and callers that need scratch space are
// expected to treat nil as "compute without it" (e.g. fall back to a
// narrower kernel) rather than fail the tick.
type Scratch struct {
	buf    []float32
	cursor int
}

// NewScratch reserves a fixed-size scratch region up front; it is never
// resized afterward.
func NewScratch(size int) *Scratch {
	return &Scratch{buf: make([]float32, size)}
}

// Alloc bump-allocates length float32s from the region, zeroed, or returns
// nil if the region has no room left this tick.
func (s *Scratch) Alloc(length int) []float32 {
	if length <= 0 {
		return nil
	}
	end := s.cursor + length
	if end < s.cursor || end > len(s.buf) {
		return nil
	}
	out := s.buf[s.cursor:end]
	for i := range out {
		out[i] = 0
	}
	s.cursor = end
	return out
}

// Reset rewinds the bump cursor to the start of the region; the tick engine
// calls it before each propagator's Step.
func (s *Scratch) Reset() {
	s.cursor = 0
}

// Len reports the scratch region's fixed capacity.
func (s *Scratch) Len() int { return len(s.buf) }

// Remaining reports how many float32s are still available this tick.
func (s *Scratch) Remaining() int { return len(s.buf) - s.cursor }
