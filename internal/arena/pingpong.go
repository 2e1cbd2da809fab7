package arena

import (
	"sync/atomic"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
)

// Descriptor locates one PerTick field's slice within a ping-pong buffer.
type Descriptor struct {
	Offset int
	Length int
}

// Snapshot is a read-only view of one published generation of the
// ping-pong arena: stable until the next Publish advances the arena past
// it, matching the lifetime contract of SnapshotPool.AcquireRead in the
// teacher, generalized from a fixed triple buffer to an atomically swapped
// pair since only one reader generation needs to stay alive at a time here
// (replay/observe consumers copy out what they need before the next tick).
type Snapshot struct {
	Buf        []float32
	Generation uint64
	descs      map[schema.FieldId]Descriptor

	// static and sparse let Field resolve Static and Sparse fields too, so
	// a Snapshot is "sufficient to resolve any field by FieldId" (spec.md
	// §3) rather than only the PerTick ones the ping-pong arena itself
	// owns. Both are nil-safe: a bare Snapshot with neither attached still
	// resolves PerTick fields exactly as before.
	static *Static
	sparse map[schema.FieldId]*Sparse
}

// Field returns the snapshot's slice for a field, resolving it as PerTick,
// then Static, then Sparse (a field is never more than one of these, so
// resolution order only matters for which UnknownField message wins).
func (s Snapshot) Field(id schema.FieldId) ([]float32, error) {
	if d, ok := s.descs[id]; ok {
		return s.Buf[d.Offset : d.Offset+d.Length], nil
	}
	if s.static != nil {
		if v, err := s.static.Read(id); err == nil {
			return v, nil
		}
	}
	if sp, ok := s.sparse[id]; ok {
		return sp.Dense(), nil
	}
	return nil, errs.Newf(errs.UnknownField, "field %d is not resolvable from this snapshot", id)
}

// PingPong is the double-buffered arena for schema.PerTick fields: one
// buffer is the published base generation, readable by any number of
// concurrent observers; the other is the staging buffer the current tick
// writes into. Publish atomically swaps them and bumps the generation
// counter - the same shape as SnapshotPool.PublishWrite, generalized from
// a fixed 3-slot ring to 2 slots since a tick never runs concurrently with
// another tick (BeginTick's re-entry guard enforces that), only with
// readers of the previously published generation.
type PingPong struct {
	buffers    [2][]float32
	descs      map[schema.FieldId]Descriptor
	zeroDescs  []Descriptor // staging regions BeginTick resets to zero (Full write mode fields)
	static     *Static
	sparse     map[schema.FieldId]*Sparse
	currentIdx uint32 // atomic: index of the published (readable) buffer
	generation uint64 // atomic
	inTick     uint32 // atomic bool: re-entry guard
}

// NewPingPong lays out every PerTick field of sch across two equally
// shaped buffers.
func NewPingPong(sch *schema.Schema) (*PingPong, error) {
	descs := make(map[schema.FieldId]Descriptor)
	total := 0
	for _, f := range sch.All() {
		if f.Mutability != schema.PerTick {
			continue
		}
		n, err := sch.Elements(f.ID)
		if err != nil {
			return nil, err
		}
		next := total + n
		if next < total {
			return nil, errs.Newf(errs.ArithmeticOverflow, "ping-pong layout overflow at field %d (%s)", f.ID, f.Name)
		}
		descs[f.ID] = Descriptor{Offset: total, Length: n}
		total = next
	}

	return &PingPong{
		buffers: [2][]float32{make([]float32, total), make([]float32, total)},
		descs:   descs,
	}, nil
}

// AttachStaticSparse records the Static arena and Sparse slabs this
// ping-pong's Snapshot should also resolve fields from. Called once at
// engine construction; a PingPong with neither attached still works for
// PerTick-only schemas.
func (p *PingPong) AttachStaticSparse(static *Static, sparse map[schema.FieldId]*Sparse) {
	p.static = static
	p.sparse = sparse
}

// SetFullWriteFields marks which PerTick fields some propagator declares a
// Full write against, so BeginTick resets their staging region to zero
// instead of inheriting the last published values - anything not in ids
// keeps copy-forward (Incremental) semantics. Called once after the
// pipeline is validated.
func (p *PingPong) SetFullWriteFields(ids []schema.FieldId) {
	p.zeroDescs = p.zeroDescs[:0]
	for _, id := range ids {
		if d, ok := p.descs[id]; ok {
			p.zeroDescs = append(p.zeroDescs, d)
		}
	}
}

// TickGuard is returned by BeginTick and released by Publish or Abort; it
// exists as a distinct value (rather than a bare bool) so callers cannot
// forget which staging buffer a tick is writing into.
type TickGuard struct {
	staging int
}

// BeginTick opens a new write generation, copying the currently published
// buffer into staging so that propagators which don't touch a given field
// this tick (Incremental write mode) inherit its last published value
// unchanged. Fields some propagator declared a Full write against are then
// zeroed instead of carrying forward stale values, since their declared
// writer is expected to supply every component fresh this tick (spec.md
// §4.6). Calling BeginTick while a tick is already open is an
// InvariantViolation - the pipeline never starts a second tick before the
// first publishes or aborts.
func (p *PingPong) BeginTick() (TickGuard, error) {
	if !atomic.CompareAndSwapUint32(&p.inTick, 0, 1) {
		return TickGuard{}, errs.New(errs.InvariantViolation, "begin_tick called while a tick is already in progress")
	}
	cur := atomic.LoadUint32(&p.currentIdx)
	staging := 1 - int(cur)
	copy(p.buffers[staging], p.buffers[cur])
	for _, d := range p.zeroDescs {
		z := p.buffers[staging][d.Offset : d.Offset+d.Length]
		for i := range z {
			z[i] = 0
		}
	}
	return TickGuard{staging: staging}, nil
}

// Staging returns the mutable slice for a PerTick field within the tick
// guarded by g.
func (p *PingPong) Staging(g TickGuard, id schema.FieldId) ([]float32, error) {
	d, ok := p.descs[id]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "field %d is not a per-tick field", id)
	}
	return p.buffers[g.staging][d.Offset : d.Offset+d.Length], nil
}

// Base returns the currently published (read-only by convention) slice
// for a PerTick field - the value every propagator's Jacobi-mode read sees
// regardless of what else has written staging this tick.
func (p *PingPong) Base(id schema.FieldId) ([]float32, error) {
	d, ok := p.descs[id]
	if !ok {
		return nil, errs.Newf(errs.UnknownField, "field %d is not a per-tick field", id)
	}
	cur := atomic.LoadUint32(&p.currentIdx)
	return p.buffers[cur][d.Offset : d.Offset+d.Length], nil
}

// Publish atomically swaps staging to become the new base generation,
// bumps the generation counter, and releases the tick guard. Publishing a
// guard from a stale (already-closed) tick is an InvariantViolation.
func (p *PingPong) Publish(g TickGuard) (uint64, error) {
	if atomic.LoadUint32(&p.inTick) == 0 {
		return 0, errs.New(errs.InvariantViolation, "publish called with no tick in progress")
	}
	atomic.StoreUint32(&p.currentIdx, uint32(g.staging))
	gen := atomic.AddUint64(&p.generation, 1)
	atomic.StoreUint32(&p.inTick, 0)
	return gen, nil
}

// Abort releases the tick guard without publishing, discarding whatever
// was written to staging this tick - used when a propagator fails mid-tick
// and the pipeline must leave the last published generation untouched.
func (p *PingPong) Abort(_ TickGuard) {
	atomic.StoreUint32(&p.inTick, 0)
}

// CurrentSnapshot returns a read-only view of the currently published
// generation.
func (p *PingPong) CurrentSnapshot() Snapshot {
	cur := atomic.LoadUint32(&p.currentIdx)
	return Snapshot{
		Buf:        p.buffers[cur],
		Generation: atomic.LoadUint64(&p.generation),
		descs:      p.descs,
		static:     p.static,
		sparse:     p.sparse,
	}
}

// Generation returns the currently published generation counter.
func (p *PingPong) Generation() uint64 {
	return atomic.LoadUint64(&p.generation)
}
