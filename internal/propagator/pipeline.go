package propagator

import (
	"sort"

	"github.com/tachyon-beep/murk-sub003/internal/errs"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// Pipeline is the validated, ordered set of propagators a World steps each
// tick.
type Pipeline struct {
	props    []Propagator
	readPlan []map[schema.FieldId]ReadMode // indexed by position in props
}

// writeDecl is one (field, propagator) write declaration, the equivalent
// of one SAPEndpoint in the teacher's sweep: instead of a min/max pair on
// a spatial axis, every write is a single point on the FieldId axis, and
// "overlap" means two points share the same FieldId.
type writeDecl struct {
	field schema.FieldId
	prop  int
	mode  WriteMode
}

// Validate checks a candidate propagator list against spec.md §4.5's
// startup invariants and returns a Pipeline ready to step, in the order
// supplied (propagator ordering within a tick is caller-determined;
// Validate only checks the set is internally consistent).
func Validate(sch *schema.Schema, space topology.Space, dt float64, props []Propagator) (*Pipeline, error) {
	for _, p := range props {
		for _, r := range p.Reads() {
			if _, err := sch.MustLookup(r.Field); err != nil {
				return nil, errs.Newf(errs.UnknownField, "propagator %q reads unknown field %d", p.Name(), r.Field)
			}
		}
		for _, w := range p.Writes() {
			if _, err := sch.MustLookup(w.Field); err != nil {
				return nil, errs.Newf(errs.UnknownField, "propagator %q writes unknown field %d", p.Name(), w.Field)
			}
		}
		if maxDt, ok := p.MaxDt(space); ok && dt > maxDt {
			return nil, errs.Newf(errs.CflViolation, "propagator %q requires dt <= %g, got %g", p.Name(), maxDt, dt)
		}
	}

	if err := checkWriteConflicts(props); err != nil {
		return nil, err
	}

	readPlan := make([]map[schema.FieldId]ReadMode, len(props))
	for i, p := range props {
		m := make(map[schema.FieldId]ReadMode, len(p.Reads()))
		for _, r := range p.Reads() {
			m[r.Field] = r.Read
		}
		readPlan[i] = m
	}

	return &Pipeline{props: props, readPlan: readPlan}, nil
}

// checkWriteConflicts detects two propagators declaring a write to the
// same field, the same failure spec.md §4.4 names as WriteConflict. The
// detection itself is a sort-then-sweep over write declarations projected
// onto the FieldId axis - the same algorithmic shape as
// spatial.SweepAndPrune's endpoint sweep, specialized to point intervals
// (a single write touches exactly one FieldId, so there is no min/max
// pair, only adjacency after sorting).
func checkWriteConflicts(props []Propagator) error {
	var decls []writeDecl
	for i, p := range props {
		for _, w := range p.Writes() {
			decls = append(decls, writeDecl{field: w.Field, prop: i, mode: w.Write})
		}
	}
	sort.Slice(decls, func(i, j int) bool {
		if decls[i].field != decls[j].field {
			return decls[i].field < decls[j].field
		}
		return decls[i].prop < decls[j].prop
	})

	for i := 1; i < len(decls); i++ {
		if decls[i].field == decls[i-1].field {
			a, b := props[decls[i-1].prop], props[decls[i].prop]
			return errs.WriteConflictErr(uint32(decls[i].field), "", a.Name(), b.Name())
		}
	}
	return nil
}

// Propagators returns the validated, ordered propagator list.
func (p *Pipeline) Propagators() []Propagator { return p.props }

// ReadPlan returns the resolved (field -> read mode) declarations for the
// propagator at position i in Propagators(), keyed by (propagator_index,
// field_id) as spec.md §4.4 requires: the engine hands this to each
// propagator's StepContext so ctx.Read resolves Euler/Jacobi automatically
// instead of trusting the propagator author to call the matching one of
// ReadBase/ReadStaging by hand.
func (p *Pipeline) ReadPlan(i int) map[schema.FieldId]ReadMode { return p.readPlan[i] }

// FullWriteFields returns, in ascending FieldId order, every field some
// propagator declares a Full write against, whatever its mutability
// (PingPong.SetFullWriteFields ignores ids that are not PerTick) - BeginTick zeroes these
// fresh each tick instead of inheriting the previous generation's values
// (spec.md §4.6). A field with no Full-mode writer (including one with no
// writer at all) keeps copy-forward Incremental semantics.
func (p *Pipeline) FullWriteFields() []schema.FieldId {
	seen := make(map[schema.FieldId]bool)
	var ids []schema.FieldId
	for _, prop := range p.props {
		for _, w := range prop.Writes() {
			if w.Write == Full && !seen[w.Field] {
				seen[w.Field] = true
				ids = append(ids, w.Field)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
