// Package ingress implements spec.md §4.7's bounded, deterministic command
// intake: a fixed-capacity MPSC queue plus the per-source rate limiting and
// stable sort order the tick engine applies before draining it.
package ingress

import "sort"

// CommandKind selects which of Command's payload union members is
// populated (spec.md §3's Command.payload union).
type CommandKind int

const (
	// SetFieldKind resolves Coord through the world's topology.Space to a
	// single cell and writes Values into that cell's components of
	// TargetField.
	SetFieldKind CommandKind = iota
	// SetParameterKind sets ParameterKey to ParameterValue and bumps the
	// engine's parameter_version counter.
	SetParameterKind
	// CustomKind carries an application-defined opaque payload the engine
	// never interprets; no handler is registered for it, so it always
	// rejects with NotApplied.
	CustomKind
)

// Command is one externally submitted mutation request, queued for
// application at the start of the tick it lands in. Which fields are
// meaningful depends on Kind.
type Command struct {
	Kind CommandKind

	// TargetField, Coord and Values are meaningful only for SetFieldKind.
	// TargetField is the field this command intends to write. Coord is
	// resolved via topology.Space.Index to a single cell index; Values
	// carries that one cell's component values, in field-component order.
	TargetField uint32
	Coord       []float64
	Values      []float32

	// ParameterKey and ParameterValue are meaningful only for
	// SetParameterKind.
	ParameterKey   string
	ParameterValue float32

	// CustomTypeID and CustomBytes are meaningful only for CustomKind.
	CustomTypeID uint32
	CustomBytes  []byte

	// PriorityClass orders commands within a tick; lower values apply
	// first.
	PriorityClass int32
	// SourceID identifies the submitting client/runtime.
	SourceID uint64
	// SourceSeq is the submitter's own monotonic sequence number, used to
	// order commands from the same source deterministically even if they
	// arrive out of submission order.
	SourceSeq uint64
	// ArrivalSeq is assigned by the queue at enqueue time and is the final
	// tiebreaker, guaranteeing a total order regardless of source.
	ArrivalSeq uint64
	// ExpiresAfterTick, if non-zero, causes the command to be rejected
	// with Expired instead of applied once the tick it lands in exceeds
	// this value.
	ExpiresAfterTick uint64
}

// Receipt reports what happened to a submitted Command.
type Receipt struct {
	SourceID   uint64
	SourceSeq  uint64
	ArrivalSeq uint64
	Applied    bool
	// AppliedTickID is the tick this command was applied in; meaningful
	// only when Applied is true.
	AppliedTickID uint64
	// Err is non-nil when Applied is false - typically an errs.E with Kind
	// one of QueueFull, Expired or NotApplied.
	Err error
}

// SortCommands orders cmds by the deterministic application order spec.md
// requires: priority_class ascending, then source_id, then source_seq,
// then arrival_seq as the final tiebreaker. Sorting is stable so that two
// commands which compare fully equal (never in practice, since
// arrival_seq is unique) keep their drain order.
func SortCommands(cmds []Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		a, b := cmds[i], cmds[j]
		if a.PriorityClass != b.PriorityClass {
			return a.PriorityClass < b.PriorityClass
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.SourceSeq != b.SourceSeq {
			return a.SourceSeq < b.SourceSeq
		}
		return a.ArrivalSeq < b.ArrivalSeq
	})
}
