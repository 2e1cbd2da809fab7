// Package errs defines the engine's closed error taxonomy and the stable
// mapping from error kind to the trust-boundary status code.
package errs

import "fmt"

// Kind is a closed enum of engine error kinds (spec §7). It is never
// extended at runtime; new kinds require a new constant and a new row in
// kindToStatus.
type Kind int

const (
	// Configuration
	DuplicateFieldId Kind = iota
	UnknownField
	ShapeMismatch
	WriteConflict
	CflViolation
	InvalidSpaceParams

	// Runtime
	CapacityExceeded
	AllocationTooLarge
	ArithmeticOverflow
	InvariantViolation

	// Propagation
	PropagatorFailed

	// Ingress
	QueueFull
	Expired
	NotApplied

	// Observation
	InvalidObsSpec
	PlanInvalidated
	DimensionMismatch

	// Async lifecycle
	Shutdown
	Poisoned

	// Boundary
	Panicked
	StaleHandle
)

var kindNames = map[Kind]string{
	DuplicateFieldId:   "DuplicateFieldId",
	UnknownField:       "UnknownField",
	ShapeMismatch:      "ShapeMismatch",
	WriteConflict:      "WriteConflict",
	CflViolation:       "CflViolation",
	InvalidSpaceParams: "InvalidSpaceParams",
	CapacityExceeded:   "CapacityExceeded",
	AllocationTooLarge: "AllocationTooLarge",
	ArithmeticOverflow: "ArithmeticOverflow",
	InvariantViolation: "InvariantViolation",
	PropagatorFailed:   "PropagatorFailed",
	QueueFull:          "QueueFull",
	Expired:            "Expired",
	NotApplied:         "NotApplied",
	InvalidObsSpec:     "InvalidObsSpec",
	PlanInvalidated:    "PlanInvalidated",
	DimensionMismatch:  "DimensionMismatch",
	Shutdown:           "Shutdown",
	Poisoned:           "Poisoned",
	Panicked:           "Panicked",
	StaleHandle:        "StaleHandle",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// AllKinds enumerates every Kind (every key of kindNames), in no
// particular order.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		out = append(out, k)
	}
	return out
}

// StatusCode is the ABI-stable code surfaced at the trust boundary (spec §6).
type StatusCode int

const (
	Ok StatusCode = iota
	InvalidArgument
	InvalidConfig
	InvalidObsSpecStatus
	ExecutionFailed
	NotAppliedStatus
	QueueFullStatus
	PlanInvalidatedStatus
	ShutdownStatus
	PanickedStatus
	InvariantViolationStatus
)

var kindToStatus = map[Kind]StatusCode{
	DuplicateFieldId:   InvalidConfig,
	UnknownField:       InvalidConfig,
	ShapeMismatch:      InvalidArgument,
	WriteConflict:      InvalidConfig,
	CflViolation:       InvalidConfig,
	InvalidSpaceParams: InvalidConfig,
	CapacityExceeded:   ExecutionFailed,
	AllocationTooLarge: InvalidArgument,
	ArithmeticOverflow: ExecutionFailed,
	InvariantViolation: InvariantViolationStatus,
	PropagatorFailed:   ExecutionFailed,
	QueueFull:          QueueFullStatus,
	Expired:            NotAppliedStatus,
	NotApplied:         NotAppliedStatus,
	InvalidObsSpec:     InvalidObsSpecStatus,
	PlanInvalidated:    PlanInvalidatedStatus,
	DimensionMismatch:  InvalidArgument,
	Shutdown:           ShutdownStatus,
	Poisoned:           InvariantViolationStatus,
	Panicked:           PanickedStatus,
	StaleHandle:        InvalidArgument,
}

// Status maps a Kind to its stable StatusCode. The mapping is total: every
// Kind in AllKinds() has a row in kindToStatus. No test in this module
// checks that; adding a Kind means adding its row by hand.
func Status(k Kind) StatusCode {
	if s, ok := kindToStatus[k]; ok {
		return s
	}
	// Unreachable for any Kind in AllKinds(); a missing entry is a mistake
	// in kindToStatus. Do not wrap or hide it behind a default Ok - an
	// unmapped kind must read as a failure.
	return ExecutionFailed
}

// E is the engine's structured error value. It wraps a closed Kind plus
// whatever fields are relevant to diagnosing it.
type E struct {
	Kind Kind
	Msg  string

	// Optional structured fields, populated depending on Kind.
	Field          uint32
	FieldName      string
	PropagatorName string
	OtherPropagator string
	Generation     uint64
	OtherGeneration uint64
}

func (e *E) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

// Is supports errors.Is(err, errs.New(kind)) style matching by Kind only.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare error of the given kind.
func New(kind Kind, msg string) *E {
	return &E{Kind: kind, Msg: msg}
}

// Newf builds a bare error of the given kind with formatted message.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WriteConflictErr builds the specific WriteConflict error spec.md §4.4
// requires, naming both propagators.
func WriteConflictErr(fieldID uint32, fieldName, first, second string) *E {
	return &E{
		Kind:            WriteConflict,
		Msg:             fmt.Sprintf("field %d (%s) written by both %q and %q", fieldID, fieldName, first, second),
		Field:           fieldID,
		FieldName:       fieldName,
		PropagatorName:  first,
		OtherPropagator: second,
	}
}

// PlanInvalidatedErr builds the specific PlanInvalidated error spec.md §4.12
// requires, naming both generations.
func PlanInvalidatedErr(compiled, snapshot uint64) *E {
	return &E{
		Kind:            PlanInvalidated,
		Msg:             fmt.Sprintf("plan compiled at generation %d executed against generation %d", compiled, snapshot),
		Generation:      compiled,
		OtherGeneration: snapshot,
	}
}
