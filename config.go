// Package murk implements the tick-based world-simulation engine: fixed
// topology cell spaces, a schema of statically, per-tick, and sparsely
// mutable fields, a validated propagator pipeline, deterministic command
// ingress, and an observation planner, stepped either synchronously
// (lockstep), on a background goroutine (realtime), or across many
// independent worlds at once (batched).
package murk

import (
	"time"

	"github.com/tachyon-beep/murk-sub003/internal/propagator"
	"github.com/tachyon-beep/murk-sub003/internal/schema"
	"github.com/tachyon-beep/murk-sub003/internal/topology"
)

// SpaceKind selects one of the reference topology backends a World can be
// built over. Hex2D, Fcc12 and ProductSpace are named in spec.md as
// consumed-not-built backends - callers needing them implement
// topology.Space directly and are outside WorldConfig's enumerated set.
type SpaceKind int

const (
	Line1D SpaceKind = iota
	Ring1D
	Square4
	Square8
)

// SpaceSpec describes the Space a World is built over. Which fields apply
// depends on Kind: Line1D/Ring1D use Length (Ring1D ignores Policy, always
// wrapping); Square4/Square8 use Cols, Rows and Policy.
type SpaceSpec struct {
	Kind   SpaceKind
	Length int
	Cols   int
	Rows   int
	Policy topology.BoundaryPolicy
}

// BackoffProfile paces the realtime runtime's free-running mode
// (TickRateHz == 0): idle ticks (no commands applied) sleep for
// progressively longer, bounded by MaxSleep, reset to MinSleep the moment
// a tick does real work.
type BackoffProfile struct {
	MinSleep   time.Duration
	MaxSleep   time.Duration
	Multiplier float64
}

// WorldConfig is the single source of truth a World is built from -
// constructed programmatically and validated by World.New, with no
// file/env loader (out of scope per spec.md's Non-goals).
type WorldConfig struct {
	Space       SpaceSpec
	Fields      []schema.VectorField
	Propagators []propagator.Propagator
	Dt          float64
	Seed        uint64

	// RingBufferSize is the number of retained prior snapshots the native
	// API names (>= 1). The ping-pong arena this engine builds on always
	// double-buffers (spec.md §4.3). World.New neither reads nor checks
	// RingBufferSize: any value, including zero or a negative one, is
	// accepted and the arena keeps only the single published generation.
	RingBufferSize int

	MaxIngressQueue    int
	PerSourceRate      float64 // commands/sec, 0 disables per-source limiting
	PerSourceBurst     int
	MaxCommandsPerTick int

	// TickRateHz paces the realtime runtime; 0 means free-running (as
	// fast as possible, paced by Backoff between idle ticks). Ignored by
	// lockstep and batched stepping.
	TickRateHz int
	Backoff    BackoffProfile

	EnableSnapshotHash bool
	EnableMetrics      bool
}
