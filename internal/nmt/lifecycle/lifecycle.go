// Package lifecycle implements the native memory tracker's startup and
// shutdown state machine (spec.md §3's lifecycle states, §4.8).
package lifecycle

import (
	"fmt"
	"sync/atomic"
)

// State is one stage of the tracker's lifecycle. States are monotone:
// once advanced, a CAS transition never goes backward, except that only
// one thread may ever win the started -> shutdown_pending transition.
type State int32

const (
	Uninit State = iota
	BootstrappingSingleThread
	BootstrappingMultiThread
	Started
	ShutdownPending
	FinalShutdown
	Shutdown
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case BootstrappingSingleThread:
		return "bootstrapping_single_thread"
	case BootstrappingMultiThread:
		return "bootstrapping_multi_thread"
	case Started:
		return "started"
	case ShutdownPending:
		return "shutdown_pending"
	case FinalShutdown:
		return "final_shutdown"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ShutdownReason names why shutdown was initiated. Once latched by
// Controller.Shutdown, it never changes.
type ShutdownReason int32

const (
	ReasonNone ShutdownReason = iota
	ReasonOutOfMemory
	ReasonOutOfGeneration
	ReasonSequenceOverflow
	ReasonInitialization
	ReasonManual
	ReasonUseMallocOnlyConflict
)

func (r ShutdownReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonOutOfMemory:
		return "out of memory"
	case ReasonOutOfGeneration:
		return "out of generation"
	case ReasonSequenceOverflow:
		return "sequence overflow"
	case ReasonInitialization:
		return "initialization"
	case ReasonManual:
		return "manual"
	case ReasonUseMallocOnlyConflict:
		return "use-malloc-only conflict"
	default:
		return "unknown"
	}
}

// Level is the tracking detail level selected by the option string
// (spec.md §4.8).
type Level int32

const (
	LevelOff Level = iota
	LevelSummary
	LevelDetail
)

// Controller owns the lifecycle state and the latched shutdown reason. It
// has no knowledge of recorders, snapshots, or workers — those observe
// Controller to decide whether to keep operating.
type Controller struct {
	state  atomic.Int32
	reason atomic.Int32
	level  atomic.Int32

	// useMallocOnly records whether the conflicting option was requested,
	// checked by BootstrapSingleThread to honor the use_malloc_only_conflict
	// error kind.
	useMallocOnly atomic.Bool
}

// NewController returns a Controller in the Uninit state at LevelOff.
func NewController() *Controller {
	return &Controller{}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Level returns the configured tracking level.
func (c *Controller) Level() Level { return Level(c.level.Load()) }

// Reason returns the latched shutdown reason, or ReasonNone if shutdown
// has never been initiated.
func (c *Controller) Reason() ShutdownReason { return ShutdownReason(c.reason.Load()) }

// IsOn reports whether tracking is currently active (started, and not
// yet shutting down).
func (c *Controller) IsOn() bool {
	return c.State() == Started
}

// ShutdownInProgress reports whether the state has advanced to
// shutdown_pending or beyond.
func (c *Controller) ShutdownInProgress() bool {
	return c.State() >= ShutdownPending
}

// ParseOptions parses the one option string and sets the tracking level.
// Exactly "=off", "=summary", or "=detail" is accepted; any other value
// is a configuration error (spec.md §4.8, §6, §7).
//
// detailSupported is false on platforms that cannot walk the native
// stack; =detail then silently falls back to =summary rather than
// failing, matching the source's platform fallback.
func (c *Controller) ParseOptions(opt string, detailSupported bool) error {
	var level Level
	switch opt {
	case "=off":
		level = LevelOff
	case "=summary":
		level = LevelSummary
	case "=detail":
		level = LevelDetail
		if !detailSupported {
			level = LevelSummary
		}
	default:
		return fmt.Errorf("nmt: invalid tracking option %q, want one of =off, =summary, =detail", opt)
	}
	c.level.Store(int32(level))
	return nil
}

// SetUseMallocOnlyConflict records that a conflicting option was
// requested. BootstrapSingleThread consults this to refuse to start with
// ReasonUseMallocOnlyConflict.
func (c *Controller) SetUseMallocOnlyConflict() { c.useMallocOnly.Store(true) }

// BootstrapSingleThread advances uninit -> bootstrapping_single_thread.
// ok is false if tracking is off, already conflicted, or the state was
// not Uninit.
func (c *Controller) BootstrapSingleThread() (ok bool) {
	if c.Level() == LevelOff {
		return false
	}
	if c.useMallocOnly.Load() {
		c.latchShutdown(ReasonUseMallocOnlyConflict)
		return false
	}
	return c.state.CompareAndSwap(int32(Uninit), int32(BootstrappingSingleThread))
}

// BootstrapMultiThread advances bootstrapping_single_thread ->
// bootstrapping_multi_thread.
func (c *Controller) BootstrapMultiThread() (ok bool) {
	return c.state.CompareAndSwap(int32(BootstrappingSingleThread), int32(BootstrappingMultiThread))
}

// Start advances bootstrapping_multi_thread -> started. Callers first
// construct the snapshot and launch the worker; Start only flips state
// once those succeeded (on failure, call Shutdown(ReasonInitialization)
// instead).
func (c *Controller) Start() (ok bool) {
	return c.state.CompareAndSwap(int32(BootstrappingMultiThread), int32(Started))
}

// Shutdown CAS-transitions started -> shutdown_pending, latching reason.
// Only the winning caller's reason is kept; losers observe the winner's
// reason via Reason().
func (c *Controller) Shutdown(reason ShutdownReason) (initiated bool) {
	if c.state.CompareAndSwap(int32(Started), int32(ShutdownPending)) {
		c.reason.Store(int32(reason))
		return true
	}
	// Also allow latching a reason during bootstrap failure, before the
	// worker or snapshot exist to race against.
	for {
		cur := State(c.state.Load())
		if cur == Started || cur >= ShutdownPending {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(ShutdownPending)) {
			c.reason.Store(int32(reason))
			return true
		}
	}
}

func (c *Controller) latchShutdown(reason ShutdownReason) {
	c.reason.Store(int32(reason))
	c.state.Store(int32(ShutdownPending))
}

// BeginFinalShutdown advances shutdown_pending -> final_shutdown. Called
// by the sync coordinator on the first cycle it observes the pending
// state, before running the last ordinary drain.
func (c *Controller) BeginFinalShutdown() (ok bool) {
	return c.state.CompareAndSwap(int32(ShutdownPending), int32(FinalShutdown))
}

// CompleteShutdown advances final_shutdown -> shutdown. Called once
// instance_count has reached zero (spec.md §4.5 step 6).
func (c *Controller) CompleteShutdown() (ok bool) {
	return c.state.CompareAndSwap(int32(FinalShutdown), int32(Shutdown))
}
