// Package nmt is the public surface of the native memory tracker: a
// thin facade over the internal engine packages.
package nmt

import (
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/tracker"
)

// Operation identifies the kind of memory event a Tracker brackets.
type Operation = tracker.Operation

const (
	OpNoOp             = tracker.OpNoOp
	OpMalloc           = tracker.OpMalloc
	OpFree             = tracker.OpFree
	OpRealloc          = tracker.OpRealloc
	OpReserve          = tracker.OpReserve
	OpCommit           = tracker.OpCommit
	OpReserveAndCommit = tracker.OpReserveAndCommit
	OpUncommit         = tracker.OpUncommit
	OpRelease          = tracker.OpRelease
	OpType             = tracker.OpType
	OpArenaSize        = tracker.OpArenaSize
	OpStackRelease     = tracker.OpStackRelease
)

// Category is the logical memory purpose an allocation is charged to.
type Category = recordbuf.Category

const (
	CategoryOther       = recordbuf.CategoryOther
	CategoryGC          = recordbuf.CategoryGC
	CategoryCompiler    = recordbuf.CategoryCompiler
	CategoryCode        = recordbuf.CategoryCode
	CategoryClass       = recordbuf.CategoryClass
	CategorySymbol      = recordbuf.CategorySymbol
	CategoryThreadStack = recordbuf.CategoryThreadStack
	CategoryInternal    = recordbuf.CategoryInternal
	CategoryArena       = recordbuf.CategoryArena
	CategoryTracking    = recordbuf.CategoryTracking
)

// SiteID identifies a captured call site, or zero if none was captured.
type SiteID = recordbuf.SiteID

// ShutdownReason names why shutdown was initiated.
type ShutdownReason = lifecycle.ShutdownReason

const (
	ReasonNone                  = lifecycle.ReasonNone
	ReasonOutOfMemory           = lifecycle.ReasonOutOfMemory
	ReasonOutOfGeneration       = lifecycle.ReasonOutOfGeneration
	ReasonSequenceOverflow      = lifecycle.ReasonSequenceOverflow
	ReasonInitialization        = lifecycle.ReasonInitialization
	ReasonManual                = lifecycle.ReasonManual
	ReasonUseMallocOnlyConflict = lifecycle.ReasonUseMallocOnlyConflict
)

// Tracker is the scoped handle returned by NewTracker.
type Tracker = tracker.Tracker
