package nmt

import (
	"io"

	"github.com/kolkov/nativemem/internal/nmt/hostiface"
)

// Default is the package-level Controller used by the convenience
// functions below. Most callers only ever need one tracker instance per
// process; programs that need more than one (or want isolation in tests)
// should construct their own Controller directly instead.
var Default = NewController()

// InitOptions parses the one option string on the default controller.
func InitOptions(opt string) error { return Default.InitOptions(opt) }

// BootstrapSingleThread advances the default controller.
func BootstrapSingleThread() bool { return Default.BootstrapSingleThread() }

// BootstrapMultiThread advances the default controller.
func BootstrapMultiThread() bool { return Default.BootstrapMultiThread() }

// Start brings the default controller to the started state.
func Start() bool { return Default.Start() }

// Shutdown initiates shutdown on the default controller.
func Shutdown(reason ShutdownReason) bool { return Default.Shutdown(reason) }

// IsOn reports whether the default controller is currently tracking.
func IsOn() bool { return Default.IsOn() }

// ShutdownInProgress reports whether the default controller has begun
// shutting down.
func ShutdownInProgress() bool { return Default.ShutdownInProgress() }

// OutOfMemory reports whether the default controller ever latched a
// fatal allocation failure.
func OutOfMemory() bool { return Default.OutOfMemory() }

// NewTracker constructs a Tracker on the default controller. A nil
// handle resolves to the calling goroutine.
func NewTracker(op Operation, handle hostiface.ThreadHandle) *Tracker {
	return Default.NewTracker(op, handle)
}

// Sync runs one sync cycle on the default controller.
func Sync() bool { return Default.Sync() }

// ThreadExiting surrenders an exiting thread's recorder on the default
// controller.
func ThreadExiting(tok *hostiface.ThreadToken) { Default.ThreadExiting(tok) }

// Baseline latches the default controller's current snapshot.
func Baseline() bool { return Default.Baseline() }

// CompareMemoryUsage reports the default controller's baseline diff.
func CompareMemoryUsage(output io.Writer, unit Unit, summaryOnly bool) bool {
	return Default.CompareMemoryUsage(output, unit, summaryOnly)
}

// PrintMemoryUsage reports the default controller's current usage.
func PrintMemoryUsage(output io.Writer, unit Unit, summaryOnly bool) bool {
	return Default.PrintMemoryUsage(output, unit, summaryOnly)
}

// WaitForDataMerge blocks on the default controller until its snapshot
// advances a generation.
func WaitForDataMerge() { Default.WaitForDataMerge() }

// CaptureSite captures the caller's call site on the default controller.
func CaptureSite() SiteID { return Default.CaptureSite() }

// RegisterThread registers a new cooperative thread on the default
// controller.
func RegisterThread() *hostiface.ThreadToken { return Default.RegisterThread() }
