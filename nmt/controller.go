package nmt

import (
	"log/slog"
	"sync"

	"github.com/kolkov/nativemem/internal/nmt/decoder"
	"github.com/kolkov/nativemem/internal/nmt/hostiface"
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/sequence"
	"github.com/kolkov/nativemem/internal/nmt/snapshot"
	"github.com/kolkov/nativemem/internal/nmt/synccoord"
	"github.com/kolkov/nativemem/internal/nmt/telemetry"
	"github.com/kolkov/nativemem/internal/nmt/tracker"
	"github.com/kolkov/nativemem/internal/nmt/worker"
)

// Controller is one independent tracker instance: every collaborator
// named in spec.md §2, wired together. Multiple Controllers may coexist
// in the same process (spec.md §9's "express as a module-local opaque
// handle... preserves testability").
type Controller struct {
	lc       *lifecycle.Controller
	seq      *sequence.Generator
	alloc    *recordbuf.Allocator
	registry *hostiface.DefaultRegistry
	crit     *hostiface.DefaultCriticalSection
	core     *tracker.Core
	snap     *snapshot.Snapshot
	worker   *worker.Worker
	sync     *synccoord.Coordinator
	metrics  *telemetry.Metrics
	dec      *decoder.Decoder

	log *slog.Logger

	mu       sync.Mutex
	baseline snapshot.Baseline

	workerDone chan struct{}
}

// NewController returns a Controller in the Uninit state. Call
// InitOptions, then BootstrapSingleThread, BootstrapMultiThread, and
// Start in sequence to bring it up (spec.md §4.8).
func NewController() *Controller {
	c := &Controller{
		lc:       lifecycle.NewController(),
		seq:      sequence.New(),
		alloc:    recordbuf.NewAllocator(),
		registry: hostiface.NewDefaultRegistry(),
		crit:     &hostiface.DefaultCriticalSection{},
		log:      slog.Default(),
		dec:      decoder.New(),
	}
	c.core = tracker.NewCore(c.alloc, c.seq, c.lc, hostiface.NewDefaultThreadLocal(c.registry), c.crit)
	return c
}

// SetMetrics wires optional Prometheus instrumentation. Must be called
// before Start to take effect on the first Observe.
func (c *Controller) SetMetrics(m *telemetry.Metrics) { c.metrics = m }

// InitOptions parses the one option string: "=off", "=summary", or
// "=detail" (spec.md §4.8, §6). Detail mode is always supported here,
// since runtime.Callers walks the Go stack on every platform Go targets.
func (c *Controller) InitOptions(opt string) error {
	return c.lc.ParseOptions(opt, true)
}

// BootstrapSingleThread advances uninit -> bootstrapping_single_thread.
func (c *Controller) BootstrapSingleThread() bool {
	ok := c.lc.BootstrapSingleThread()
	if !ok && c.lc.State() == lifecycle.ShutdownPending {
		c.log.Warn("nmt shutdown", "reason", c.lc.Reason().String())
	}
	return ok
}

// BootstrapMultiThread advances bootstrapping_single_thread ->
// bootstrapping_multi_thread.
func (c *Controller) BootstrapMultiThread() bool {
	return c.lc.BootstrapMultiThread()
}

// Start constructs the snapshot, launches the merge worker and the sync
// coordinator, and advances bootstrapping_multi_thread -> started. On any
// failure it shuts down with ReasonInitialization (spec.md §4.8).
func (c *Controller) Start() bool {
	c.mu.Lock()
	c.snap = snapshot.New()
	c.baseline = snapshot.Baseline{}
	c.mu.Unlock()
	c.worker = worker.New(c.snap, c.onOutOfGeneration)
	c.sync = synccoord.New(c.core, c.registry, c.crit, c.lc, c.worker, c.onShutdownRequested, c.onFinalShutdown)

	if !c.lc.Start() {
		c.lc.Shutdown(lifecycle.ReasonInitialization)
		c.log.Warn("nmt shutdown", "reason", lifecycle.ReasonInitialization.String())
		return false
	}

	c.workerDone = make(chan struct{})
	go func() {
		defer close(c.workerDone)
		c.worker.Run()
	}()
	return true
}

// Shutdown initiates shutdown with the given reason, if the subsystem is
// currently started. Returns whether this call won the transition.
func (c *Controller) Shutdown(reason lifecycle.ShutdownReason) bool {
	ok := c.lc.Shutdown(reason)
	if ok {
		if snap := c.snapshotLocked(); snap != nil {
			if reason == lifecycle.ReasonOutOfMemory {
				snap.MarkOutOfMemory()
			}
			// A goroutine may already be parked in WaitForDataMerge with no
			// further Sync/Apply coming; wake it so it notices
			// ShutdownInProgress instead of blocking forever (spec.md §5).
			snap.WakeWaiters()
		}
		if c.metrics != nil {
			c.metrics.IncShutdowns()
		}
		c.log.Warn("nmt shutdown", "reason", c.lc.Reason().String())
	}
	return ok
}

// OutOfMemory reports whether the live snapshot has latched a fatal
// allocation failure (spec.md §2's out_of_memory probe, §7's
// out-of-memory-during-steady-state error kind). The latch never clears
// while that snapshot lives; once final shutdown has cleared the snapshot,
// OutOfMemory reports false.
func (c *Controller) OutOfMemory() bool {
	snap := c.snapshotLocked()
	return snap != nil && snap.OutOfMemory()
}

func (c *Controller) onShutdownRequested(reason lifecycle.ShutdownReason) {
	c.Shutdown(reason)
}

func (c *Controller) onOutOfGeneration() {
	c.Shutdown(lifecycle.ReasonOutOfGeneration)
}

// onFinalShutdown joins the merge worker, shuts down the symbol decoder,
// and clears the snapshot and baseline, matching spec.md line 104's
// final_shutdown steps ("joins the worker... shuts down the symbol
// decoder") and the original's final_shutdown() tearing down its snapshot
// alongside its recorders (memTracker.cpp). It runs on the sync
// coordinator's caller goroutine, never the worker's own, so blocking on
// workerDone here cannot deadlock: Close() (called by finalDrain just
// before this) has already told Run's loop to return.
//
// Without the join, State()==Shutdown would be no guarantee the worker
// goroutine had actually stopped. Without clearing the snapshot,
// PrintMemoryUsage and CompareMemoryUsage would keep reporting the last
// live snapshot's contents forever instead of the empty results spec.md
// §7 requires after shutdown.
func (c *Controller) onFinalShutdown() {
	if c.workerDone != nil {
		<-c.workerDone
	}
	c.dec.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
	c.baseline = snapshot.Baseline{}
}

// snapshotLocked returns the live snapshot, or nil once shutdown has torn
// it down. Callers that need to read the snapshot's contents should hold
// c.mu for the duration of that read, since onFinalShutdown clears it
// concurrently with any in-flight query.
func (c *Controller) snapshotLocked() *snapshot.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// IsOn reports whether tracking is currently active.
func (c *Controller) IsOn() bool { return c.lc.IsOn() }

// ShutdownInProgress reports whether shutdown has been initiated.
func (c *Controller) ShutdownInProgress() bool { return c.lc.ShutdownInProgress() }

// State exposes the raw lifecycle state, mainly for tests and reporting.
func (c *Controller) State() lifecycle.State { return c.lc.State() }

// RegisterThread registers a new cooperative thread with the controller
// and returns a handle for it. The caller is responsible for calling
// ThreadExiting when the thread terminates.
func (c *Controller) RegisterThread() *hostiface.ThreadToken {
	return c.registry.Register()
}

// NewTracker constructs a Tracker for op, attributing it to handle. A nil
// handle resolves to the calling goroutine through the controller's
// thread-local lookup, which registers it on first use; during
// single-threaded bootstrap the event goes to the global recorder instead
// (spec.md §4.3's classification table).
func (c *Controller) NewTracker(op Operation, handle hostiface.ThreadHandle) *Tracker {
	if c.lc.ShutdownInProgress() {
		// Events after shutdown_pending are dropped silently (spec.md §7,
		// §8 scenario 6).
		op = OpNoOp
	}
	return tracker.New(c.core, op, handle)
}

// CaptureSite captures the caller's call site if detail mode is enabled,
// or returns the zero SiteID otherwise (spec.md §4.4, §6).
func (c *Controller) CaptureSite() SiteID {
	if c.lc.Level() != lifecycle.LevelDetail {
		return 0
	}
	return c.dec.CaptureSite(1)
}

// Sync runs one safepoint-driven sync cycle (spec.md §4.5). Intended to
// be invoked by the host's safepoint machinery; tests call it directly.
func (c *Controller) Sync() bool {
	drained := c.sync.Sync()
	if c.metrics != nil {
		var generation uint64
		if snap := c.snapshotLocked(); snap != nil {
			generation = snap.Generation()
		}
		c.metrics.Observe(telemetry.Observation{
			InstanceCount:      c.alloc.InstanceCount(),
			PooledCount:        c.alloc.PooledCount(),
			PendingGenerations: c.worker.Backlog(),
			Generation:         generation,
			WorkerIdle:         c.worker.Idle(),
			SlowdownAdvised:    c.sync.SlowdownAdvised(),
		})
	}
	return drained
}

// ThreadExiting surrenders the exiting thread's recorder to the pending
// queue and removes it from the registry (spec.md §6).
func (c *Controller) ThreadExiting(tok *hostiface.ThreadToken) {
	c.core.DrainThread(tok.ID())
	c.registry.Unregister(tok)
}

// Baseline copies the current snapshot into the latched baseline
// (spec.md §4.7).
func (c *Controller) Baseline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return false
	}
	c.baseline.Capture(c.snap)
	return true
}

// WaitForDataMerge blocks until the snapshot's generation advances past
// its current value (spec.md §4.7). It first forces a safepoint via Sync,
// so records not yet drained are handed to the merge worker, whether or
// not the worker is idle; it returns early once shutdown is in progress.
func (c *Controller) WaitForDataMerge() {
	snap := c.snapshotLocked()
	if snap == nil {
		return
	}
	since := snap.Generation()
	c.Sync()
	snap.Wait(since, c.lc.ShutdownInProgress)
}
