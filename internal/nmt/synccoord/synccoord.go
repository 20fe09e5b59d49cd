// Package synccoord implements the safepoint-driven sync coordinator:
// the throttle, the drain of per-thread and global recorders into a
// single batch, generation advance, and the backpressure/auto-shutdown
// decision (spec.md §4.5).
package synccoord

import (
	"github.com/kolkov/nativemem/internal/nmt/hostiface"
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/tracker"
	"github.com/kolkov/nativemem/internal/nmt/worker"
)

// Throttle constants, named exactly as in the source (spec.md §4.5).
const (
	MaxSafepointsToSkip  = 128
	SafeSeqThresholdPct  = 30
	HighGenThresholdPct  = 60
	MaxRecorderPerThread = 100
	MaxRecorderRatio     = 30
)

// Coordinator drives one sync cycle per safepoint callback.
type Coordinator struct {
	core     *tracker.Core
	registry hostiface.ThreadRegistry
	crit     hostiface.CriticalSection
	lc       *lifecycle.Controller
	w        *worker.Worker

	skipped int
	// AutoShutdown enables the instance_count >= thread_count*100
	// auto-shutdown path; when false, only the advisory slowdown flag is
	// set (spec.md §4.5 step 4).
	AutoShutdown bool

	slowdown bool

	onShutdown      func(lifecycle.ShutdownReason)
	onFinalShutdown func()
}

// New returns a Coordinator wired over core's allocator/sequence state,
// the given thread registry, and the merge worker batches are handed to.
// onShutdown is called (with the sync coordinator's chosen reason) when a
// sync cycle decides to initiate shutdown. onFinalShutdown, if non-nil, is
// called once finalDrain has driven instance_count to zero and completed
// the final_shutdown -> shutdown transition — the caller uses it to clear
// its snapshot/baseline so post-shutdown queries return empty results
// (spec.md §7).
func New(core *tracker.Core, registry hostiface.ThreadRegistry, crit hostiface.CriticalSection, lc *lifecycle.Controller, w *worker.Worker, onShutdown func(lifecycle.ShutdownReason), onFinalShutdown func()) *Coordinator {
	return &Coordinator{core: core, registry: registry, crit: crit, lc: lc, w: w, onShutdown: onShutdown, onFinalShutdown: onFinalShutdown, AutoShutdown: true}
}

// SlowdownAdvised reports whether the last sync cycle set the advisory
// slowdown flag (spec.md §4.5 step 4). Event recorders may consult this
// to stall briefly on subsequent events.
func (c *Coordinator) SlowdownAdvised() bool { return c.slowdown }

// Sync runs one safepoint-driven sync cycle. It returns false if the
// cycle was skipped (throttled or pending ops outstanding) rather than
// drained.
func (c *Coordinator) Sync() (drained bool) {
	if c.shouldSkipThrottle() {
		c.skipped++
		return false
	}
	if c.core.PendingOpCount() > 0 {
		// A tracker has reserved a sequence that must not straddle
		// generations; do not advance.
		return false
	}
	c.skipped = 0

	// The first sync cycle observed after shutdown was requested advances
	// shutdown_pending -> final_shutdown; the drain below then becomes the
	// last ordinary drain before finalDrain tears everything down (spec.md
	// §4.5 steps 5-6, §4.8).
	if c.lc.State() == lifecycle.ShutdownPending {
		c.lc.BeginFinalShutdown()
	}

	c.crit.Lock()
	batch, generation := c.drainAllLocked()
	c.crit.Unlock()

	trackingBytes := uintptr(c.core.Alloc.InstanceCount()) * recordbuf.FootprintBytes()
	c.w.Submit(worker.Batch{Generation: generation, Records: batch, ClassCount: len(recordbuf.AllCategories()), TrackingBytes: trackingBytes})

	// spec.md §4.2's pool_max = 2*known_thread_count is re-derived every
	// cycle as the thread population changes, mirroring how memTracker.cpp
	// recomputes the pool's soft cap from the live thread count rather than
	// fixing it once at startup.
	c.core.Alloc.SetPoolCap(2 * c.registry.Count())

	c.applyBackpressure()

	if c.lc.State() == lifecycle.FinalShutdown {
		c.finalDrain()
	}

	return true
}

// shouldSkipThrottle implements step 1 of spec.md §4.5: skip at most
// MaxSafepointsToSkip consecutive safepoints while sequence pressure is
// low and generation pressure is high.
func (c *Coordinator) shouldSkipThrottle() bool {
	if c.skipped >= MaxSafepointsToSkip {
		return false
	}
	seqPct := c.core.Seq.PercentInUse()
	genPct := c.genPressurePercent()
	return seqPct < SafeSeqThresholdPct && genPct >= HighGenThresholdPct
}

// genPressurePercent is "generations in use%": how full the worker's
// pending-batch backlog is relative to worker.MaxGenerations.
func (c *Coordinator) genPressurePercent() int {
	pct := c.w.Backlog() * 100 / worker.MaxGenerations
	if pct > 100 {
		return 100
	}
	return pct
}

// drainAllLocked walks every cooperative thread plus the global
// recorder, draining each into the pending queue, then atomically drains
// the whole pending queue and flattens it into one batch. Must be called
// with crit held (spec.md §4.5 step 3).
func (c *Coordinator) drainAllLocked() ([]recordbuf.Record, uint64) {
	c.registry.ForEachCooperative(func(h hostiface.ThreadHandle) {
		c.core.DrainThread(h.ID())
	})
	c.core.DrainGlobal()

	head := c.core.Alloc.DrainPending()
	var records []recordbuf.Record
	for rec := head; rec != nil; {
		records = append(records, rec.Records()...)
		next := rec.Next()
		rec.SetNext(nil)
		c.core.Alloc.Release(rec)
		rec = next
	}

	// The batch carries the generation number the reset advances to, so
	// applying it always moves the snapshot past the generation it held
	// before this cycle.
	c.core.Seq.Reset()
	return records, c.core.Seq.CurrentGeneration()
}

// applyBackpressure implements step 4 of spec.md §4.5. When auto-shutdown
// is enabled, the ratio check is only ever a precursor to shutdown — the
// source computes the ratio-based slowdown flag exclusively in the
// !auto_shutdown branch (memTracker.cpp:439-446), so that check is
// skipped entirely here once AutoShutdown is true.
func (c *Coordinator) applyBackpressure() {
	threadCount := int64(c.registry.Count())
	instances := c.core.Alloc.InstanceCount()

	if c.AutoShutdown {
		if threadCount > 0 && instances >= threadCount*MaxRecorderPerThread {
			c.slowdown = true
			if c.onShutdown != nil {
				c.onShutdown(lifecycle.ReasonOutOfMemory)
			}
		}
		return
	}
	c.slowdown = threadCount > 0 && instances > threadCount*MaxRecorderRatio
}

// finalDrain implements step 6 of spec.md §4.5: walk threads one last
// time, delete all remaining recorders (not pool them), delete the
// global recorder, delete every recorder still sitting in the pool, and
// once instance_count reaches zero transition to shutdown.
//
// Deleting the pool here mirrors memTracker.cpp's final_shutdown, which
// calls both delete_all_pending_recorders and delete_all_pooled_recorders
// — DrainPending (via the ordinary drain above) only ever covered the
// former, so any Recorder that was ever released back to the pool would
// otherwise keep instanceCount above zero forever and CompleteShutdown
// would never fire.
func (c *Coordinator) finalDrain() {
	c.crit.Lock()
	c.registry.ForEachCooperative(func(h hostiface.ThreadHandle) {
		c.core.DiscardThreadSlot(h.ID())
	})
	c.core.DiscardGlobalSlot()
	c.core.Alloc.DeleteAllPooled()
	c.crit.Unlock()

	if c.core.Alloc.InstanceCount() == 0 && c.lc.CompleteShutdown() {
		c.w.Close()
		if c.onFinalShutdown != nil {
			c.onFinalShutdown()
		}
	}
}
