package recordbuf

import "sync/atomic"

// Allocator owns the pool of cleared recorders and the pending queue of
// full recorders for one tracker instance. Both are lock-free intrusive
// stacks (spec.md §4.2); the allocator adds the bookkeeping HotSpot keeps
// alongside them: a running instance count, a running pooled count, and a
// soft cap on how many cleared recorders are worth keeping around.
//
// An Allocator is safe for concurrent use by many threads taking and
// releasing recorders, and by exactly one merge worker draining the
// pending queue.
type Allocator struct {
	pool    stack
	pending stack

	instanceCount atomic.Int64 // every live Recorder, pooled or not
	pooledCount   atomic.Int64 // Recorders currently sitting in pool

	// poolCap bounds how many cleared recorders the pool keeps before it
	// starts freeing them instead of recycling them. HotSpot derives this
	// from 2x the known thread count (memTracker.cpp); callers update it
	// as the thread population changes. A zero value disables the cap.
	poolCap atomic.Int64
}

// NewAllocator returns an Allocator with an empty pool and pending queue.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// SetPoolCap adjusts the soft cap on pooled recorders, typically to
// 2*threadCount as the thread population changes (spec.md §4.2).
func (a *Allocator) SetPoolCap(cap int) {
	a.poolCap.Store(int64(cap))
}

// InstanceCount returns the number of Recorders currently live anywhere
// (pool, pending queue, or checked out to a thread/global slot).
func (a *Allocator) InstanceCount() int64 { return a.instanceCount.Load() }

// PooledCount returns the number of cleared Recorders currently sitting in
// the pool, available for reuse.
func (a *Allocator) PooledCount() int64 { return a.pooledCount.Load() }

// Acquire returns a Recorder ready to record into: a cleared one from the
// pool if one is available, otherwise a freshly allocated one. The
// returned Recorder is stamped with generation and is not linked into any
// stack.
//
// This mirrors MemTracker::get_new_or_pooled_instance: try the pool first,
// fall back to new(), then stamp the generation unconditionally.
func (a *Allocator) Acquire(generation uint64) *Recorder {
	rec := a.pool.pop()
	if rec != nil {
		a.pooledCount.Add(-1)
	} else {
		rec = newRecorder(DefaultCapacity)
		a.instanceCount.Add(1)
	}
	rec.SetGeneration(generation)
	return rec
}

// Release returns a cleared Recorder to the pool for reuse, unless the
// pool is already at its soft cap, in which case the Recorder is dropped
// (its instance is unlinked first, so nothing else can observe it through
// the pool).
//
// This mirrors MemTracker::release_thread_recorder's pool-or-delete
// choice, including deleting on overflow rather than growing the pool
// without bound.
func (a *Allocator) Release(rec *Recorder) {
	rec.Clear()
	rec.SetNext(nil)

	cap := a.poolCap.Load()
	if cap > 0 && a.pooledCount.Load() >= cap {
		a.instanceCount.Add(-1)
		return
	}
	a.pool.push(rec)
	a.pooledCount.Add(1)
}

// Enqueue moves a full Recorder onto the pending queue for the merge
// worker to pick up. Mirrors MemTracker::enqueue_pending_recorder.
func (a *Allocator) Enqueue(rec *Recorder) {
	a.pending.push(rec)
}

// DrainPending atomically detaches the entire pending chain and returns
// it head-first (most recently enqueued first, exactly as HotSpot's
// get_pending_recorders hands the chain to the worker — the worker sorts
// by generation itself, so arrival order here does not matter).
func (a *Allocator) DrainPending() *Recorder {
	return a.pending.drain()
}

// Discard drops a Recorder without pooling it, decrementing the instance
// count. Used by final-shutdown teardown (tracker.Core's DiscardThreadSlot
// and DiscardGlobalSlot), where recorders are deleted rather than released
// back to the pool.
func (a *Allocator) Discard(rec *Recorder) {
	rec.SetNext(nil)
	a.instanceCount.Add(-1)
}

// DeleteAllPooled atomically detaches every Recorder currently sitting in
// the pool and drops them, decrementing instanceCount and pooledCount for
// each. This is the pool-side counterpart to final_shutdown's pending-queue
// teardown: MemTracker::final_shutdown calls both
// delete_all_pending_recorders and delete_all_pooled_recorders
// (memTracker.cpp), and DrainPending only ever accounted for the former.
// Without this, any Recorder that was ever pooled keeps instanceCount above
// zero forever, and final_shutdown can never complete (spec.md §4.5 step 6).
func (a *Allocator) DeleteAllPooled() {
	for rec := a.pool.drain(); rec != nil; {
		next := rec.Next()
		rec.SetNext(nil)
		a.instanceCount.Add(-1)
		a.pooledCount.Add(-1)
		rec = next
	}
}
