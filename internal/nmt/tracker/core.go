package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/kolkov/nativemem/internal/nmt/hostiface"
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/sequence"
)

// Core holds every piece of mutable state a Tracker handle needs to
// decide its locking policy, route an event to a recorder, and hand full
// recorders to the pending queue. It has no notion of safepoints or
// merging; the sync coordinator (internal/nmt/synccoord) drives those by
// calling Core's drain methods.
type Core struct {
	Alloc *recordbuf.Allocator
	Seq   *sequence.Generator
	LC    *lifecycle.Controller

	ThreadLocal hostiface.ThreadLocal
	Crit        hostiface.CriticalSection

	pendingOpCount atomic.Int32

	globalMu  sync.Mutex
	globalRec *recordbuf.Recorder

	slots sync.Map // uint64 (thread id) -> *atomic.Pointer[recordbuf.Recorder]
}

// NewCore wires a fresh Core over the given collaborators.
func NewCore(alloc *recordbuf.Allocator, seq *sequence.Generator, lc *lifecycle.Controller, tl hostiface.ThreadLocal, crit hostiface.CriticalSection) *Core {
	return &Core{Alloc: alloc, Seq: seq, LC: lc, ThreadLocal: tl, Crit: crit}
}

// PendingOpCount returns the number of trackers that have pre-reserved a
// sequence number but not yet recorded or discarded. The sync coordinator
// refuses to drain while this is nonzero (spec.md §4.5 step 2).
func (c *Core) PendingOpCount() int32 { return c.pendingOpCount.Load() }

// nextSeq draws the next sequence number, initiating shutdown with
// ReasonSequenceOverflow if the 32-bit sequence space is exhausted within
// the current generation (spec.md §4.1, §7's restored NMT_sequence_overflow
// condition).
func (c *Core) nextSeq() uint32 {
	seq, ok := c.Seq.Next()
	if !ok {
		c.LC.Shutdown(lifecycle.ReasonSequenceOverflow)
	}
	return seq
}

func (c *Core) slotFor(id uint64) *atomic.Pointer[recordbuf.Recorder] {
	if v, ok := c.slots.Load(id); ok {
		return v.(*atomic.Pointer[recordbuf.Recorder])
	}
	p := &atomic.Pointer[recordbuf.Recorder]{}
	v, _ := c.slots.LoadOrStore(id, p)
	return v.(*atomic.Pointer[recordbuf.Recorder])
}

// appendToGlobal appends one record to the global recorder, enqueuing and
// replacing it if full. Caller must already hold Crit if required by the
// current classification (global recorder is always crit-protected,
// except during single-threaded bootstrap where no other thread exists
// to race it).
func (c *Core) appendToGlobal(addr, size uintptr, tag recordbuf.Tag, seq uint32, site recordbuf.SiteID) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	c.ensureGlobalLocked()
	if !c.globalRec.Record(addr, size, tag, seq, site) {
		c.Alloc.Enqueue(c.globalRec)
		c.globalRec = c.Alloc.Acquire(c.Seq.CurrentGeneration())
		c.globalRec.Record(addr, size, tag, seq, site)
	}
}

func (c *Core) ensureGlobalLocked() {
	if c.globalRec == nil {
		c.globalRec = c.Alloc.Acquire(c.Seq.CurrentGeneration())
	}
}

// appendToThread appends one record to the given thread's per-thread
// slot, acquiring a recorder from the pool on first use and rotating to a
// fresh one when full.
func (c *Core) appendToThread(threadID uint64, addr, size uintptr, tag recordbuf.Tag, seq uint32, site recordbuf.SiteID) {
	slot := c.slotFor(threadID)
	rec := slot.Load()
	if rec == nil {
		rec = c.Alloc.Acquire(c.Seq.CurrentGeneration())
		slot.Store(rec)
	}
	if !rec.Record(addr, size, tag, seq, site) {
		c.Alloc.Enqueue(rec)
		rec = c.Alloc.Acquire(c.Seq.CurrentGeneration())
		rec.Record(addr, size, tag, seq, site)
		slot.Store(rec)
	}
}

// DrainThread detaches the given thread's current recorder, if any and
// nonempty, and enqueues it on the pending queue. Called by the sync
// coordinator while walking cooperative threads (spec.md §4.5 step 3) and
// by ThreadExiting when a thread leaves the registry.
func (c *Core) DrainThread(threadID uint64) {
	slot := c.slotFor(threadID)
	rec := slot.Swap(nil)
	if rec == nil {
		return
	}
	if rec.Len() == 0 {
		c.Alloc.Release(rec)
		return
	}
	c.Alloc.Enqueue(rec)
}

// DrainGlobal detaches the global recorder, if nonempty, and enqueues it.
// Called by the sync coordinator under Crit (spec.md §4.5 step 3).
func (c *Core) DrainGlobal() {
	c.globalMu.Lock()
	rec := c.globalRec
	c.globalRec = nil
	c.globalMu.Unlock()

	if rec == nil {
		return
	}
	if rec.Len() == 0 {
		c.Alloc.Release(rec)
		return
	}
	c.Alloc.Enqueue(rec)
}

// DiscardThreadSlot drops (does not pool) whatever recorder a thread
// currently holds, used during final shutdown teardown (spec.md §4.5
// step 6) where recorders are deleted outright rather than recycled.
func (c *Core) DiscardThreadSlot(threadID uint64) {
	slot := c.slotFor(threadID)
	rec := slot.Swap(nil)
	if rec != nil {
		c.Alloc.Discard(rec)
	}
}

// DiscardGlobalSlot drops the global recorder outright.
func (c *Core) DiscardGlobalSlot() {
	c.globalMu.Lock()
	rec := c.globalRec
	c.globalRec = nil
	c.globalMu.Unlock()
	if rec != nil {
		c.Alloc.Discard(rec)
	}
}
