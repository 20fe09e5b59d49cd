package tracker

import (
	"github.com/kolkov/nativemem/internal/nmt/hostiface"
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

// Tracker is the scoped handle constructed at each memory operation. It
// decides, once, at construction: which thread the event belongs to,
// whether exclusive access is required, and — for release-class
// operations — pre-reserves a sequence number (spec.md §4.3).
//
// A Tracker must be consumed by exactly one call to Record (or one of its
// variants) or Discard. Calling either again after consumption is a
// silent no-op, matching spec.md §7's discard-is-idempotent requirement.
type Tracker struct {
	core *Core
	op   Operation

	threadID  uint64
	useGlobal bool
	lockHeld  bool // true if this tracker's classification requires locking

	// handle is set only for the cooperative, in-runtime, no-lock
	// classification: write() brackets its unlocked append with
	// handle.EnterRecording/LeaveRecording so a concurrently running sync
	// cycle cannot observe this thread as idle mid-write.
	handle hostiface.ThreadHandle

	preReserved    bool
	preReservedSeq uint32

	consumed bool
}

// New constructs a Tracker for op, attributing it to handle if non-nil,
// or to the calling thread via Core.ThreadLocal otherwise. A nil handle
// and a nil ThreadLocal result both route the event to the global
// recorder, matching the "unattached" row of spec.md §4.3's table.
func New(core *Core, op Operation, handle hostiface.ThreadHandle) *Tracker {
	t := &Tracker{core: core, op: op}
	if op == OpNoOp {
		// Dropped silently: no thread lookup, no locking decision, no
		// sequence reservation (spec.md §7).
		return t
	}

	state := core.LC.State()
	singleThreaded := state == lifecycle.BootstrappingSingleThread

	if handle == nil && !singleThreaded && core.ThreadLocal != nil {
		handle = core.ThreadLocal.Current()
	}

	switch {
	case singleThreaded:
		t.lockHeld = false
		t.useGlobal = true
	case handle == nil || !handle.SafepointVisible():
		t.lockHeld = true
		t.useGlobal = true
	case handle.SafepointSafeState():
		t.lockHeld = true
		t.useGlobal = false
		t.threadID = handle.ID()
	default: // cooperative, safepoint-visible, in-runtime state
		t.lockHeld = false
		t.useGlobal = false
		t.threadID = handle.ID()
		t.handle = handle
	}

	if op.isReleaseClass() {
		if t.lockHeld {
			core.Crit.Lock()
			core.pendingOpCount.Add(1)
			seq, ok := core.Seq.Next()
			core.Crit.Unlock()
			if ok {
				t.preReserved = true
				t.preReservedSeq = seq
			} else {
				core.LC.Shutdown(lifecycle.ReasonSequenceOverflow)
			}
		} else {
			seq, ok := core.Seq.Next()
			if ok {
				t.preReserved = true
				t.preReservedSeq = seq
			} else {
				core.LC.Shutdown(lifecycle.ReasonSequenceOverflow)
			}
		}
	}

	return t
}

// Discard abandons the tracker without recording anything. If a sequence
// number was pre-reserved under lock, the pending-op count is decremented
// by one. Idempotent: a second call, or a call after Record, does nothing.
func (t *Tracker) Discard() {
	if t.consumed {
		return
	}
	t.consumed = true
	if t.preReserved && t.lockHeld {
		t.core.Crit.Lock()
		t.core.pendingOpCount.Add(-1)
		t.core.Crit.Unlock()
	}
}

// write routes one record to this tracker's chosen destination, taking
// the critical section first if this tracker's classification requires
// it.
func (t *Tracker) write(addr, size uintptr, tag recordbuf.Tag, seq uint32, site recordbuf.SiteID) {
	if t.lockHeld {
		t.core.Crit.Lock()
	} else if t.handle != nil {
		t.handle.EnterRecording()
	}
	if t.useGlobal {
		t.core.appendToGlobal(addr, size, tag, seq, site)
	} else {
		t.core.appendToThread(t.threadID, addr, size, tag, seq, site)
	}
	if t.lockHeld {
		t.core.Crit.Unlock()
	} else if t.handle != nil {
		t.handle.LeaveRecording()
	}
}
