package tracker

import (
	"unsafe"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

// Record commits a single-record operation: malloc, free, reserve,
// commit, uncommit, release, type-assign, or stack-release. cat is
// ignored for free/uncommit/release/stack-release, which discard category
// flags and store a pure operation tag (spec.md §4.4).
//
// For release-class operations (uncommit, release) the sequence number
// pre-reserved at construction is used instead of drawing a fresh one;
// stack-release is not release-class and draws a fresh one.
func (t *Tracker) Record(addr, size uintptr, cat recordbuf.Category, site recordbuf.SiteID) {
	if t.consumed {
		return
	}
	t.consumed = true
	if t.op == OpNoOp {
		return
	}

	op, opCat := recordOpFor(t.op), cat
	if !keepsCategory(t.op) {
		opCat = recordbuf.CategoryOther
	}
	tag := recordbuf.NewTag(op, opCat)

	seq := t.reservedOrFresh()
	t.write(addr, size, tag, seq, site)
	t.releasePendingOp()
}

// ArenaSize commits an arena-size annotation, offsetting the address by
// one pointer width so the snapshot's address sort places this record
// immediately after the allocation it annotates (spec.md §4.4).
func (t *Tracker) ArenaSize(addr, size uintptr, cat recordbuf.Category, site recordbuf.SiteID) {
	if t.consumed {
		return
	}
	t.consumed = true
	if t.op == OpNoOp {
		return
	}

	pointerWidth := uintptr(unsafe.Sizeof(uintptr(0)))
	tag := recordbuf.NewTag(recordbuf.OpArenaSize, cat)
	seq := t.core.nextSeq()
	t.write(addr+pointerWidth, size, tag, seq, site)
}

// Realloc commits a realloc success as two records: a free of oldAddr
// using the sequence pre-reserved at construction, and a malloc of
// newAddr using a freshly drawn sequence — so the free is always ordered
// before the malloc even though both are written here together (spec.md
// §4.3, §5).
func (t *Tracker) Realloc(oldAddr, newAddr, size uintptr, cat recordbuf.Category, site recordbuf.SiteID) {
	if t.consumed {
		return
	}
	t.consumed = true
	if t.op == OpNoOp {
		return
	}

	freeSeq := t.reservedOrFresh()
	t.write(oldAddr, 0, recordbuf.NewTag(recordbuf.OpFree, recordbuf.CategoryOther), freeSeq, site)

	mallocSeq := t.core.nextSeq()
	t.write(newAddr, size, recordbuf.NewTag(recordbuf.OpMalloc, cat), mallocSeq, site)

	t.releasePendingOp()
}

// ReserveAndCommit commits a combined reserve+commit as two records:
// reserve then commit, both at addr/size (spec.md §4.3).
func (t *Tracker) ReserveAndCommit(addr, size uintptr, cat recordbuf.Category, site recordbuf.SiteID) {
	if t.consumed {
		return
	}
	t.consumed = true
	if t.op == OpNoOp {
		return
	}

	reserveSeq := t.core.nextSeq()
	t.write(addr, size, recordbuf.NewTag(recordbuf.OpReserve, cat), reserveSeq, site)

	commitSeq := t.core.nextSeq()
	t.write(addr, size, recordbuf.NewTag(recordbuf.OpCommit, cat), commitSeq, site)
}

// reservedOrFresh returns the sequence pre-reserved at construction for a
// release-class operation, drawing a fresh one if construction failed to
// reserve one (sequence space exhausted — spec.md §4.1).
func (t *Tracker) reservedOrFresh() uint32 {
	if t.preReserved {
		return t.preReservedSeq
	}
	return t.core.nextSeq()
}

// releasePendingOp decrements the pending-op count for a release-class
// tracker that pre-reserved under lock. A no-op for
// trackers that never pre-reserved or never took the lock.
func (t *Tracker) releasePendingOp() {
	if t.preReserved && t.lockHeld {
		t.core.Crit.Lock()
		t.core.pendingOpCount.Add(-1)
		t.core.Crit.Unlock()
	}
}

// keepsCategory reports whether op's record retains the caller-supplied
// category, as opposed to discarding it in favor of a pure operation tag
// (spec.md §4.4: "Free and release-class tags discard the category
// flags").
func keepsCategory(op Operation) bool {
	switch op {
	case OpFree, OpUncommit, OpRelease, OpStackRelease:
		return false
	default:
		return true
	}
}

// recordOpFor maps a Tracker-level Operation onto the OpKind stored in a
// Record's tag. Realloc and ReserveAndCommit never reach here directly —
// they're handled by their own methods, which synthesize two single-op
// records each.
func recordOpFor(op Operation) recordbuf.OpKind {
	switch op {
	case OpMalloc:
		return recordbuf.OpMalloc
	case OpFree:
		return recordbuf.OpFree
	case OpReserve:
		return recordbuf.OpReserve
	case OpCommit:
		return recordbuf.OpCommit
	case OpUncommit:
		return recordbuf.OpUncommit
	case OpRelease, OpStackRelease:
		return recordbuf.OpRelease
	case OpType:
		return recordbuf.OpType
	case OpArenaSize:
		return recordbuf.OpArenaSize
	default:
		return recordbuf.OpMalloc
	}
}
