// Package snapshot holds the authoritative per-category byte accounting
// the merge worker produces and the query API reads (spec.md §4.6, §4.7).
package snapshot

import (
	"sort"
	"sync"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

// Usage is the per-category byte accounting at one point in time.
type Usage struct {
	Committed [recordbuf.CategoryCount]uintptr
	Reserved  [recordbuf.CategoryCount]uintptr
}

var categoriesOrder = recordbuf.AllCategories()

func categoryIndex(c recordbuf.Category) int {
	return int(c)
}

// Snapshot is the live, mutable aggregated state. It is owned exclusively
// by the merge worker for writes; readers synchronize through mu.
//
// Internally it tracks open address ranges (malloc'd blocks and reserved
// virtual memory) in a map keyed by address; Apply sorts each batch by
// address before merging it. Go's GC makes an explicit free list
// unnecessary.
type Snapshot struct {
	mu sync.Mutex

	live  map[uintptr]liveBlock // malloc'd / reserved address -> block
	usage Usage

	generation  uint64
	outOfMemory bool
	workerIdle  bool
	cond        *sync.Cond
}

type liveBlock struct {
	size      uintptr
	cat       recordbuf.Category
	committed bool // true for mallocs and for committed virtual ranges
}

// New returns an empty Snapshot.
func New() *Snapshot {
	s := &Snapshot{live: make(map[uintptr]liveBlock)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Apply merges one generation's worth of records into the snapshot and
// publishes the new generation number, matching MemTrackWorker's sync
// point (spec.md §4.6).
//
// Records should already be sorted by (address, tag, sequence); Apply
// sorts defensively so callers cannot violate the invariant silently.
func (s *Snapshot) Apply(records []recordbuf.Record, generation uint64) {
	sorted := make([]recordbuf.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Addr != sorted[j].Addr {
			return sorted[i].Addr < sorted[j].Addr
		}
		if sorted[i].Tag != sorted[j].Tag {
			return sorted[i].Tag < sorted[j].Tag
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	s.mu.Lock()
	for _, rec := range sorted {
		s.applyOne(rec)
	}
	s.generation = generation
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Snapshot) applyOne(rec recordbuf.Record) {
	cat := rec.Tag.Category()
	switch rec.Tag.Op() {
	case recordbuf.OpMalloc:
		s.live[rec.Addr] = liveBlock{size: rec.Size, cat: cat, committed: true}
		s.usage.Committed[categoryIndex(cat)] += rec.Size
	case recordbuf.OpFree:
		if b, ok := s.live[rec.Addr]; ok {
			s.usage.Committed[categoryIndex(b.cat)] -= b.size
			delete(s.live, rec.Addr)
		}
	case recordbuf.OpReserve:
		s.live[rec.Addr] = liveBlock{size: rec.Size, cat: cat, committed: false}
		s.usage.Reserved[categoryIndex(cat)] += rec.Size
	case recordbuf.OpCommit:
		if b, ok := s.live[rec.Addr]; ok {
			b.committed = true
			s.live[rec.Addr] = b
		}
		s.usage.Committed[categoryIndex(cat)] += rec.Size
	case recordbuf.OpUncommit:
		s.usage.Committed[categoryIndex(cat)] -= rec.Size
	case recordbuf.OpRelease:
		if b, ok := s.live[rec.Addr]; ok {
			s.usage.Reserved[categoryIndex(b.cat)] -= b.size
			delete(s.live, rec.Addr)
		}
	case recordbuf.OpArenaSize:
		// The size record is offset by one pointer-width from the
		// allocation it annotates (spec.md §4.4); the allocation's own
		// malloc/reserve record already charged its own size, so the
		// arena-size record changes no byte totals.
	case recordbuf.OpType:
		// Type-assignment re-tags an existing address; no byte delta.
	}
}

// ChargeTracking sets the CategoryTracking committed total to bytes,
// self-charging the tracker's own live Recorder overhead (pool, pending
// queue, and checked-out slots) the way HotSpot's mtNMT self-tagging does
// (spec.md §4.4). It is a gauge, not an accumulator: the caller passes
// the current total each cycle, derived from Allocator.InstanceCount.
func (s *Snapshot) ChargeTracking(bytes uintptr) {
	s.mu.Lock()
	s.usage.Committed[categoryIndex(recordbuf.CategoryTracking)] = bytes
	s.mu.Unlock()
}

// Committed returns the committed byte count for one category.
func (s *Snapshot) Committed(cat recordbuf.Category) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.Committed[categoryIndex(cat)]
}

// Reserved returns the reserved byte count for one category.
func (s *Snapshot) Reserved(cat recordbuf.Category) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.Reserved[categoryIndex(cat)]
}

// Generation returns the generation last applied to the snapshot. This is
// the value wait-for-data-merge compares against (spec.md §4.7).
func (s *Snapshot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SetWorkerIdle records whether the merge worker is currently parked with
// nothing to do, letting blocked readers decide whether to force a
// safepoint (spec.md §4.6, §4.7).
func (s *Snapshot) SetWorkerIdle(idle bool) {
	s.mu.Lock()
	s.workerIdle = idle
	s.mu.Unlock()
}

// WorkerIdle reports the last value set by SetWorkerIdle.
func (s *Snapshot) WorkerIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerIdle
}

// MarkOutOfMemory latches a fatal allocation failure observed while
// applying a batch. Once set it never clears; callers check it via
// OutOfMemory before trusting further reads.
func (s *Snapshot) MarkOutOfMemory() {
	s.mu.Lock()
	s.outOfMemory = true
	s.mu.Unlock()
}

// OutOfMemory reports whether MarkOutOfMemory has ever been called.
func (s *Snapshot) OutOfMemory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outOfMemory
}

// Copy returns a value copy of the current per-category usage, suitable
// for latching as a Baseline or for diffing.
func (s *Snapshot) Copy() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// WakeWaiters wakes every goroutine blocked in Wait without advancing the
// generation. Apply is the only other broadcaster, and it only runs while
// the merge worker is alive; a goroutine parked in Wait when shutdown
// begins, with no further Apply after it, would otherwise never wake,
// violating spec.md §5's "wait_for_data_merge terminates when the
// subsystem enters shutdown." Callers invoke this once shutdown is
// requested, alongside whatever external state their done predicate reads.
//
// Broadcasting while holding mu (rather than a bare Broadcast) closes the
// race against a waiter that has just evaluated done() as false but has
// not yet called cond.Wait: since done reads state outside mu, only
// serializing on mu itself guarantees the broadcast is not lost between
// that check and the waiter actually going to sleep.
func (s *Snapshot) WakeWaiters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cond.Broadcast()
}

// Wait blocks until generation advances past since, or the predicate done
// reports true (used by the lifecycle controller to unblock waiters on
// shutdown). It does not itself force a safepoint; nmt.Controller's
// WaitForDataMerge runs a sync cycle before calling it.
func (s *Snapshot) Wait(since uint64, done func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !generationAdvancedPast(s.generation, since) && !done() {
		s.cond.Wait()
	}
}

// generationAdvancedPast reports whether cur has advanced past since,
// using wraparound-safe unsigned arithmetic rather than the signed
// distance-to-wrap comparison spec.md §9 warns against reproducing
// literally: cur has advanced past since iff the wrapping difference
// cur-since, interpreted as a signed 64-bit quantity, is positive.
func generationAdvancedPast(cur, since uint64) bool {
	return int64(cur-since) > 0
}
