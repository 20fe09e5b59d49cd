package recordbuf

import "unsafe"

// SiteID identifies a captured call site, or zero if none was captured
// (detail mode is off, or the platform cannot walk the native stack).
type SiteID uint64

// Record is a single, immutable native memory event.
//
// Fields mirror spec.md §3's event record: address, size, tag bits
// (category + operation kind), sequence number, and a nullable caller
// site identifier populated only in detail mode.
type Record struct {
	Addr uintptr
	Size uintptr
	Tag  Tag
	Seq  uint32
	Site SiteID
}

// DefaultCapacity is the typical per-thread recorder capacity named in
// spec.md §3 ("100 records/thread typical").
const DefaultCapacity = 100

// Recorder is a fixed-capacity, append-only buffer of event records.
//
// A Recorder is owned exclusively by at most one of: a thread slot, the
// global slot, the pool, the pending queue, or the merge worker — never
// two at once (spec.md §3 invariant). Ownership moves only through the
// atomic pool/pending-queue heads or by direct hand-off.
type Recorder struct {
	buf        []Record
	len        int32
	capacity   int32
	next       *Recorder // intrusive link; only meaningful while on pool/pending stack
	generation uint64    // stamped when taken from the pool
}

// newRecorder allocates a Recorder with the given capacity. Capacity is
// fixed for the lifetime of the Recorder; Clear never shrinks it.
func newRecorder(capacity int) *Recorder {
	return &Recorder{
		buf:      make([]Record, capacity),
		capacity: int32(capacity),
	}
}

// Len returns the number of records currently held.
func (r *Recorder) Len() int { return int(r.len) }

// IsFull reports whether the recorder has reached capacity.
func (r *Recorder) IsFull() bool { return r.len >= r.capacity }

// Record appends one event record. It reports false if the recorder was
// already full — the caller is then responsible for enqueuing this
// recorder and acquiring a fresh one (spec.md §4.2, §4.3).
func (r *Recorder) Record(addr, size uintptr, tag Tag, seq uint32, site SiteID) bool {
	if r.IsFull() {
		return false
	}
	r.buf[r.len] = Record{Addr: addr, Size: size, Tag: tag, Seq: seq, Site: site}
	r.len++
	return true
}

// At returns the record at the given index. Index must be < Len().
func (r *Recorder) At(i int) Record { return r.buf[i] }

// Clear empties the recorder for reuse, but keeps its backing buffer.
func (r *Recorder) Clear() { r.len = 0 }

// SetNext / Next implement the intrusive linkage used by Pool and
// PendingQueue; they have no meaning once a Recorder is owned by a thread
// slot or the merge worker.
func (r *Recorder) SetNext(n *Recorder) { r.next = n }
func (r *Recorder) Next() *Recorder     { return r.next }

// Generation returns the generation this recorder was stamped with when it
// left the pool (or zero, for a brand-new recorder never stamped yet).
func (r *Recorder) Generation() uint64 { return r.generation }

// SetGeneration stamps the recorder with the generation it is now
// recording into. Called by get_new_or_pooled_instance's equivalent.
func (r *Recorder) SetGeneration(gen uint64) { r.generation = gen }

// Records returns a read-only view of the records held so far, in
// append order. Used by the merge worker and by tests; not on any hot
// path.
func (r *Recorder) Records() []Record { return r.buf[:r.len] }

// FootprintBytes is the approximate backing-store size of one Recorder,
// used to self-charge every live Recorder's overhead to CategoryTracking
// (spec.md §4.4's category taxonomy note, mirroring HotSpot's
// mtNMT/otNMTRecorder self-tagging in memRecorder.hpp: NMT's own
// bookkeeping memory is itself a tracked category, not invisible
// overhead).
func FootprintBytes() uintptr {
	return uintptr(DefaultCapacity) * unsafe.Sizeof(Record{})
}
