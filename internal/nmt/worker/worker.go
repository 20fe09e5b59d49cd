// Package worker implements the dedicated merge worker that consumes
// batches handed off by the sync coordinator and applies them to the
// snapshot in generation order (spec.md §4.6).
package worker

import (
	"sync"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/snapshot"
)

// MaxGenerations bounds how many not-yet-applied generations the worker
// buffers; Submit still accepts a batch beyond it but then reports the
// fatal "out of generation" condition through onOutOfGeneration
// (restored from the source's GenerationData ring, absent from the
// distilled specification).
const MaxGenerations = 512

// Batch is one generation's worth of drained recorders, already merged
// into a flat slice of records by the sync coordinator.
type Batch struct {
	Generation    uint64
	Records       []recordbuf.Record
	ClassCount    int     // informational, mirrors GenerationData's own reporting field
	TrackingBytes uintptr // live Recorder overhead at drain time, charged to CategoryTracking
}

// Worker owns the snapshot and drains batches pushed onto its queue.
type Worker struct {
	snap *snapshot.Snapshot

	mu                sync.Mutex
	cond              *sync.Cond
	ring              []Batch // pending, unordered arrival; sorted by Generation before apply
	closed            bool
	onOutOfGeneration func()
}

// New returns a Worker over snap. onOutOfGeneration, if non-nil, is
// called if the pending ring ever exceeds MaxGenerations before the
// worker can catch up — the caller is expected to initiate shutdown with
// ReasonOutOfGeneration.
func New(snap *snapshot.Snapshot, onOutOfGeneration func()) *Worker {
	w := &Worker{snap: snap, onOutOfGeneration: onOutOfGeneration}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Submit hands a batch to the worker. Safe for concurrent callers (only
// the sync coordinator calls this in practice, but nothing here assumes
// single-writer).
func (w *Worker) Submit(b Batch) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.ring = append(w.ring, b)
	overflow := len(w.ring) > MaxGenerations
	w.mu.Unlock()
	w.cond.Signal()

	if overflow && w.onOutOfGeneration != nil {
		w.onOutOfGeneration()
	}
}

// Run drains the ring until Close is called, applying batches to the
// snapshot in ascending generation order. Intended to run on its own
// goroutine for the lifetime of the tracker (started..final_shutdown per
// spec.md §4.6).
func (w *Worker) Run() {
	for {
		batch, ok := w.next()
		if !ok {
			return
		}
		w.snap.SetWorkerIdle(false)
		w.snap.Apply(batch.Records, batch.Generation)
		w.snap.ChargeTracking(batch.TrackingBytes)
	}
}

func (w *Worker) next() (Batch, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.ring) == 0 && !w.closed {
		w.snap.SetWorkerIdle(true)
		w.cond.Wait()
	}
	if len(w.ring) == 0 && w.closed {
		return Batch{}, false
	}

	lowest := 0
	for i := 1; i < len(w.ring); i++ {
		if w.ring[i].Generation < w.ring[lowest].Generation {
			lowest = i
		}
	}
	b := w.ring[lowest]
	w.ring = append(w.ring[:lowest], w.ring[lowest+1:]...)
	return b, true
}

// Close stops Run once the ring drains, matching the worker's lifetime
// ending at final_shutdown (spec.md §4.8).
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Idle reports whether the worker is currently parked with nothing to
// apply, mirroring worker_thread_idle (spec.md §4.6, §4.7).
func (w *Worker) Idle() bool {
	return w.snap.WorkerIdle()
}

// Backlog returns the number of generations currently buffered and
// awaiting application, used by the sync coordinator's throttle predicate
// (spec.md §4.5 step 1's "generations_in_use%").
func (w *Worker) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ring)
}
