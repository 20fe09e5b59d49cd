package worker

import (
	"testing"
	"time"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/snapshot"
)

func TestRunAppliesBatchesInGenerationOrder(t *testing.T) {
	snap := snapshot.New()
	w := New(snap, nil)
	go w.Run()
	defer w.Close()

	// Submit out of generation order; Run must still apply lowest-first.
	w.Submit(Batch{Generation: 2, Records: []recordbuf.Record{
		{Addr: 0x2000, Size: 10, Tag: recordbuf.NewTag(recordbuf.OpMalloc, recordbuf.CategoryOther), Seq: 1},
	}})
	w.Submit(Batch{Generation: 1, Records: []recordbuf.Record{
		{Addr: 0x1000, Size: 20, Tag: recordbuf.NewTag(recordbuf.OpMalloc, recordbuf.CategoryOther), Seq: 1},
	}})

	deadline := time.After(2 * time.Second)
	for {
		if snap.Generation() == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not reach generation 2 in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := snap.Committed(recordbuf.CategoryOther); got != 30 {
		t.Fatalf("Committed(Other) = %d, want 30 (both batches applied)", got)
	}
}

func TestIdleReflectsNoPendingWork(t *testing.T) {
	snap := snapshot.New()
	w := New(snap, nil)
	go w.Run()
	defer w.Close()

	deadline := time.After(2 * time.Second)
	for !w.Idle() {
		select {
		case <-deadline:
			t.Fatal("worker never reached idle")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBacklogReflectsQueuedGenerations(t *testing.T) {
	snap := snapshot.New()
	w := New(snap, nil)
	// No Run() goroutine: nothing consumes the ring, so Backlog() is
	// deterministic.
	w.Submit(Batch{Generation: 1})
	w.Submit(Batch{Generation: 2})
	if got := w.Backlog(); got != 2 {
		t.Fatalf("Backlog() = %d, want 2", got)
	}
}

func TestSubmitOverflowTriggersCallback(t *testing.T) {
	snap := snapshot.New()
	called := make(chan struct{}, 1)
	w := New(snap, func() {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	for i := 0; i <= MaxGenerations; i++ {
		w.Submit(Batch{Generation: uint64(i)})
	}

	select {
	case <-called:
	default:
		t.Fatal("onOutOfGeneration was not called after exceeding MaxGenerations")
	}
}

func TestSubmitAfterCloseIsDropped(t *testing.T) {
	snap := snapshot.New()
	w := New(snap, nil)
	w.Close()
	w.Submit(Batch{Generation: 1})
	if got := w.Backlog(); got != 0 {
		t.Fatalf("Backlog() = %d after Submit on a closed worker, want 0", got)
	}
}

func TestRunReturnsAfterCloseWithEmptyRing(t *testing.T) {
	snap := snapshot.New()
	w := New(snap, nil)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Close() on an empty ring")
	}
}
