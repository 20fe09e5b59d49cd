package synccoord

import (
	"testing"
	"time"

	"github.com/kolkov/nativemem/internal/nmt/hostiface"
	"github.com/kolkov/nativemem/internal/nmt/lifecycle"
	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
	"github.com/kolkov/nativemem/internal/nmt/sequence"
	"github.com/kolkov/nativemem/internal/nmt/snapshot"
	"github.com/kolkov/nativemem/internal/nmt/tracker"
	"github.com/kolkov/nativemem/internal/nmt/worker"
)

type fakeHandle struct {
	id uint64
}

func (f *fakeHandle) ID() uint64               { return f.id }
func (f *fakeHandle) SafepointVisible() bool   { return true }
func (f *fakeHandle) SafepointSafeState() bool { return true }
func (f *fakeHandle) EnterRecording()          {}
func (f *fakeHandle) LeaveRecording()          {}

func newTestCoordinator(t *testing.T) (*Coordinator, *tracker.Core, *hostiface.DefaultRegistry, *worker.Worker, *lifecycle.Controller) {
	t.Helper()
	lc := lifecycle.NewController()
	core := tracker.NewCore(
		recordbuf.NewAllocator(),
		sequence.New(),
		lc,
		nil,
		&hostiface.DefaultCriticalSection{},
	)
	registry := hostiface.NewDefaultRegistry()
	crit := &hostiface.DefaultCriticalSection{}
	snap := snapshot.New()
	w := worker.New(snap, nil)
	coord := New(core, registry, crit, lc, w, func(r lifecycle.ShutdownReason) { lc.Shutdown(r) }, nil)
	return coord, core, registry, w, lc
}

func TestSyncDrainsThreadAndGlobalRecorders(t *testing.T) {
	coord, core, registry, w, _ := newTestCoordinator(t)

	tok := registry.Register()
	tr := tracker.New(core, tracker.OpMalloc, tok)
	tr.Record(0x1000, 16, recordbuf.CategoryOther, 0)

	if !coord.Sync() {
		t.Fatal("Sync() returned false (skipped) on the first call")
	}
	if got := w.Backlog(); got != 1 {
		t.Fatalf("Backlog() = %d after Sync(), want 1 batch submitted", got)
	}
}

func TestSyncSkipsWhilePendingOpOutstanding(t *testing.T) {
	coord, core, _, _, _ := newTestCoordinator(t)
	fh := &fakeHandle{id: 1}
	tr := tracker.New(core, tracker.OpRelease, fh) // pre-reserves, bumps PendingOpCount
	defer tr.Discard()

	if coord.Sync() {
		t.Fatal("Sync() drained while a tracker had an outstanding pending op")
	}
}

func TestApplyBackpressureSetsSlowdownAdvised(t *testing.T) {
	coord, core, registry, _, _ := newTestCoordinator(t)
	registry.Register() // threadCount = 1

	for i := 0; i < MaxRecorderRatio+1; i++ {
		core.Alloc.Acquire(0)
	}

	coord.AutoShutdown = false
	coord.Sync()
	if !coord.SlowdownAdvised() {
		t.Fatal("SlowdownAdvised() = false despite instance count exceeding the ratio threshold")
	}
}

func TestApplyBackpressureAutoShutdown(t *testing.T) {
	coord, core, registry, _, lc := newTestCoordinator(t)
	must(t, lc.ParseOptions("=summary", true))
	lc.BootstrapSingleThread()
	lc.BootstrapMultiThread()
	lc.Start()

	registry.Register() // threadCount = 1
	for i := 0; i < MaxRecorderPerThread+1; i++ {
		core.Alloc.Acquire(0)
	}

	coord.Sync()
	if lc.State() != lifecycle.ShutdownPending {
		t.Fatalf("State() = %v after instance count blew past the auto-shutdown threshold, want ShutdownPending", lc.State())
	}
}

func TestApplyBackpressureRatioIgnoredWhenAutoShutdownEnabled(t *testing.T) {
	coord, core, registry, _, _ := newTestCoordinator(t)
	registry.Register() // threadCount = 1

	// Exceeds the ratio threshold but stays well below the per-thread
	// out-of-memory threshold, so with AutoShutdown enabled the ratio
	// check must never run at all (spec.md §4.5 step 4; memTracker.cpp's
	// ratio-based slowdown flag is computed only in the !auto_shutdown
	// branch).
	for i := 0; i < MaxRecorderRatio+1; i++ {
		core.Alloc.Acquire(0)
	}

	coord.AutoShutdown = true
	coord.Sync()
	if coord.SlowdownAdvised() {
		t.Fatal("SlowdownAdvised() = true from the ratio check despite AutoShutdown being enabled")
	}
}

func TestGenPressurePercentScalesWithBacklog(t *testing.T) {
	coord, _, _, w, _ := newTestCoordinator(t)
	if got := coord.genPressurePercent(); got != 0 {
		t.Fatalf("genPressurePercent() = %d on an empty worker, want 0", got)
	}
	for i := 0; i < worker.MaxGenerations/2; i++ {
		w.Submit(worker.Batch{Generation: uint64(i)})
	}
	if got := coord.genPressurePercent(); got <= 0 || got > 100 {
		t.Fatalf("genPressurePercent() = %d, want a value in (0, 100]", got)
	}
}

// TestSyncDrivesFinalShutdownAndClosesWorker exercises the full
// shutdown_pending -> final_shutdown -> shutdown walk: Sync must itself
// advance shutdown_pending to final_shutdown (nothing else calls
// BeginFinalShutdown), then a cycle that finds instance_count at zero
// must complete shutdown and stop the worker's Run loop.
func TestSyncDrivesFinalShutdownAndClosesWorker(t *testing.T) {
	coord, _, registry, w, lc := newTestCoordinator(t)
	must(t, lc.ParseOptions("=summary", true))
	lc.BootstrapSingleThread()
	lc.BootstrapMultiThread()
	lc.Start()
	registry.Register()

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	if !lc.Shutdown(lifecycle.ReasonManual) {
		t.Fatal("Shutdown() did not initiate from Started")
	}
	if lc.State() != lifecycle.ShutdownPending {
		t.Fatalf("State() = %v after Shutdown(), want ShutdownPending", lc.State())
	}

	// A single cycle both advances shutdown_pending -> final_shutdown and,
	// finding instance_count already at zero, runs finalDrain through to
	// completion in the same call.
	coord.Sync()
	if lc.State() != lifecycle.Shutdown {
		t.Fatalf("State() = %v after the first Sync() cycle following a shutdown request, want Shutdown", lc.State())
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker.Run() did not return after shutdown completed, Close() was not called")
	}
}

// TestSyncFinalShutdownDeletesPooledRecorders exercises the realistic path
// where a Recorder was actually acquired, recorded into, drained, and
// released back to the pool by an earlier ordinary sync cycle before
// shutdown was requested. Without draining the pool at final_shutdown,
// InstanceCount() would never reach zero and the lifecycle would be stuck
// in FinalShutdown forever (the bug DeleteAllPooled fixes).
func TestSyncFinalShutdownDeletesPooledRecorders(t *testing.T) {
	coord, core, registry, w, lc := newTestCoordinator(t)
	must(t, lc.ParseOptions("=summary", true))
	lc.BootstrapSingleThread()
	lc.BootstrapMultiThread()
	lc.Start()

	tok := registry.Register()
	tr := tracker.New(core, tracker.OpMalloc, tok)
	tr.Record(0x1000, 16, recordbuf.CategoryOther, 0)

	if !coord.Sync() {
		t.Fatal("Sync() returned false on the ordinary pre-shutdown cycle")
	}
	if core.Alloc.InstanceCount() == 0 {
		t.Fatal("test setup: expected the drained recorder to be pooled, not deleted, by the ordinary sync")
	}
	if core.Alloc.PooledCount() == 0 {
		t.Fatal("test setup: expected the drained recorder to land in the pool")
	}

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	if !lc.Shutdown(lifecycle.ReasonManual) {
		t.Fatal("Shutdown() did not initiate from Started")
	}

	coord.Sync()
	if lc.State() != lifecycle.Shutdown {
		t.Fatalf("State() = %v after final shutdown with a previously-pooled recorder, want Shutdown", lc.State())
	}
	if core.Alloc.InstanceCount() != 0 {
		t.Fatalf("InstanceCount() = %d after final shutdown, want 0 (pooled recorders must be deleted too)", core.Alloc.InstanceCount())
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker.Run() did not return after shutdown completed, Close() was not called")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
