package hostiface

import (
	"sync"
	"sync/atomic"
)

// defaultThread is the concrete ThreadHandle used by DefaultRegistry.
type defaultThread struct {
	id     uint64
	exited atomic.Bool
	safe   atomic.Bool // safepoint-safe right now
}

func (t *defaultThread) ID() uint64               { return t.id }
func (t *defaultThread) SafepointVisible() bool   { return !t.exited.Load() }
func (t *defaultThread) SafepointSafeState() bool { return t.safe.Load() }
func (t *defaultThread) EnterRecording()          { t.safe.Store(false) }
func (t *defaultThread) LeaveRecording()          { t.safe.Store(true) }

// DefaultRegistry is an in-process ThreadRegistry keyed on an
// opaque handle returned by Register. It has no notion of goroutine
// identity on its own — callers register once per logical thread and hand
// the returned *ThreadToken to every subsequent call on that thread,
// mirroring how HotSpot attaches a Thread* to each native thread at
// attach time.
type DefaultRegistry struct {
	mu      sync.RWMutex
	threads map[uint64]*defaultThread
	nextID  atomic.Uint64
}

// ThreadToken is the handle a caller holds for its own registered thread.
type ThreadToken struct {
	id uint64
	t  *defaultThread
}

// ID returns the thread's registry identifier.
func (tok *ThreadToken) ID() uint64 { return tok.id }

// ThreadToken implements ThreadHandle by forwarding to its underlying
// defaultThread, so callers can pass a *ThreadToken anywhere a
// ThreadHandle is expected.
func (tok *ThreadToken) SafepointVisible() bool   { return tok.t.SafepointVisible() }
func (tok *ThreadToken) SafepointSafeState() bool { return tok.t.SafepointSafeState() }
func (tok *ThreadToken) EnterRecording()          { tok.t.EnterRecording() }
func (tok *ThreadToken) LeaveRecording()          { tok.t.LeaveRecording() }

// NewDefaultRegistry returns an empty registry.
func NewDefaultRegistry() *DefaultRegistry {
	return &DefaultRegistry{threads: make(map[uint64]*defaultThread)}
}

// Register adds a new logical thread to the registry, safepoint-safe by
// default (idle), and returns a token for it.
func (r *DefaultRegistry) Register() *ThreadToken {
	id := r.nextID.Add(1)
	t := &defaultThread{id: id}
	t.safe.Store(true)

	r.mu.Lock()
	r.threads[id] = t
	r.mu.Unlock()

	return &ThreadToken{id: id, t: t}
}

// Unregister removes a thread from the registry, mirroring
// MemTracker::thread_exiting's bookkeeping at thread death.
func (r *DefaultRegistry) Unregister(tok *ThreadToken) {
	tok.t.exited.Store(true)
	r.mu.Lock()
	delete(r.threads, tok.id)
	r.mu.Unlock()
}

// ForEachCooperative visits every registered, safepoint-visible thread,
// matching MemTracker::sync()'s walk of the thread list at a safepoint.
func (r *DefaultRegistry) ForEachCooperative(visit func(ThreadHandle)) {
	r.mu.RLock()
	snapshot := make([]*defaultThread, 0, len(r.threads))
	for _, t := range r.threads {
		snapshot = append(snapshot, t)
	}
	r.mu.RUnlock()

	for _, t := range snapshot {
		if !t.SafepointVisible() {
			continue
		}
		visit(t)
	}
}

// Count returns the number of currently registered threads.
func (r *DefaultRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}
