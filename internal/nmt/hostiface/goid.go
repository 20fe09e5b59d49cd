package hostiface

import (
	"runtime"
	"strconv"
	"sync"
)

// goroutineID extracts the calling goroutine's ID by parsing the header
// line of runtime.Stack's output ("goroutine 123 [running]: ..."). This
// is the same technique used elsewhere in this codebase to recover
// goroutine identity without a native thread-local primitive; it is slow
// (a few microseconds) and is only ever used on the DefaultThreadLocal's
// cold path, not from the tracker's own hot path.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID scans "goroutine <digits> [" and returns the digits as an
// int64, or 0 if the expected prefix is not found.
func parseGID(b []byte) int64 {
	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]

	end := 0
	for end < len(b) && b[end] >= '0' && b[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// DefaultThreadLocal resolves the calling goroutine to a ThreadToken,
// registering it with the underlying registry on first use and caching
// the mapping by goroutine ID for subsequent calls.
type DefaultThreadLocal struct {
	registry *DefaultRegistry
	byGoid   map[int64]*ThreadToken
	mu       sync.Mutex
}

// NewDefaultThreadLocal returns a ThreadLocal backed by registry,
// auto-registering each new goroutine that calls Current.
func NewDefaultThreadLocal(registry *DefaultRegistry) *DefaultThreadLocal {
	return &DefaultThreadLocal{registry: registry, byGoid: make(map[int64]*ThreadToken)}
}

// Current returns this goroutine's ThreadToken, registering one the
// first time a given goroutine calls Current.
func (d *DefaultThreadLocal) Current() ThreadHandle {
	gid := goroutineID()

	d.mu.Lock()
	if tok, ok := d.byGoid[gid]; ok {
		d.mu.Unlock()
		return tok
	}
	d.mu.Unlock()

	tok := d.registry.Register()

	d.mu.Lock()
	d.byGoid[gid] = tok
	d.mu.Unlock()

	return tok
}
