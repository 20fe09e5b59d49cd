// Package sequence implements the monotonic sequence/generation counters
// that order native memory tracking events.
//
// A Generator hands out strictly increasing 32-bit sequence numbers within
// a generation. Generations advance exactly once per successful sync; a
// generation bounds the lifetime of the sequence numbers issued during it.
package sequence

import "sync/atomic"

// Generator is the global sequence/generation counter for one tracker
// instance. It is safe for concurrent use.
//
// Next is an atomic fetch-add on the hot path; Reset is only ever called
// from the sync coordinator while the critical section is held and no
// operation is mid-record, per the invariant in spec.md §4.1.
type Generator struct {
	seq atomic.Uint32
	gen atomic.Uint64
}

// New returns a Generator starting at sequence 1, generation 0.
//
// Sequence numbers start at 1, not 0, so that 0 can be used as a sentinel
// "no sequence reserved" value by callers (see internal/nmt/tracker).
func New() *Generator {
	g := &Generator{}
	g.seq.Store(1)
	return g
}

// Next draws the next sequence number.
//
// ok is false if the 32-bit sequence space is exhausted within the current
// generation (saturation). Per spec.md §4.1 this is a precondition
// violation the sync coordinator is expected to prevent by resetting
// before it happens; callers that see ok==false should treat it as a fatal
// condition for the current tracker instance (sequence overflow).
//
//go:nosplit
func (g *Generator) Next() (seq uint32, ok bool) {
	v := g.seq.Add(1)
	if v == 0 {
		// wrapped past the top of the 32-bit range
		return 0, false
	}
	return v - 1, true
}

// Peek returns the next sequence number that would be issued, without
// consuming it. Used by the sync coordinator's throttle predicate.
func (g *Generator) Peek() uint32 {
	return g.seq.Load()
}

// Reset restarts the sequence counter at 1 (the first number Next will
// issue) and advances the generation by one.
//
// Callers must hold the process-wide critical section and must not call
// Reset while any tracker operation is mid-record (spec.md §4.1, §9 —
// the specification forbids nested instrumentation during the drain
// window; this method does not itself enforce that, the sync coordinator
// does by construction).
func (g *Generator) Reset() {
	g.seq.Store(1)
	g.gen.Add(1)
}

// CurrentGeneration returns the generation currently being produced into.
func (g *Generator) CurrentGeneration() uint64 {
	return g.gen.Load()
}

// PercentInUse returns how much of the 32-bit sequence space has been used
// in the current generation, scaled 0-100. Used by the sync coordinator's
// skip-safepoint throttle (spec.md §4.5 step 1).
func (g *Generator) PercentInUse() int {
	const maxUint32 = ^uint32(0)
	used := uint64(g.seq.Load())
	return int(used * 100 / uint64(maxUint32))
}
