// Package decoder captures and deduplicates the call sites behind native
// memory events when detail mode is enabled (spec.md §2's "symbol
// decoder" collaborator).
//
// Call sites are captured as a fixed number of program counters, hashed
// for deduplication, and stored once per unique site. Callers get back a
// recordbuf.SiteID instead of the raw trace, keeping Record small.
package decoder

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

// MaxFrames bounds how many program counters a captured site retains.
const MaxFrames = 8

// Site is a captured call site: a fixed-size slice of program counters.
type Site struct {
	PC [MaxFrames]uintptr
}

// Decoder is one Controller's call-site deduplication store, keyed by
// SiteID. It is owned per-Controller rather than process-global: sharing
// one store across every Controller in a process would mean one
// Controller's final_shutdown resetting it (spec.md line 104's "shuts
// down the symbol decoder") could invalidate SiteIDs a sibling Controller
// is still holding and formatting.
type Decoder struct {
	sites sync.Map // recordbuf.SiteID -> *Site
}

// New returns an empty Decoder.
func New() *Decoder {
	return &Decoder{}
}

// CaptureSite walks the stack above its caller and returns a SiteID for
// it, storing the underlying trace once per unique site. It returns 0
// (recordbuf's "no site" sentinel) if no frames could be captured.
//
// skip is the number of additional frames to skip beyond CaptureSite's own
// frame and runtime.Callers', letting callers attribute the site to their
// own caller rather than to themselves.
func (d *Decoder) CaptureSite(skip int) recordbuf.SiteID {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}

	id := hashSite(pcs[:n])
	if id == 0 {
		// Never collide with the sentinel; substitute 1 instead.
		id = 1
	}

	if _, exists := d.sites.Load(id); exists {
		return id
	}
	d.sites.Store(id, &Site{PC: pcs})
	return id
}

// GetSite retrieves a previously captured site by its SiteID, or nil if
// unknown (including the zero sentinel).
func (d *Decoder) GetSite(id recordbuf.SiteID) *Site {
	if id == 0 {
		return nil
	}
	val, ok := d.sites.Load(id)
	if !ok {
		return nil
	}
	return val.(*Site)
}

// Format renders a site as one frame-per-line, matching the layout of
// standard Go stack dumps, skipping runtime-internal frames.
func (s *Site) Format() string {
	if s == nil {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(s.PC[:])
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&buf, "  %s()\n      %s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Reset clears the site store. Called at final_shutdown so a Controller's
// captured call sites do not outlive it (spec.md line 104).
func (d *Decoder) Reset() {
	d.sites = sync.Map{}
}

// Stats reports how many unique sites are stored and their approximate
// memory footprint.
func (d *Decoder) Stats() (uniqueSites int, approxBytes int64) {
	d.sites.Range(func(_, _ any) bool {
		uniqueSites++
		return true
	})
	const bytesPerSite = MaxFrames*8 + 32
	return uniqueSites, int64(uniqueSites) * bytesPerSite
}

func hashSite(pcs []uintptr) recordbuf.SiteID {
	h := fnv.New64a()
	for _, pc := range pcs {
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		_, _ = h.Write(b)
	}
	return recordbuf.SiteID(h.Sum64())
}
