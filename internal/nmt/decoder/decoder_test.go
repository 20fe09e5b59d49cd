package decoder

import (
	"strings"
	"testing"

	"github.com/kolkov/nativemem/internal/nmt/recordbuf"
)

func TestCaptureSiteReturnsNonZero(t *testing.T) {
	d := New()
	id := d.CaptureSite(0)
	if id == 0 {
		t.Fatal("CaptureSite() = 0, want a nonzero site ID")
	}
}

func TestCaptureSiteDeduplicatesSameCallSite(t *testing.T) {
	d := New()
	capture := func() {
		d.CaptureSite(0)
	}
	// Both calls come from the same loop line, so the captured stacks match.
	for i := 0; i < 2; i++ {
		capture()
	}

	unique, _ := d.Stats()
	if unique != 1 {
		t.Fatalf("Stats() unique = %d, want 1 for two captures at the same call site", unique)
	}
}

func TestCaptureSiteDistinguishesDifferentCallSites(t *testing.T) {
	d := New()
	captureA := func() recordbuf.SiteID { return d.CaptureSite(0) }
	captureB := func() recordbuf.SiteID { return d.CaptureSite(0) }

	a := captureA()
	b := captureB()
	if a == b {
		t.Fatal("two distinct call sites hashed to the same SiteID")
	}
}

func TestGetSiteRoundTrip(t *testing.T) {
	d := New()
	id := d.CaptureSite(0)
	site := d.GetSite(id)
	if site == nil {
		t.Fatal("GetSite() = nil for a just-captured site")
	}
}

func TestGetSiteUnknownReturnsNil(t *testing.T) {
	d := New()
	if d.GetSite(0) != nil {
		t.Fatal("GetSite(0) != nil, want nil for the sentinel ID")
	}
	if d.GetSite(999999) != nil {
		t.Fatal("GetSite() returned non-nil for an ID that was never captured")
	}
}

func TestFormatListsFrames(t *testing.T) {
	d := New()
	id := d.CaptureSite(0)
	site := d.GetSite(id)
	out := site.Format()
	if !strings.Contains(out, "decoder_test.go") {
		t.Fatalf("Format() = %q, want it to mention the calling file", out)
	}
}

func TestFormatNilSite(t *testing.T) {
	var s *Site
	if got := s.Format(); !strings.Contains(got, "unknown") {
		t.Fatalf("Format() on nil site = %q, want it to mention unknown", got)
	}
}

func TestStatsTracksApproxBytes(t *testing.T) {
	d := New()
	d.CaptureSite(0)
	unique, approxBytes := d.Stats()
	if unique != 1 || approxBytes <= 0 {
		t.Fatalf("Stats() = (%d, %d), want (1, >0)", unique, approxBytes)
	}
}

func TestResetClearsSites(t *testing.T) {
	d := New()
	id := d.CaptureSite(0)
	d.Reset()
	if d.GetSite(id) != nil {
		t.Fatal("GetSite() found a site that Reset() should have cleared")
	}
	if unique, _ := d.Stats(); unique != 0 {
		t.Fatalf("Stats() unique = %d after Reset(), want 0", unique)
	}
}

func TestResetScopedPerDecoderInstance(t *testing.T) {
	a, b := New(), New()
	idA := a.CaptureSite(0)
	idB := b.CaptureSite(0)

	a.Reset()

	if a.GetSite(idA) != nil {
		t.Fatal("a.Reset() left a's own site reachable")
	}
	if b.GetSite(idB) == nil {
		t.Fatal("a.Reset() invalidated b's site — decoders must not share state across instances")
	}
}
