package cert_test

import (
	"testing"

	"github.com/oxiproxy/goxiproxy/internal/cert"
)

func TestPinnedSet_ExactAndGlob(t *testing.T) {
	p := cert.NewPinnedSet([]string{"pinned.example.com", "*.examplebank.com"})

	if !p.Contains("pinned.example.com") {
		t.Fatal("expected exact-match pin to be contained")
	}
	if !p.Contains("secure.examplebank.com") {
		t.Fatal("expected glob pin to match a subdomain")
	}
	if p.Contains("other.example.com") {
		t.Fatal("did not expect an unrelated host to be pinned")
	}

	p.Add("newly-disabled.example.org")
	if !p.Contains("newly-disabled.example.org") {
		t.Fatal("expected a newly added host to be pinned")
	}
	// case-insensitive, matching DNS name normalization.
	if !p.Contains("NEWLY-DISABLED.example.org") {
		t.Fatal("expected pin matching to be case-insensitive")
	}
}
