package cert

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/match"
)

// PinnedSet is the process-wide set of hosts for which interception must be
// bypassed: operator-declared pins plus hosts the resolver disabled after a
// forging or handshake failure. Entries may be exact hostnames/IP literals
// or glob patterns (e.g. "*.examplebank.com"); Contains matches either way.
type PinnedSet struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

// NewPinnedSet creates a set pre-populated with the operator's initial
// pinned-domain list.
func NewPinnedSet(initial []string) *PinnedSet {
	p := &PinnedSet{entries: make(map[string]struct{}, len(initial))}
	for _, h := range initial {
		p.entries[strings.ToLower(h)] = struct{}{}
	}
	return p
}

// Add pins host, so future connections to it bypass TLS termination.
func (p *PinnedSet) Add(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.recoverFromPanic()
	p.entries[strings.ToLower(host)] = struct{}{}
}

// Contains reports whether host is pinned, either by exact match or by a
// glob pattern already in the set.
func (p *PinnedSet) Contains(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.recoverFromPanic()

	host = strings.ToLower(host)
	if _, ok := p.entries[host]; ok {
		return true
	}
	for pattern := range p.entries {
		if match.Match(host, pattern) {
			return true
		}
	}
	return false
}

// recoverFromPanic resets the set to empty if a mutation panics mid-way,
// rather than leaving it in a partially-mutated state. Mirrors the
// mutex-poisoning recovery the set is required to have.
func (p *PinnedSet) recoverFromPanic() {
	if r := recover(); r != nil {
		slog.Warn("pinned set panicked, resetting to empty", "in", "PinnedSet", "panic", r)
		p.entries = make(map[string]struct{})
	}
}
