package capture

import (
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

// flowEntry accumulates one flow's request/response bytes until Close
// is observed, at which point the consumer hands it to a protocol
// writer and returns the buffers to the pool.
type flowEntry struct {
	address  Addresses
	protocol Protocol
	request  []byte
	response []byte
}

func (e *flowEntry) reset(address Addresses, protocol Protocol) {
	e.address = address
	e.protocol = protocol
	e.request = e.request[:0]
	e.response = e.response[:0]
}

// Store owns the single consumer goroutine that serializes all flow
// bookkeeping; every Sender feeds it over one shared channel so no
// lock is needed on the flow map itself.
type Store struct {
	events    chan event
	filter    *Filter
	traceDir  string
	done      chan struct{}
	bufPoolMu sync.Mutex
	bufPool   []*flowEntry
	active    atomic.Int64
}

// ActiveFlows returns the number of flows currently open in the
// consumer's map, for diagnostics.
func (s *Store) ActiveFlows() int64 {
	return s.active.Load()
}

// NewStore builds a Store that writes traces under traceDir. An empty
// traceDir disables disk writes entirely (Connect/Close bookkeeping
// still runs, matching the no-op behavior when tracing is off).
func NewStore(traceDir string, filter *Filter) *Store {
	return &Store{
		events:   make(chan event, 1024),
		filter:   filter,
		traceDir: traceDir,
		done:     make(chan struct{}),
	}
}

// Run drains the event channel until it is closed. Call it in its own
// goroutine; Close the Store's Sender-producing side via Shutdown.
func (s *Store) Run() {
	defer close(s.done)
	flows := make(map[uint64]*flowEntry)
	for ev := range s.events {
		hash := ev.address.Hash()
		switch ev.kind {
		case eventConnect:
			e := s.acquireEntry()
			e.reset(ev.address, ev.proto)
			flows[hash] = e
			s.active.Inc()
		case eventRequestData:
			if e, ok := flows[hash]; ok {
				e.request = append(e.request, ev.data...)
			}
		case eventResponseData:
			if e, ok := flows[hash]; ok {
				e.response = append(e.response, ev.data...)
			}
		case eventClose:
			e, ok := flows[hash]
			if !ok {
				continue
			}
			delete(flows, hash)
			s.active.Dec()
			if s.traceDir != "" && s.filter.AllowsProtocol(e.protocol) && s.filter.Matches(e.address) {
				if err := writeEntry(s.traceDir, hash, e); err != nil {
					slog.Error("writing trace", "in", "Store.Run", "hash", hash, "err", err)
				}
			}
			s.releaseEntry(e)
		}
	}
}

// Shutdown closes the event channel and waits for Run to drain it.
func (s *Store) Shutdown() {
	close(s.events)
	<-s.done
}

func (s *Store) acquireEntry() *flowEntry {
	s.bufPoolMu.Lock()
	defer s.bufPoolMu.Unlock()
	n := len(s.bufPool)
	if n == 0 {
		return &flowEntry{
			request:  make([]byte, 0, 32*1024),
			response: make([]byte, 0, 32*1024),
		}
	}
	e := s.bufPool[n-1]
	s.bufPool = s.bufPool[:n-1]
	return e
}

func (s *Store) releaseEntry(e *flowEntry) {
	s.bufPoolMu.Lock()
	defer s.bufPoolMu.Unlock()
	s.bufPool = append(s.bufPool, e)
}

// Sender is a per-flow handle obtained from Store.Open. Its
// RequestWriter/ResponseWriter capture bytes flowing in each
// direction; Close must be called exactly once when the flow ends.
type Sender struct {
	store   *Store
	address Addresses
	capture bool
}

// Open registers a new flow and returns its Sender. protocol and the
// allow-list gate whether Open even checks the byte filter: a
// disallowed protocol behaves as if capture were off.
func (s *Store) Open(protocol Protocol, remote, source Addresses) *Sender {
	addr := Addresses{Remote: remote.Remote, RemotePort: remote.RemotePort, Source: source.Source, SourcePort: source.SourcePort}
	select {
	case s.events <- event{kind: eventConnect, address: addr, proto: protocol}:
	default:
		slog.Warn("capture event queue full, dropping connect", "in", "Store.Open")
	}
	capture := s.filter.AllowsProtocol(protocol) && s.filter.Matches(addr)
	return &Sender{store: s, address: addr, capture: capture}
}

// RequestWriter returns an io.Writer-shaped capture sink for bytes
// read from the client. Writes never block the relay loop: a full
// queue silently drops the event, matching a best-effort trace.
func (s *Sender) RequestWriter() *directionWriter {
	return &directionWriter{sender: s, kind: eventRequestData}
}

// ResponseWriter returns the capture sink for bytes read from the
// origin.
func (s *Sender) ResponseWriter() *directionWriter {
	return &directionWriter{sender: s, kind: eventResponseData}
}

// Close signals the end of the flow so the consumer can flush it to
// disk and recycle its buffers. Always sent, even when capture is
// disabled for this flow, so the consumer's flow map never leaks an
// entry for a filtered-out connection.
func (s *Sender) Close() {
	select {
	case s.store.events <- event{kind: eventClose, address: s.address}:
	default:
		slog.Warn("capture event queue full, dropping close", "in", "Sender.Close")
	}
}

// directionWriter implements io.Writer, forwarding a copy of every
// write to the Store's consumer goroutine when capture is enabled.
type directionWriter struct {
	sender *Sender
	kind   eventKind
}

func (w *directionWriter) Write(p []byte) (int, error) {
	if !w.sender.capture || len(p) == 0 {
		return len(p), nil
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case w.sender.store.events <- event{kind: w.kind, address: w.sender.address, data: cp}:
	default:
		slog.Warn("capture event queue full, dropping data", "in", "directionWriter.Write")
	}
	return len(p), nil
}
