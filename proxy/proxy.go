// Package proxy assembles the transparent TLS-intercepting proxy from its
// component parts: original-destination recovery, a SOCKS5 egress client,
// on-demand certificate forging, a capture pipeline, and a bounded worker
// pool, wiring them the way §4.9/§5 describe.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oxiproxy/goxiproxy/internal/capture"
	"github.com/oxiproxy/goxiproxy/internal/cert"
	"github.com/oxiproxy/goxiproxy/internal/mitm"
	"github.com/oxiproxy/goxiproxy/internal/workerpool"
)

// workQueueCapacity matches §4.9's fixed channel capacity.
const workQueueCapacity = 1024

// reviveInterval is how often the pool is scanned for dead workers;
// not part of the spec's steady-state timing, just bookkeeping cadence.
const reviveInterval = 5 * time.Second

// Proxy owns the listening socket, the worker pool, and the two shared
// subsystems (TLS store, capture store) every worker's Driver reaches
// into.
type Proxy struct {
	cfg      Config
	tls      *cert.TLSStore
	capture  *capture.Store
	listener *net.TCPListener
	workCh   chan *net.TCPConn
	pool     *workerpool.Pool[*net.TCPConn]

	closeOnce  sync.Once
	stopRevive chan struct{}
}

// New loads the root CA directory and builds the capture store, but does
// not yet bind a socket; call Start for that.
func New(cfg Config) (*Proxy, error) {
	tlsStore, err := cert.NewTLSStore(cfg.RootCADir, cfg.PinnedDomains)
	if err != nil {
		return nil, fmt.Errorf("proxy: loading root CA directory: %w", err)
	}

	captureStore := capture.NewStore(cfg.TraceFolder, cfg.CaptureFilter)

	return &Proxy{
		cfg:        cfg,
		tls:        tlsStore,
		capture:    captureStore,
		workCh:     make(chan *net.TCPConn, workQueueCapacity),
		stopRevive: make(chan struct{}),
	}, nil
}

// Start binds the listening socket, launches the capture consumer, the
// worker pool, the accept loop, and the revive loop. It returns once the
// socket is bound; the accept loop continues in the background.
func (p *Proxy) Start() error {
	addr := net.JoinHostPort(p.cfg.Addr, fmt.Sprintf("%d", p.cfg.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: resolving listen address %s: %w", addr, err)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("proxy: binding %s: %w", addr, err)
	}
	p.listener = listener

	go p.capture.Run()

	socks5Addr, tlsStore, captureStore := p.cfg.Socks5Addr, p.tls, p.capture
	p.pool = workerpool.New(p.cfg.workers(), p.workCh, func() workerpool.Runner[*net.TCPConn] {
		return mitm.New(socks5Addr, tlsStore, captureStore)
	})
	p.pool.Start()

	go p.reviveLoop()
	go p.acceptLoop()

	slog.Info("proxy listening", "in", "Proxy.Start", "addr", addr, "workers", p.cfg.workers())
	return nil
}

// acceptLoop feeds accepted sockets into the bounded work queue,
// blocking on a full queue as backpressure to the OS accept backlog.
func (p *Proxy) acceptLoop() {
	for {
		conn, err := p.listener.AcceptTCP()
		if err != nil {
			if isClosedListener(err) {
				return
			}
			slog.Error("accept failed", "in", "Proxy.acceptLoop", "err", err)
			continue
		}
		p.workCh <- conn
	}
}

// reviveLoop periodically respawns any worker goroutine that exited
// (channel closed underneath it, which only happens at shutdown, or a
// panic in its Driver).
func (p *Proxy) reviveLoop() {
	ticker := time.NewTicker(reviveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pool.Revive()
		case <-p.stopRevive:
			return
		}
	}
}

// Close stops accepting new connections and shuts down the worker pool
// and capture consumer. In-flight connections are allowed to finish.
func (p *Proxy) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		close(p.stopRevive)
		if p.listener != nil {
			closeErr = p.listener.Close()
		}
		close(p.workCh)
		p.capture.Shutdown()
	})
	return closeErr
}

func isClosedListener(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
