// Package mitm implements the per-connection state machine described in
// §4.6/§4.7: recover the original destination, dial the upstream through
// SOCKS5, dispatch by destination port, and either relay opaquely or drive
// the dual TLS handshake before relaying decrypted bytes.
package mitm

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/oxiproxy/goxiproxy/internal/capture"
	"github.com/oxiproxy/goxiproxy/internal/cert"
	"github.com/oxiproxy/goxiproxy/internal/originaldst"
	"github.com/oxiproxy/goxiproxy/internal/relay"
	"github.com/oxiproxy/goxiproxy/internal/socks5"
)

// Driver is the reusable per-worker connection manager: one Driver is
// constructed per workerpool goroutine and handles every accepted socket
// that goroutine is handed, one at a time.
type Driver struct {
	socks5Addr string
	tls        *cert.TLSStore
	capture    *capture.Store
}

// New builds a Driver that tunnels egress through socks5Addr, resolves
// certificates and pinning decisions through tlsStore, and reports
// captured bytes to captureStore.
func New(socks5Addr string, tlsStore *cert.TLSStore, captureStore *capture.Store) *Driver {
	return &Driver{socks5Addr: socks5Addr, tls: tlsStore, capture: captureStore}
}

// Run implements workerpool.Runner[*net.TCPConn]: handle one accepted
// client socket to completion, closing it before returning. Each
// connection gets its own trace id so its log lines can be correlated
// across the dial, handshake, and relay stages without depending on
// RemoteAddr(), which the SOCKS5-tunneled leg doesn't share with the
// client leg.
func (d *Driver) Run(client *net.TCPConn) {
	defer client.Close()
	traceID := uuid.NewV4().String()
	if err := d.handle(client, traceID); err != nil && !isBenignClose(err) {
		slog.Debug("connection ended with error", "in", "Driver.Run", "trace", traceID, "err", err)
	}
}

// isBenignClose reports whether err is the ordinary teardown of a
// connection rather than a genuine failure: a clean EOF or the relay's
// own idle-timeout termination.
func isBenignClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, relay.ErrIdleTimeout)
}

func (d *Driver) handle(client *net.TCPConn, traceID string) error {
	dst, err := originaldst.Of(client)
	if err != nil {
		return fmt.Errorf("mitm: recovering original destination: %w", err)
	}

	upstream, err := socks5.Dial(d.socks5Addr, dst)
	if err != nil {
		return fmt.Errorf("mitm: dialing socks5 upstream: %w", err)
	}
	defer upstream.Close()
	if _, err := upstream.Greet(); err != nil {
		return fmt.Errorf("mitm: socks5 greeting: %w", err)
	}
	if err := upstream.Connect(); err != nil {
		return fmt.Errorf("mitm: socks5 connect: %w", err)
	}

	remote := capture.Addresses{Remote: dst.IP, RemotePort: uint16(dst.Port)}
	source := capture.Addresses{}
	if peer, ok := client.RemoteAddr().(*net.TCPAddr); ok {
		source = capture.Addresses{Source: peer.IP, SourcePort: uint16(peer.Port)}
	}
	dstIP := dst.IP.String()
	slog.Debug("dispatching connection", "in", "Driver.handle", "trace", traceID, "dst", dst.String())

	switch {
	case dst.Port == 443 && !d.tls.IsDisabled(dstIP):
		return d.mitm(client, upstream, dst, remote, source, traceID)
	case dst.Port == 443:
		return d.relayOn(client, upstream.Conn(), capture.ProtocolTLS, remote, source)
	case dst.Port == 80:
		return d.relayOn(client, upstream.Conn(), capture.ProtocolHTTP, remote, source)
	default:
		return d.relayOn(client, upstream.Conn(), capture.ProtocolTCP, remote, source)
	}
}

// relayOn opens a capture flow for proto and runs the steady-state
// full-duplex copy between client and server, always closing the flow
// before returning.
func (d *Driver) relayOn(client, server net.Conn, proto capture.Protocol, remote, source capture.Addresses) error {
	sender := d.capture.Open(proto, remote, source)
	defer sender.Close()
	return relay.Run(client, server, sender.RequestWriter(), sender.ResponseWriter())
}

// mitm drives the dual handshake: a server-role session toward the
// client, SNI capture, then a client-role session toward the origin over
// the SOCKS5 tunnel, before relaying decrypted bytes tagged as Http.
func (d *Driver) mitm(client *net.TCPConn, upstream *socks5.Client, dst *net.TCPAddr, remote, source capture.Addresses, traceID string) error {
	dstIP := dst.IP.String()

	var sni string
	serverCfg := d.tls.ServerConfig.Clone()
	serverCfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		sni = hello.ServerName
		return d.tls.Resolver.GetCertificate(hello)
	}

	serverConn := tls.Server(client, serverCfg)
	if err := serverConn.Handshake(); err != nil {
		if sni == "" {
			return fmt.Errorf("mitm: server handshake failed before SNI was observed: %w", err)
		}
		if isUnknownCA(err) {
			d.tls.DisableAddr(sni)
			d.tls.DisableAddr(dstIP)
		}
		return fmt.Errorf("mitm: server handshake: %w", err)
	}

	name, err := normalizeServerName(serverConn.ConnectionState().ServerName)
	if err != nil {
		return fmt.Errorf("mitm: %w", err)
	}
	slog.Debug("terminating TLS for forged identity", "in", "Driver.mitm", "trace", traceID, "sni", name)

	clientCfg := d.tls.ClientConfig.Clone()
	clientCfg.ServerName = name
	originConn := tls.Client(upstream.Conn(), clientCfg)
	if err := originConn.Handshake(); err != nil {
		if isUnknownCA(err) {
			d.tls.DisableAddr(dstIP)
			d.tls.DisableAddr(name)
		}
		return fmt.Errorf("mitm: client handshake: %w", err)
	}

	return d.relayOn(serverConn, originConn, capture.ProtocolHTTP, remote, source)
}

// isUnknownCA reports whether err is the client rejecting our forged
// chain because it doesn't trust the local root. Go's crypto/tls surfaces
// the peer's unknown_ca alert as "remote error: tls: unknown certificate
// authority" rather than the named-enum text ("UnknownCA") the reference
// implementation's TLS library produces for the same alert, so the match
// is retargeted to Go's own alert wording.
func isUnknownCA(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unknown certificate authority")
}
