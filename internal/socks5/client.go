package socks5

import (
	"fmt"
	"net"
	"time"
)

// Client speaks the SOCKS5 greeting and CONNECT handshake to a single
// upstream, then exposes the resulting tunnel as a duplex net.Conn. One
// Client owns exactly one TCP connection to the upstream.
type Client struct {
	conn    net.Conn
	dstAddr address
	dstPort uint16
	scratch []byte
}

// Dial opens a TCP connection to upstreamAddr and prepares to request a
// CONNECT tunnel to dst once Greet and then Connect are called.
func Dial(upstreamAddr string, dst *net.TCPAddr) (*Client, error) {
	conn, err := net.DialTimeout("tcp", upstreamAddr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		dstAddr: addressFromIP(dst.IP),
		dstPort: uint16(dst.Port),
		scratch: make([]byte, 4096),
	}, nil
}

// Greet sends the method-selection greeting advertising no-auth and reads
// the server's chosen method. No error is raised for an unexpected method;
// the caller proceeds and the subsequent CONNECT will fail if the method is
// actually unusable.
func (c *Client) Greet() (method byte, err error) {
	if err := writeGreeting(c.conn); err != nil {
		return 0, fmt.Errorf("socks5: greeting: %w", err)
	}
	method, err = readMethodSelection(c.conn)
	if err != nil {
		return 0, fmt.Errorf("socks5: method selection: %w", err)
	}
	return method, nil
}

// Connect sends a CONNECT request for the destination passed to Dial, reads
// the bind reply, and returns a *ReplyError for any non-success reply code.
func (c *Client) Connect() error {
	if err := writeConnectRequest(c.conn, c.dstAddr, c.dstPort); err != nil {
		return fmt.Errorf("socks5: connect request: %w", err)
	}
	reply, err := readConnectReply(c.conn, c.scratch)
	if err != nil {
		return fmt.Errorf("socks5: connect reply: %w", err)
	}
	return replyToError(reply.reply)
}

// SetNonblocking does nothing and always returns nil. Go's net.Conn has no
// OS-level non-blocking flag, so callers get the "return immediately if
// nothing is ready" effect via SetReadDeadline / SetWriteDeadline on each
// poll; the method exists for symmetry with the duplex-stream contract.
func (c *Client) SetNonblocking(bool) error { return nil }

func (c *Client) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *Client) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *Client) Close() error                { return c.conn.Close() }

// Conn returns the underlying tunneled connection for use by the relay and
// TLS layers, which need direct access to SetDeadline.
func (c *Client) Conn() net.Conn { return c.conn }
