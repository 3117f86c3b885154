// Package relay implements the steady-state full-duplex copy loop used
// once both legs of a proxied connection are established: a
// single-threaded, non-blocking, cooperative multiplexer with an
// adaptive idle backoff.
package relay

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

// pollTimeout bounds each non-blocking read/write attempt; a deadline
// expiring is this package's equivalent of a WouldBlock result, since
// net.Conn has no OS-level non-blocking mode to toggle.
const pollTimeout = 2 * time.Millisecond

// maxIdleIterations is the idle_counter ceiling past which a quiet
// connection is closed outright.
const maxIdleIterations = 32

const bufferSize = 32 * 1024

// ErrIdleTimeout is returned by Run when neither side produced traffic
// for more than maxIdleIterations consecutive iterations.
var ErrIdleTimeout = errors.New("relay: connection idle, closing")

// Run copies bytes between client and server until one side closes or
// the pair goes idle too long. requestSink receives a copy of every
// byte read from client (the request direction); responseSink receives
// a copy of every byte read from server (the response direction).
// Writers that capture nothing (a filtered-out flow) should be no-ops.
//
// A clean close on either side surfaces as io.EOF; callers treat that
// as ordinary connection teardown rather than a failure.
func Run(client, server net.Conn, requestSink, responseSink io.Writer) error {
	clientBuf := make([]byte, bufferSize) // client -> server, captured as the request
	serverBuf := make([]byte, bufferSize) // server -> client, captured as the response
	var clientReadCount, clientWriteCursor int
	var serverReadCount, serverWriteCursor int

	idle := 0
	sched := &backoff.Backoff{Min: 10 * time.Millisecond}

	for {
		if err := step(client, server, clientBuf, &clientReadCount, &clientWriteCursor, requestSink); err != nil {
			return err
		}
		if err := step(server, client, serverBuf, &serverReadCount, &serverWriteCursor, responseSink); err != nil {
			return err
		}

		if clientReadCount == 0 && serverReadCount == 0 {
			idle++
		} else {
			idle = 0
		}

		if idle > maxIdleIterations {
			return ErrIdleTimeout
		}
		if idle > 0 {
			time.Sleep(sched.Min * time.Duration(idle))
		}
	}
}

// step runs one half-duplex stage for a single direction. With no
// bytes pending it attempts a non-blocking read from src and tees any
// bytes into sink; otherwise it attempts a non-blocking write of the
// pending slice to dst, advancing the cursor and resetting both
// counters once the slice has fully drained.
func step(src, dst net.Conn, buf []byte, readCount, writeCursor *int, sink io.Writer) error {
	if *readCount == 0 {
		n, wouldBlock, err := nonBlockingRead(src, buf)
		if err != nil {
			return err
		}
		if wouldBlock {
			return nil
		}
		if n == 0 {
			return io.EOF
		}
		if _, err := sink.Write(buf[:n]); err != nil {
			return err
		}
		*readCount = n
		return nil
	}

	if *writeCursor < *readCount {
		n, err := nonBlockingWrite(dst, buf[*writeCursor:*readCount])
		if err != nil {
			return err
		}
		*writeCursor += n
	}
	if *writeCursor >= *readCount {
		*readCount, *writeCursor = 0, 0
	}
	return nil
}

func nonBlockingRead(conn net.Conn, buf []byte) (n int, wouldBlock bool, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, false, err
	}
	n, err = conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, true, nil
		}
		if errors.Is(err, io.EOF) {
			return n, false, io.EOF
		}
		return n, false, err
	}
	return n, false, nil
}

func nonBlockingWrite(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, err
	}
	n, err := conn.Write(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}
