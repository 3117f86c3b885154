package relay_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/oxiproxy/goxiproxy/internal/relay"
)

// TestRun_RelaysBytesBothDirections is testable property 4: bytes
// written on one leg arrive unmodified on the other, and the same
// bytes are mirrored into the matching capture sink.
func TestRun_RelaysBytesBothDirections(t *testing.T) {
	clientNear, clientFar := net.Pipe()
	serverNear, serverFar := net.Pipe()

	var reqSink, resSink bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(clientFar, serverFar, &reqSink, &resSink)
	}()

	go func() {
		clientNear.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	}()
	buf := make([]byte, 64)
	n, err := serverNear.Read(buf)
	if err != nil {
		t.Fatalf("server did not receive relayed request: %v", err)
	}
	if string(buf[:n]) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("relayed request = %q", buf[:n])
	}

	go func() {
		serverNear.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()
	n, err = clientNear.Read(buf)
	if err != nil {
		t.Fatalf("client did not receive relayed response: %v", err)
	}
	if string(buf[:n]) != "HTTP/1.1 200 OK\r\n\r\n" {
		t.Fatalf("relayed response = %q", buf[:n])
	}

	clientNear.Close()
	serverNear.Close()
	<-done

	if reqSink.String() != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("captured request = %q", reqSink.String())
	}
	if resSink.String() != "HTTP/1.1 200 OK\r\n\r\n" {
		t.Fatalf("captured response = %q", resSink.String())
	}
}

func TestRun_ClientCloseSurfacesAsEOF(t *testing.T) {
	clientNear, clientFar := net.Pipe()
	serverNear, serverFar := net.Pipe()
	defer serverNear.Close()
	defer serverFar.Close()

	done := make(chan error, 1)
	go func() {
		done <- relay.Run(clientFar, serverFar, io.Discard, io.Discard)
	}()

	clientNear.Close()

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relay.Run did not return after client close")
	}
}
