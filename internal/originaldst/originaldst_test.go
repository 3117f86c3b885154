package originaldst_test

import (
	"net"
	"testing"

	"github.com/oxiproxy/goxiproxy/internal/originaldst"
)

// Without an actual netfilter REDIRECT rule in front of the listener there
// is no original destination to recover; this only asserts the call
// surfaces an error rather than panicking, on any platform.
func TestOf_NoRedirectRuleSurfacesError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()
	<-clientDone

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		t.Fatalf("conn is %T, want *net.TCPConn", conn)
	}

	if _, err := originaldst.Of(tcpConn); err == nil {
		t.Fatal("expected an error recovering original destination of a non-redirected socket")
	}
}
