package mitm

import (
	"errors"
	"io"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/oxiproxy/goxiproxy/internal/relay"
)

func TestIsUnknownCA(t *testing.T) {
	c := qt.New(t)

	c.Assert(isUnknownCA(errors.New("remote error: tls: unknown certificate authority")), qt.IsTrue)
	c.Assert(isUnknownCA(errors.New("tls: UNKNOWN CERTIFICATE AUTHORITY")), qt.IsTrue)
	c.Assert(isUnknownCA(errors.New("tls: handshake failure")), qt.IsFalse)
}

func TestIsBenignClose(t *testing.T) {
	c := qt.New(t)

	c.Assert(isBenignClose(io.EOF), qt.IsTrue)
	c.Assert(isBenignClose(relay.ErrIdleTimeout), qt.IsTrue)
	c.Assert(isBenignClose(errors.New("boom")), qt.IsFalse)
}
