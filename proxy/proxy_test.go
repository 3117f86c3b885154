package proxy_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/oxiproxy/goxiproxy/proxy"
)

func TestNew_FailsOnMissingRootCADir(t *testing.T) {
	c := qt.New(t)
	_, err := proxy.New(proxy.Config{RootCADir: "/no/such/directory"})
	c.Assert(err, qt.IsNotNil)
}

func TestNew_LoadsEmptyCADirAndStartsOnAnEphemeralPort(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	p, err := proxy.New(proxy.Config{
		Addr:       "127.0.0.1",
		Port:       0,
		RootCADir:  dir,
		Socks5Addr: "127.0.0.1:1",
		Workers:    2,
	})
	c.Assert(err, qt.IsNil)

	c.Assert(p.Start(), qt.IsNil)
	c.Assert(p.Close(), qt.IsNil)
}
