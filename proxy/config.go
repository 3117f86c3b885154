package proxy

import "github.com/oxiproxy/goxiproxy/internal/capture"

// Config holds everything needed to bring up a Proxy: where it listens,
// where it forges certificates from, which hosts bypass interception up
// front, where egress traffic is tunneled, and where captured flows land.
type Config struct {
	Addr          string   // listen address, e.g. "0.0.0.0"
	Port          int      // listen port
	RootCADir     string   // directory of <stem>.pem/<stem>.key root CA pairs
	PinnedDomains []string // operator-declared hosts that never see MITM
	Socks5Addr    string   // upstream SOCKS5 egress, "host:port"
	TraceFolder   string   // capture output directory; empty disables disk writes
	Workers       int      // fixed worker pool size

	// CaptureFilter narrows which flows' bytes are written to disk.
	// A nil filter captures everything passing the defaults above.
	CaptureFilter *capture.Filter
}

// DefaultWorkers matches the reference CLI's -w/--workers default.
const DefaultWorkers = 128

func (c Config) workers() int {
	if c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}
