package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// fileMetadata is the JSON shape written as request.json alongside the
// raw dumps for a closed flow.
type fileMetadata struct {
	Address  Addresses   `json:"address"`
	Protocol Protocol    `json:"protocol"`
	Meta     interface{} `json:"meta"`
	Error    string      `json:"error,omitempty"`
}

// tcpMeta is the (empty) meta payload for raw Tcp/Tls dumps.
type tcpMeta struct{}

type httpMeta struct {
	Request  httpReqMeta `json:"request"`
	Response httpResMeta `json:"response"`
}

type httpReqMeta struct {
	Method   string     `json:"method"`
	Version  string     `json:"version"`
	Path     string     `json:"path"`
	Headers  [][2]string `json:"headers"`
	BodySize uint64     `json:"body_size"`
	RawSize  uint64     `json:"raw_size"`
}

type httpResMeta struct {
	Reason   string     `json:"reason"`
	Code     int        `json:"code"`
	Version  string     `json:"version"`
	Headers  [][2]string `json:"headers"`
	BodySize uint64     `json:"body_size"`
	RawSize  uint64     `json:"raw_size"`
}

// writeEntry dispatches a closed flow to the right protocol writer and
// ensures its trace directory exists first. Dns and Udp flows are dropped
// entirely (a hook for future work) and never touch the filesystem.
func writeEntry(traceDir string, hash uint64, e *flowEntry) error {
	switch e.protocol {
	case ProtocolDNS, ProtocolUDP:
		return nil
	}

	dir := filepath.Join(traceDir, strconv.FormatUint(hash, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: creating trace dir %s: %w", dir, err)
	}
	switch e.protocol {
	case ProtocolHTTP:
		return writeHTTPEntry(dir, e)
	default:
		return writeRawEntry(dir, e)
	}
}

func writeMetaFile(dir string, meta fileMetadata) error {
	f, err := os.Create(filepath.Join(dir, "request.json"))
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return false
		}
	}
	return true
}
