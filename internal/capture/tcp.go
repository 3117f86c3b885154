package capture

import (
	"os"
	"path/filepath"
)

// writeRawEntry handles both ProtocolTCP and ProtocolTLS: a plain byte
// dump of each direction with an empty protocol meta. TLS-tagged flows
// are pinned connections relayed without interception, so their dumps
// hold the TLS ciphertext as it crossed the wire; intercepted
// connections are tagged Http and go through writeHTTPEntry instead.
func writeRawEntry(dir string, e *flowEntry) error {
	meta := fileMetadata{
		Address:  e.address,
		Protocol: e.protocol,
		Meta:     tcpMeta{},
	}
	if err := writeMetaFile(dir, meta); err != nil {
		return err
	}
	if e.protocol != ProtocolTCP && e.protocol != ProtocolTLS {
		return nil
	}
	if !isBlank(e.request) {
		if err := os.WriteFile(filepath.Join(dir, "request.scap"), e.request, 0o644); err != nil {
			return err
		}
	}
	if !isBlank(e.response) {
		if err := os.WriteFile(filepath.Join(dir, "response.scap"), e.response, 0o644); err != nil {
			return err
		}
	}
	return nil
}
