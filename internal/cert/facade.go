package cert

import "crypto/tls"

// TLSStore holds the two prebuilt TLS configurations the MITM driver needs
// plus the shared pinned-host handle.
type TLSStore struct {
	ServerConfig *tls.Config
	ClientConfig *tls.Config
	Pinned       *PinnedSet
	Resolver     *Resolver
}

// NewTLSStore loads root CAs from caDir and builds the server (resolver-
// backed) and client (permissive, non-validating) configurations.
//
// The client configuration's InsecureSkipVerify is deliberate: the proxy is
// a debugging/inspection tool, not a trust anchor, and never validates
// upstream certificates. This is a dangerous surface and is opt-in only
// through this constructor, never a package-level default.
func NewTLSStore(caDir string, pinnedDomains []string) (*TLSStore, error) {
	root, err := LoadDir(caDir)
	if err != nil {
		return nil, err
	}

	pinned := NewPinnedSet(pinnedDomains)

	clientConfig := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // proxy is not a trust anchor, by design
	}

	resolver := NewResolver(root, pinned, clientConfig)

	serverConfig := &tls.Config{
		GetCertificate: resolver.GetCertificate,
	}

	return &TLSStore{
		ServerConfig: serverConfig,
		ClientConfig: clientConfig,
		Pinned:       pinned,
		Resolver:     resolver,
	}, nil
}

// IsDisabled reports whether addr is pinned for passthrough.
func (s *TLSStore) IsDisabled(addr string) bool {
	return s.Pinned.Contains(addr)
}

// DisableAddr pins addr, so subsequent connections to it bypass MITM.
func (s *TLSStore) DisableAddr(addr string) {
	s.Pinned.Add(addr)
}
