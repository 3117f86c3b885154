package cert

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
)

// EndCertEntry is a forged leaf certificate plus its private key and the
// intermediate chain that accompanies it, suitable for presentation in a
// TLS Certificate message. It is populated lazily and lives for the process
// lifetime.
type EndCertEntry struct {
	Leaf  *x509.Certificate
	Key   crypto.Signer
	Chain [][]byte // DER, leaf first, root excluded
}

// TLSCertificate converts the entry into the form crypto/tls expects from
// GetCertificate.
func (e *EndCertEntry) TLSCertificate() *tls.Certificate {
	return &tls.Certificate{
		Certificate: e.Chain,
		PrivateKey:  e.Key,
		Leaf:        e.Leaf,
	}
}

func (e *EndCertEntry) hash() [32]byte {
	return sha256.Sum256(e.Leaf.Raw)
}

// EndCertStore caches forged leaves, indexed by SNI and by leaf DER hash.
type EndCertStore struct {
	byName map[string]*EndCertEntry
	byHash map[[32]byte]*EndCertEntry
}

// NewEndCertStore creates an empty store.
func NewEndCertStore() *EndCertStore {
	return &EndCertStore{
		byName: make(map[string]*EndCertEntry),
		byHash: make(map[[32]byte]*EndCertEntry),
	}
}

// ByName returns the cached entry for sni, if any.
func (s *EndCertStore) ByName(sni string) (*EndCertEntry, bool) {
	e, ok := s.byName[sni]
	return e, ok
}

// Insert registers entry under sni and its own DER hash.
func (s *EndCertStore) Insert(sni string, entry *EndCertEntry) {
	s.byName[sni] = entry
	s.byHash[entry.hash()] = entry
}
