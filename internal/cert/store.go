package cert

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// Entry is a (certificate, private key) pair: a root or intermediate CA
// entry, per the data model's shared shape for both.
type Entry struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Store indexes CA entries by subject key identifier (primary,
// content-addressed) and by derived common name (fallback). It is safe for
// concurrent read-only use once loaded; callers that mutate a Store
// concurrently (the intermediate store) must guard it with their own mutex,
// per the concurrency model's "held only across insert or lookup" rule.
type Store struct {
	name    string
	byKeyID map[string]*Entry
	byName  map[string]*Entry
}

// NewStore creates an empty store, named for diagnostics (e.g. "root",
// "intermediate").
func NewStore(name string) *Store {
	return &Store{
		name:    name,
		byKeyID: make(map[string]*Entry),
		byName:  make(map[string]*Entry),
	}
}

// LoadDir loads every "<stem>.pem" file in dir that has a sibling
// "<stem>.key" file: the certificate DER is parsed, the key PEM is parsed,
// and the pair is re-self-signed to reconstitute a usable CA certificate
// whose private material is known locally.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pemFiles := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), ".pem")
	})

	store := NewStore("root")
	for _, e := range pemFiles {
		stem := strings.TrimSuffix(e.Name(), ".pem")
		keyPath := filepath.Join(dir, stem+".key")
		if _, err := os.Stat(keyPath); err != nil {
			continue
		}

		certPEM, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("cert: reading %s: %w", e.Name(), err)
		}
		block, _ := pem.Decode(certPEM)
		if block == nil {
			return nil, fmt.Errorf("cert: invalid certificate %s", e.Name())
		}
		srcCert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cert: invalid certificate %s: %w", e.Name(), err)
		}

		keyPEM, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("cert: reading %s: %w", stem+".key", err)
		}
		key, err := parsePrivateKeyPEM(keyPEM)
		if err != nil {
			return nil, fmt.Errorf("cert: invalid key %s: %w", stem+".key", err)
		}

		selfSigned, err := selfSign(caTemplateFrom(srcCert), key)
		if err != nil {
			return nil, fmt.Errorf("cert: re-self-signing %s: %w", e.Name(), err)
		}
		store.Insert(&Entry{Cert: selfSigned, Key: key})
	}
	return store, nil
}

// Insert adds entry to both indexes. A duplicate common name logs a
// warning and overwrites, matching the directory-load contract.
func (s *Store) Insert(entry *Entry) {
	keyID := keyIDOf(entry.Cert)
	if keyID != "" {
		s.byKeyID[keyID] = entry
	}
	name := commonNameOf(entry.Cert.Subject)
	if name == "" {
		return
	}
	if _, exists := s.byName[name]; exists {
		slog.Warn("duplicate CA common name, overwriting", "in", "Store.Insert", "store", s.name, "name", name)
	}
	s.byName[name] = entry
}

// ByKeyID looks up an entry by its raw subject-key-identifier bytes.
func (s *Store) ByKeyID(id []byte) (*Entry, bool) {
	e, ok := s.byKeyID[hex.EncodeToString(id)]
	return e, ok
}

// ByName looks up an entry by common name.
func (s *Store) ByName(name string) (*Entry, bool) {
	e, ok := s.byName[name]
	return e, ok
}

// MatchProbed looks up a local CA entry that corresponds to a certificate
// observed on a probed origin chain. The probed certificate carries no
// locally-assigned key identifier, so its serial number is used as a
// key-identifier surrogate before falling back to common-name matching.
func (s *Store) MatchProbed(candidate *x509.Certificate) (*Entry, bool) {
	if candidate.SerialNumber != nil {
		if e, ok := s.byKeyID[hex.EncodeToString(candidate.SerialNumber.Bytes())]; ok {
			return e, true
		}
	}
	name := commonNameOf(candidate.Subject)
	if name == "" {
		return nil, false
	}
	e, ok := s.byName[name]
	return e, ok
}

func keyIDOf(c *x509.Certificate) string {
	if len(c.SubjectKeyId) == 0 {
		return ""
	}
	return hex.EncodeToString(c.SubjectKeyId)
}
