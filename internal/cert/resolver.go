package cert

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"
)

// Resolver implements crypto/tls's certificate-resolution hook: on an SNI
// miss it probes the real origin, forges a parallel chain rooted at a
// matching local CA, and registers the forged leaf for reuse.
type Resolver struct {
	endMu    sync.Mutex
	end      *EndCertStore
	root     *Store // immutable after load, read-only
	interMu  sync.Mutex
	inter    *Store
	pinned   *PinnedSet
	probeTLS *tls.Config
	group    singleflight.Group
}

// NewResolver builds a resolver over root (read-only after load) and
// pinned (shared with the TLS store facade). probeTLS is the permissive
// client configuration used to connect to real origins.
func NewResolver(root *Store, pinned *PinnedSet, probeTLS *tls.Config) *Resolver {
	return &Resolver{
		end:      NewEndCertStore(),
		root:     root,
		inter:    NewStore("intermediate"),
		pinned:   pinned,
		probeTLS: probeTLS,
	}
}

// GetCertificate is installed as tls.Config.GetCertificate on the server
// side. On a cache hit it returns immediately; on a miss it dedupes
// concurrent probes for the same SNI via singleflight before forging.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	if name == "" {
		return nil, fmt.Errorf("cert: client did not present SNI")
	}

	r.endMu.Lock()
	entry, ok := r.end.ByName(name)
	r.endMu.Unlock()
	if ok {
		return entry.TLSCertificate(), nil
	}

	v, err := r.group.Do(name, func() (interface{}, error) {
		return r.forge(name)
	})
	if err != nil {
		r.pinned.Add(name)
		return nil, err
	}
	return v.(*EndCertEntry).TLSCertificate(), nil
}

// forge probes the origin for name, then forges a chain from the result.
func (r *Resolver) forge(name string) (*EndCertEntry, error) {
	chain, err := r.probe(name)
	if err != nil {
		return nil, fmt.Errorf("cert: probing %s: %w", name, err)
	}
	return r.forgeFromChain(name, chain)
}

// forgeFromChain anchors a probed chain (leaf first, root last) at a
// matching local root, mirrors or synthesizes intermediates, forges a leaf,
// and registers the result. Split out from forge so the forging algorithm
// can be exercised without a live probe connection.
func (r *Resolver) forgeFromChain(name string, chain []*x509.Certificate) (*EndCertEntry, error) {
	if len(chain) < 2 {
		return nil, fmt.Errorf("cert: probed chain for %s has fewer than two certificates", name)
	}

	rootIdx := -1
	var rootEntry *Entry
	for i := len(chain) - 1; i >= 0; i-- {
		if e, ok := r.root.MatchProbed(chain[i]); ok {
			rootIdx, rootEntry = i, e
			break
		}
	}
	if rootIdx < 0 {
		return nil, fmt.Errorf("cert: no local root CA matches probed chain for %s", name)
	}

	signerCert, signerKey := rootEntry.Cert, rootEntry.Key

	// Mirror (or synthesize) each probed intermediate between the matched
	// root and the leaf, signing root-adjacent first and working toward
	// the leaf, exactly as the chain must be signed.
	var mirroredRootToLeaf []*Entry
	r.interMu.Lock()
	for i := rootIdx - 1; i >= 1; i-- {
		entry, ok := r.inter.MatchProbed(chain[i])
		if !ok {
			mirroredCert, mirroredKey, mErr := mirrorIntermediate(chain[i], signerCert, signerKey)
			if mErr != nil {
				r.interMu.Unlock()
				return nil, fmt.Errorf("cert: mirroring intermediate for %s: %w", name, mErr)
			}
			entry = &Entry{Cert: mirroredCert, Key: mirroredKey}
			r.inter.Insert(entry)
		}
		mirroredRootToLeaf = append(mirroredRootToLeaf, entry)
		signerCert, signerKey = entry.Cert, entry.Key
	}
	r.interMu.Unlock()

	leafCert, leafKey, err := forgeLeaf(chain[0], name, signerCert, signerKey)
	if err != nil {
		return nil, fmt.Errorf("cert: forging leaf for %s: %w", name, err)
	}

	chainDER := make([][]byte, 0, 1+len(mirroredRootToLeaf))
	chainDER = append(chainDER, leafCert.Raw)
	for i := len(mirroredRootToLeaf) - 1; i >= 0; i-- {
		chainDER = append(chainDER, mirroredRootToLeaf[i].Cert.Raw)
	}

	entry := &EndCertEntry{Leaf: leafCert, Key: leafKey, Chain: chainDER}
	r.endMu.Lock()
	r.end.Insert(name, entry)
	r.endMu.Unlock()
	return entry, nil
}

// probe opens a client-role TLS handshake to (name, 443) and returns the
// peer's certificate chain in presentation order (leaf, intermediates,
// root).
func (r *Resolver) probe(name string) ([]*x509.Certificate, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(name, "443"), r.probeTLS)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	chain := conn.ConnectionState().PeerCertificates
	slog.Debug("probed origin certificate chain", "in", "Resolver.probe", "host", name, "certs", len(chain))
	return chain, nil
}
