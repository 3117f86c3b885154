package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func selfSignedTestCert(t *testing.T, cn string, serial int64, isCA bool) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		tmpl.SubjectKeyId = big.NewInt(serial).Bytes()
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

// TestResolver_ForgeFromChain_DepthTwo exercises scenario S4: a probed
// chain of depth two (leaf, root) where the root matches a locally loaded
// CA produces a forged leaf whose chain terminates at that local root.
func TestResolver_ForgeFromChain_DepthTwo(t *testing.T) {
	c := qt.New(t)

	probedRoot, _ := selfSignedTestCert(t, "Probed Root", 0xBEEF, true)
	probedLeaf, _ := selfSignedTestCert(t, "origin.example.com", 1, false)

	localRootCert, localRootKey := selfSignedTestCert(t, "Local Root", 0xBEEF, true)
	root := NewStore("root")
	root.Insert(&Entry{Cert: localRootCert, Key: localRootKey})

	r := NewResolver(root, NewPinnedSet(nil), nil)

	entry, err := r.forgeFromChain("origin.example.com", []*x509.Certificate{probedLeaf, probedRoot})
	c.Assert(err, qt.IsNil)
	c.Assert(entry.Leaf.Subject.CommonName, qt.Equals, "origin.example.com")
	c.Assert(len(entry.Chain), qt.Equals, 1) // leaf only, no intermediates

	reparsedLeaf, err := x509.ParseCertificate(entry.Chain[0])
	c.Assert(err, qt.IsNil)

	pool := x509.NewCertPool()
	pool.AddCert(localRootCert)
	_, err = reparsedLeaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	c.Assert(err, qt.IsNil)

	// Second lookup for the same name must reuse the cached entry.
	r.endMu.Lock()
	cached, ok := r.end.ByName("origin.example.com")
	r.endMu.Unlock()
	c.Assert(ok, qt.IsTrue)
	c.Assert(cached, qt.Equals, entry)
}

// TestResolver_ForgeFromChain_PreservesFullSubject guards against forgeLeaf
// collapsing the probed leaf's Subject down to a synthesized CN-only name:
// spec.md's "take the probed leaf's CertificateParams as the starting
// template" requires O/OU and the rest of the subject to survive forging,
// not just CommonName.
func TestResolver_ForgeFromChain_PreservesFullSubject(t *testing.T) {
	c := qt.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	c.Assert(err, qt.IsNil)
	probedLeafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:         "origin.example.com",
			Organization:       []string{"Example Org"},
			OrganizationalUnit: []string{"Widgets Division"},
			Country:            []string{"US"},
		},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, probedLeafTmpl, probedLeafTmpl, &key.PublicKey, key)
	c.Assert(err, qt.IsNil)
	probedLeaf, err := x509.ParseCertificate(der)
	c.Assert(err, qt.IsNil)

	probedRoot, _ := selfSignedTestCert(t, "Probed Root", 0xBEEF, true)
	localRootCert, localRootKey := selfSignedTestCert(t, "Local Root", 0xBEEF, true)
	root := NewStore("root")
	root.Insert(&Entry{Cert: localRootCert, Key: localRootKey})

	r := NewResolver(root, NewPinnedSet(nil), nil)
	entry, err := r.forgeFromChain("origin.example.com", []*x509.Certificate{probedLeaf, probedRoot})
	c.Assert(err, qt.IsNil)

	c.Assert(entry.Leaf.Subject.CommonName, qt.Equals, "origin.example.com")
	c.Assert(entry.Leaf.Subject.Organization, qt.DeepEquals, []string{"Example Org"})
	c.Assert(entry.Leaf.Subject.OrganizationalUnit, qt.DeepEquals, []string{"Widgets Division"})
	c.Assert(entry.Leaf.Subject.Country, qt.DeepEquals, []string{"US"})
}

func TestResolver_ForgeFromChain_UnknownRootRejected(t *testing.T) {
	c := qt.New(t)

	probedRoot, _ := selfSignedTestCert(t, "Unknown Root", 0xDEAD, true)
	probedLeaf, _ := selfSignedTestCert(t, "origin.example.com", 1, false)

	root := NewStore("root")
	pinned := NewPinnedSet(nil)
	r := NewResolver(root, pinned, nil)

	_, err := r.forgeFromChain("origin.example.com", []*x509.Certificate{probedLeaf, probedRoot})
	c.Assert(err, qt.IsNotNil)
}

func TestResolver_ForgeFromChain_ShortChainRejected(t *testing.T) {
	c := qt.New(t)
	leaf, _ := selfSignedTestCert(t, "origin.example.com", 1, false)
	r := NewResolver(NewStore("root"), NewPinnedSet(nil), nil)
	_, err := r.forgeFromChain("origin.example.com", []*x509.Certificate{leaf})
	c.Assert(err, qt.IsNotNil)
}
