package cert_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxiproxy/goxiproxy/internal/cert"
)

func writeTestCA(t *testing.T, dir, stem, cn string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          []byte{0x01, 0x02, 0x03},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	certOut, err := os.Create(filepath.Join(dir, stem+".pem"))
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(filepath.Join(dir, stem+".key"))
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		t.Fatalf("encode key: %v", err)
	}
}

func TestLoadDir_PairsPemAndKey(t *testing.T) {
	dir := t.TempDir()
	writeTestCA(t, dir, "root1", "Test Root CA")
	// a .pem with no sibling .key must be skipped, not error.
	if err := os.WriteFile(filepath.Join(dir, "orphan.pem"), []byte("not a real pem"), 0o600); err != nil {
		t.Fatalf("write orphan: %v", err)
	}

	store, err := cert.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	entry, ok := store.ByName("Test Root CA")
	if !ok {
		t.Fatal("expected Test Root CA to be loaded")
	}
	if entry.Cert.Subject.CommonName != "Test Root CA" {
		t.Fatalf("CN = %q, want Test Root CA", entry.Cert.Subject.CommonName)
	}
}

func TestLoadDir_MissingDirErrors(t *testing.T) {
	if _, err := cert.LoadDir(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("expected an error for a missing CA directory")
	}
}
