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

// TestCloneDir_RoundTripPreservesCommonName is testable property 5:
// loading a cloned pair and re-extracting its subject common name yields
// the original input's common name.
func TestCloneDir_RoundTripPreservesCommonName(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "Original Root CA"},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	f, err := os.Create(filepath.Join(inDir, "root.pem"))
	if err != nil {
		t.Fatalf("create input file: %v", err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode input cert: %v", err)
	}
	f.Close()

	if err := cert.CloneDir(inDir, outDir); err != nil {
		t.Fatalf("CloneDir: %v", err)
	}

	clonedPEM, err := os.ReadFile(filepath.Join(outDir, "root.pem"))
	if err != nil {
		t.Fatalf("read cloned cert: %v", err)
	}
	block, _ := pem.Decode(clonedPEM)
	if block == nil {
		t.Fatal("cloned file is not valid PEM")
	}
	clonedCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cloned cert: %v", err)
	}
	if clonedCert.Subject.CommonName != "Original Root CA" {
		t.Fatalf("CN = %q, want Original Root CA", clonedCert.Subject.CommonName)
	}

	if _, err := os.Stat(filepath.Join(outDir, "root.key")); err != nil {
		t.Fatalf("expected a cloned key file: %v", err)
	}
}
