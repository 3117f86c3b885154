package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
)

// parsePrivateKeyPEM accepts PKCS#1, PKCS#8, or SEC1/EC PEM-encoded private
// keys, matching the variety of key formats an operator's CA directory may
// contain.
func parsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("cert: no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("cert: PKCS8 key is not a signer: %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("cert: unrecognized private key encoding")
}

// generateKey produces a fresh ECDSA P-256 key, the default used for every
// freshly forged certificate (root re-signs keep the loaded key instead).
func generateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// newSerial mints a random positive serial number, the same way the
// standard library's own certificate-authority examples do.
func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// selfSign reconstructs a usable self-signed CA certificate from a
// previously-issued certificate's template and its known private key: the
// standard way to reconstitute a CA from an exported (cert, key) pair,
// since only the issuer holds the private key needed to re-sign it.
func selfSign(tmpl *x509.Certificate, key crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// caTemplateFrom copies the identity-bearing fields of an existing CA
// certificate into a fresh template suitable for self-signing, matching the
// re-self-sign that reconstitutes a CA from its exported DER.
func caTemplateFrom(src *x509.Certificate) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          src.SerialNumber,
		Subject:               src.Subject,
		NotBefore:             src.NotBefore,
		NotAfter:              src.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          src.SubjectKeyId,
	}
}

// mirrorIntermediate synthesizes a fresh intermediate that copies the
// probed real intermediate's identity, signed by the previously forged
// entry in the chain (root, or a previously synthesized intermediate).
func mirrorIntermediate(real *x509.Certificate, signerCert *x509.Certificate, signerKey crypto.Signer) (*x509.Certificate, crypto.Signer, error) {
	key, err := generateKey()
	if err != nil {
		return nil, nil, err
	}
	serial, err := newSerial()
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               real.Subject,
		NotBefore:             real.NotBefore,
		NotAfter:              real.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		AuthorityKeyId:        signerCert.SubjectKeyId,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, key.Public(), signerKey)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// forgeLeaf reproduces the probed leaf's identity (subject, SANs, and an
// unwildcarded SAN for wildcard SNIs) signed by the bottom of the forged
// chain, with the authority-key-identifier extension enabled and IsCA
// forced off.
func forgeLeaf(real *x509.Certificate, sni string, signerCert *x509.Certificate, signerKey crypto.Signer) (*x509.Certificate, crypto.Signer, error) {
	key, err := generateKey()
	if err != nil {
		return nil, nil, err
	}
	serial, err := newSerial()
	if err != nil {
		return nil, nil, err
	}

	dnsNames := append([]string(nil), real.DNSNames...)
	if unwildcarded, ok := stripWildcard(sni); ok {
		dnsNames = appendUnique(dnsNames, unwildcarded)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               real.Subject,
		NotBefore:             real.NotBefore,
		NotAfter:              real.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              dnsNames,
		IPAddresses:           real.IPAddresses,
		AuthorityKeyId:        signerCert.SubjectKeyId,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, key.Public(), signerKey)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func stripWildcard(name string) (string, bool) {
	const prefix = "*."
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):], true
	}
	return "", false
}

func appendUnique(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// commonNameOf extracts a certificate's indexing name: subject common name,
// falling back to organizational unit then organization.
func commonNameOf(subject pkix.Name) string {
	if subject.CommonName != "" {
		return subject.CommonName
	}
	if len(subject.OrganizationalUnit) > 0 {
		return subject.OrganizationalUnit[0]
	}
	if len(subject.Organization) > 0 {
		return subject.Organization[0]
	}
	return ""
}
