package cert

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// CloneDir re-self-signs every certificate file in inputDir with a freshly
// generated key pair and writes the pair into outputDir as "<stem>.pem" /
// "<stem>.key", the standalone utility that pre-populates a proxy's root-CA
// directory from a set of real root certificates.
func CloneDir(inputDir, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("cert: creating output directory: %w", err)
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return fmt.Errorf("cert: reading input directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		data, err := os.ReadFile(filepath.Join(inputDir, name))
		if err != nil {
			return fmt.Errorf("cert: reading %s: %w", name, err)
		}

		der := data
		if block, _ := pem.Decode(data); block != nil {
			der = block.Bytes
		}

		srcCert, err := x509.ParseCertificate(der)
		if err != nil {
			slog.Warn("cannot process file, skipping", "in", "CloneDir", "file", name, "err", err)
			continue
		}

		key, err := generateKey()
		if err != nil {
			return fmt.Errorf("cert: generating key for %s: %w", name, err)
		}

		tmpl := &x509.Certificate{
			SerialNumber:          srcCert.SerialNumber,
			Subject:               srcCert.Subject,
			NotBefore:             srcCert.NotBefore,
			NotAfter:              srcCert.NotAfter,
			KeyUsage:              srcCert.KeyUsage,
			BasicConstraintsValid: true,
			IsCA:                  true,
		}
		clonedDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
		if err != nil {
			return fmt.Errorf("cert: cloning %s: %w", name, err)
		}

		stem := trimExt(name)
		outCertPath := filepath.Join(outputDir, stem+".pem")
		outKeyPath := filepath.Join(outputDir, stem+".key")

		if err := writePEMFile(outCertPath, "CERTIFICATE", clonedDER); err != nil {
			return fmt.Errorf("cert: writing %s: %w", outCertPath, err)
		}
		keyDER, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return fmt.Errorf("cert: marshaling key for %s: %w", name, err)
		}
		if err := writePEMFile(outKeyPath, "EC PRIVATE KEY", keyDER); err != nil {
			return fmt.Errorf("cert: writing %s: %w", outKeyPath, err)
		}
		slog.Debug("cloned CA", "in", "CloneDir", "cert", outCertPath, "key", outKeyPath)
	}
	slog.Info("all certificate files processed", "in", "CloneDir")
	return nil
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

func writePEMFile(path, blockType string, der []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}
