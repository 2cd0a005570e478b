package keyvault

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// ErrKeyCertMismatch is returned when the leaf certificate does not carry
// the vault key.
var ErrKeyCertMismatch = errors.New("leaf certificate does not match signing key")

// LoadCertificates reads a PEM or DER certificate chain, leaf first, and
// returns the DER certificates in file order.
func LoadCertificates(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates: %w", err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return certs, nil
}

// ParseCertificates accepts PEM CERTIFICATE blocks or concatenated DER.
func ParseCertificates(data []byte) ([][]byte, error) {
	var out [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("certificate %d: %w", len(out)+1, err)
		}
		out = append(out, block.Bytes)
	}
	if len(out) > 0 {
		return out, nil
	}

	parsed, err := x509.ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("no PEM certificates and invalid DER: %w", err)
	}
	if len(parsed) == 0 {
		return nil, errors.New("no certificates found")
	}
	for _, c := range parsed {
		out = append(out, c.Raw)
	}
	return out, nil
}

func checkLeaf(certs [][]byte, pub crypto.PublicKey, alg pcrypto.SigningAlgorithm) error {
	if !pcrypto.KeyMatchesAlgorithm(pub, alg) {
		return fmt.Errorf("%w: %s", pcrypto.ErrKeyMismatch, alg)
	}
	leaf, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return err
	}
	eq, ok := leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !eq.Equal(pub) {
		return ErrKeyCertMismatch
	}
	return nil
}
