package keyvault

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// Software keeps the key in process memory. It stands in for a vault in
// development and tests.
type Software struct {
	id  string
	key crypto.Signer

	mu     sync.RWMutex
	closed bool
}

var _ KeyVault = (*Software)(nil)

// NewSoftware wraps key; id names it in audit records.
func NewSoftware(id string, key crypto.Signer) *Software {
	return &Software{id: id, key: key}
}

// LoadSoftware reads a PKCS#1, SEC1 or PKCS#8 PEM private key. Legacy
// encrypted PEM blocks are decrypted with passphrase.
func LoadSoftware(path string, passphrase []byte) (*Software, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSoftware("file:"+path, key), nil
}

// ParsePrivateKey decodes the first private key PEM block in data.
func ParsePrivateKey(data, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, errors.New("private key is encrypted but no passphrase provided")
		}
		var err error
		der, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(der)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(der)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(der)
	default:
		return nil, fmt.Errorf("unknown PEM type: %s", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", block.Type, err)
	}

	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key type %T cannot sign", key)
	}
	return s, nil
}

func (s *Software) KeyID() string { return s.id }

// Public returns the public half of the key.
func (s *Software) Public() crypto.PublicKey { return s.key.Public() }

func (s *Software) Sign(ctx context.Context, alg pcrypto.SigningAlgorithm, digest []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pcrypto.SignDigest(rand.Reader, s.key, alg, digest)
}

func (s *Software) Random(ctx context.Context, n int) ([]byte, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return randomBytes(ctx, n)
}

func (s *Software) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
