package keyvault

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// =============================================================================
// Test Helpers
// =============================================================================

func generateKey(t *testing.T, alg pcrypto.SigningAlgorithm) crypto.Signer {
	t.Helper()
	var (
		key crypto.Signer
		err error
	)
	switch alg {
	case pcrypto.ES256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case pcrypto.ES384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case pcrypto.ES512:
		key, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case pcrypto.PS256, pcrypto.PS384, pcrypto.PS512:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case pcrypto.ED25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		t.Fatalf("no test key for %s", alg)
	}
	require.NoError(t, err)
	return key
}

func selfSigned(t *testing.T, key crypto.Signer, cn string) []byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(99),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	return der
}

func writePEM(t *testing.T, dir, name string, blocks ...*pem.Block) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	for _, b := range blocks {
		data = append(data, pem.EncodeToMemory(b)...)
	}
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func writeKeyPEM(t *testing.T, dir string, key crypto.Signer) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return writePEM(t, dir, "key.pem", &pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func certBlock(der []byte) *pem.Block {
	return &pem.Block{Type: "CERTIFICATE", Bytes: der}
}
