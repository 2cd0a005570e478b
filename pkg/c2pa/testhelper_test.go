package c2pa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// =============================================================================
// Test Helpers
// =============================================================================

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
)

// generateKey returns a key for alg. RSA keys are shared across tests.
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
		rsaKeyOnce.Do(func() {
			rsaKey, err = rsa.GenerateKey(rand.Reader, 2048)
		})
		require.NotNil(t, rsaKey)
		key = rsaKey
	case pcrypto.ED25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		t.Fatalf("no key for %s", alg)
	}
	require.NoError(t, err)
	return key
}

// generateTestCertificate generates a self-signed certificate for testing.
func generateTestCertificate(t *testing.T, key crypto.Signer) *x509.Certificate {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject: pkix.Name{
			CommonName:   "Test Signer",
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// testSigner is an in-process AsyncSigner.
type testSigner struct {
	alg     pcrypto.SigningAlgorithm
	key     crypto.Signer
	certs   [][]byte
	reserve int
	tsa     func(message []byte) *TimestampResult

	mu        sync.Mutex
	signCalls int
	tsaCalls  int
}

func newTestSigner(t *testing.T, alg pcrypto.SigningAlgorithm) *testSigner {
	t.Helper()
	key := generateKey(t, alg)
	cert := generateTestCertificate(t, key)
	return &testSigner{
		alg:     alg,
		key:     key,
		certs:   [][]byte{cert.Raw},
		reserve: 8192 + len(cert.Raw),
	}
}

func (s *testSigner) Alg() pcrypto.SigningAlgorithm { return s.alg }

func (s *testSigner) Certs() ([][]byte, error) { return s.certs, nil }

func (s *testSigner) ReserveSize() int { return s.reserve }

func (s *testSigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	s.mu.Lock()
	s.signCalls++
	s.mu.Unlock()

	digest, err := s.alg.Digest().Sum(data)
	if err != nil {
		return nil, err
	}
	return pcrypto.SignDigest(rand.Reader, s.key, s.alg, digest)
}

func (s *testSigner) SendTimestampRequest(_ context.Context, message []byte) *TimestampResult {
	s.mu.Lock()
	s.tsaCalls++
	s.mu.Unlock()

	if s.tsa == nil {
		return nil
	}
	return s.tsa(message)
}

// grantedTSA returns a timestamp function that stamps the message it is
// given, or a fixed message when stamped is non-nil.
func grantedTSA(t *testing.T, stamped []byte) func([]byte) *TimestampResult {
	t.Helper()
	return func(message []byte) *TimestampResult {
		if stamped != nil {
			message = stamped
		}
		sum := sha256.Sum256(message)
		info := &tsa.TSTInfo{
			Version: 1,
			Policy:  asn1.ObjectIdentifier{1, 2, 3, 4, 1},
			MessageImprint: tsa.MessageImprint{
				HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: pcrypto.OIDSHA256},
				HashedMessage: sum[:],
			},
			SerialNumber: big.NewInt(99),
			GenTime:      time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		}
		token, err := tsa.NewToken(info, nil)
		require.NoError(t, err)
		der, err := tsa.NewGrantedResponse(token).Marshal()
		require.NoError(t, err)
		return &TimestampResult{Response: der}
	}
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return buf.Bytes()
}

func testAsset(t *testing.T, format string) []byte {
	t.Helper()
	if NormalizeFormat(format) == "image/png" {
		return testPNG(t)
	}
	return testJPEG(t)
}

// withJPEGSegment inserts a raw APP segment right after SOI.
func withJPEGSegment(t *testing.T, asset []byte, marker byte, payload []byte) []byte {
	t.Helper()
	seg := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, asset[:2]...)
	out = append(out, seg...)
	return append(out, asset[2:]...)
}

func xmpPacket(url string) []byte {
	return []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
		`<rdf:Description xmlns:dcterms="http://purl.org/dc/terms/" dcterms:provenance="` + url + `"/>` +
		`</rdf:RDF></x:xmpmeta>`)
}

// signAsset embeds a manifest with one assertion.
func signAsset(t *testing.T, signer AsyncSigner, format string, asset []byte) []byte {
	t.Helper()
	m := NewManifest("test_generator/1.0")
	m.Title = "test asset"
	require.NoError(t, m.AddLabeledAssertion("org.example.test", map[string]any{"answer": 42}))
	out, err := m.EmbedFromMemory(context.Background(), format, asset, signer)
	require.NoError(t, err)
	return out
}
