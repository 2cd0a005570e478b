package toolkit

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
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
	"github.com/remiblancher/provkit/pkg/signer"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// =============================================================================
// Test Helpers
// =============================================================================

// hostKey plays the key vault: it owns the key and counts callback calls.
type hostKey struct {
	alg  pcrypto.SigningAlgorithm
	key  crypto.Signer
	cert *x509.Certificate

	mu    sync.Mutex
	calls []string
}

func newHostKey(t *testing.T, alg pcrypto.SigningAlgorithm) *hostKey {
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
	case pcrypto.ED25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		t.Fatalf("no test key for %s", alg)
	}
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "Host Signer", Organization: []string{"Host Org"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &hostKey{alg: alg, key: key, cert: cert}
}

func (h *hostKey) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
}

func (h *hostKey) callbacks() signer.Callbacks {
	return signer.Callbacks{
		Digest: func(_ context.Context, data []byte) ([]byte, error) {
			h.record("digest")
			return h.alg.Digest().Sum(data)
		},
		Sign: func(_ context.Context, digest []byte) ([]byte, error) {
			h.record("sign")
			return pcrypto.SignDigest(rand.Reader, h.key, h.alg, digest)
		},
		Random: func(_ context.Context, n int) ([]byte, error) {
			h.record("random")
			b := make([]byte, n)
			_, err := rand.Read(b)
			return b, err
		},
	}
}

func (h *hostKey) info() *SigningInfo {
	return &SigningInfo{
		Alg:          h.alg.String(),
		Certificates: [][]byte{h.cert.Raw},
		Callbacks:    h.callbacks(),
	}
}

// grantingTSA answers every request with a token that echoes its imprint
// and nonce.
func grantingTSA(t *testing.T) signer.BufferFunc {
	t.Helper()
	return answeringTSA(t, nil)
}

// answeringTSA grants every request, putting nonce in the token instead of
// the request's own nonce when it is non-nil.
func answeringTSA(t *testing.T, nonce *big.Int) signer.BufferFunc {
	t.Helper()
	return func(_ context.Context, body []byte) ([]byte, error) {
		req, err := tsa.ParseRequest(body)
		if err != nil {
			return nil, err
		}
		echoed := req.Nonce
		if nonce != nil {
			echoed = nonce
		}
		token, err := tsa.NewToken(&tsa.TSTInfo{
			Version:        1,
			Policy:         asn1.ObjectIdentifier{1, 2, 3},
			MessageImprint: req.MessageImprint,
			SerialNumber:   big.NewInt(1),
			GenTime:        time.Date(2024, 11, 2, 8, 0, 0, 0, time.UTC),
			Nonce:          echoed,
		}, nil)
		if err != nil {
			return nil, err
		}
		return tsa.NewGrantedResponse(token).Marshal()
	}
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: 80, B: uint8(y * 20), A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))
	return buf.Bytes()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))
	return buf.Bytes()
}
