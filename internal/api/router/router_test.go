package router

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/provkit/internal/api/dto"
	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/internal/keyvault"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testBundle(t *testing.T) *keyvault.Bundle {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(5),
		Subject:               pkix.Name{CommonName: "API Signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	return &keyvault.Bundle{
		Alg:          pcrypto.ES256,
		Certificates: [][]byte{der},
		Vault:        keyvault.NewSoftware("test-key", key),
	}
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16)), nil))
	return buf.Bytes()
}

func newTestRouter(bundle *keyvault.Bundle, maxBody int64) http.Handler {
	return New(&Config{
		Version:      "test",
		Logger:       zerolog.Nop(),
		Bundle:       bundle,
		MaxBodyBytes: maxBody,
	})
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) dto.APIError {
	t.Helper()
	var apiErr dto.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

// =============================================================================
// Health Tests
// =============================================================================

func TestU_Router_Health(t *testing.T) {
	h := newTestRouter(nil, 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Contains(t, resp.Services, "read")
	assert.NotContains(t, resp.Services, "sign")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestU_Router_Ready(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(testBundle(t), 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.True(t, resp.Checks["key_vault"])
}

func TestU_Router_ReadyVaultClosed(t *testing.T) {
	b := testBundle(t)
	require.NoError(t, b.Close())

	rec := httptest.NewRecorder()
	newTestRouter(b, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestU_Router_OpenAPI(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "/api/v1/assets/sign")
}

// =============================================================================
// Sign and Read Tests
// =============================================================================

func TestU_Router_SignThenRead(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, audit.InitFile(auditPath))
	t.Cleanup(func() { _ = audit.Close() })

	h := newTestRouter(testBundle(t), 0)
	asset := testJPEG(t)

	rec := post(t, h, "/api/v1/assets/sign", dto.SignAssetRequest{
		Asset:    dto.NewBinaryData(asset),
		MimeType: "image/jpeg",
		Alg:      "ES256",
		Assertions: []dto.AssertionInput{
			{Label: "org.example.note", Value: json.RawMessage(`{"text":"hello"}`)},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var signed dto.SignAssetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	assert.Equal(t, "es256", signed.Alg)
	out, err := signed.Asset.Decode("asset")
	require.NoError(t, err)
	assert.Equal(t, len(out), signed.Size)
	assert.Greater(t, len(out), len(asset))

	rec = post(t, h, "/api/v1/manifests/read", dto.ReadManifestRequest{
		Asset:    signed.Asset,
		MimeType: "image/jpeg",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var store map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &store))
	assert.NotEmpty(t, store["active_manifest"])
	assert.NotContains(t, store, "validation_status")

	// key access, asset signed, manifest read
	require.NoError(t, audit.Close())
	n, err := audit.VerifyChain(auditPath)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestU_Router_SignDisabled(t *testing.T) {
	rec := post(t, newTestRouter(nil, 0), "/api/v1/assets/sign", dto.SignAssetRequest{
		Asset:    dto.NewBinaryData(testJPEG(t)),
		MimeType: "image/jpeg",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SIGNING_DISABLED", decodeAPIError(t, rec).Code)
}

func TestU_Router_SignAlgorithmMismatch(t *testing.T) {
	rec := post(t, newTestRouter(testBundle(t), 0), "/api/v1/assets/sign", dto.SignAssetRequest{
		Asset:    dto.NewBinaryData(testJPEG(t)),
		MimeType: "image/jpeg",
		Alg:      "ps256",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Toolkit(UnsupportedAlgorithm)", decodeAPIError(t, rec).Code)
}

func TestU_Router_ReadErrors(t *testing.T) {
	h := newTestRouter(nil, 0)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "[Unit] Read: invalid JSON",
			body:   "{not json",
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "[Unit] Read: missing asset",
			body:   dto.ReadManifestRequest{MimeType: "image/jpeg"},
			status: http.StatusBadRequest,
			code:   "Toolkit(InputDecode)",
		},
		{
			name:   "[Unit] Read: bad base64",
			body:   dto.ReadManifestRequest{Asset: dto.BinaryData{Data: "!!!"}, MimeType: "image/jpeg"},
			status: http.StatusBadRequest,
			code:   "Toolkit(InputDecode)",
		},
		{
			name:   "[Unit] Read: unsigned asset",
			body:   dto.ReadManifestRequest{Asset: dto.NewBinaryData(testJPEG(t)), MimeType: "image/jpeg"},
			status: http.StatusNotFound,
			code:   "Toolkit(ManifestRead)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, "/api/v1/manifests/read", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeAPIError(t, rec).Code)
		})
	}
}

func TestU_Router_ReadSidecarGarbage(t *testing.T) {
	rec := post(t, newTestRouter(nil, 0), "/api/v1/manifests/read-sidecar", dto.ReadSidecarRequest{
		Manifest: dto.NewBinaryData([]byte{1, 2, 3}),
		Asset:    dto.NewBinaryData(testJPEG(t)),
		MimeType: "image/jpeg",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Toolkit(ManifestRead)", decodeAPIError(t, rec).Code)
}

func TestU_Router_BodyTooLarge(t *testing.T) {
	large := dto.ReadManifestRequest{Asset: dto.NewBinaryData(make([]byte, 4096)), MimeType: "image/jpeg"}
	rec := post(t, newTestRouter(nil, 512), "/api/v1/manifests/read", large)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// =============================================================================
// TSA Request Tests
// =============================================================================

func TestU_Router_TimestampRequest(t *testing.T) {
	digest := make([]byte, 48)
	rec := post(t, newTestRouter(testBundle(t), 0), "/api/v1/tsa/request", dto.TimestampRequestRequest{
		Alg:    "es384",
		Digest: dto.BinaryData{Data: base64.RawURLEncoding.EncodeToString(digest)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dto.TimestampRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sha384", resp.HashAlgorithm)
	assert.NotEmpty(t, resp.Nonce)

	der, err := resp.Request.Decode("request")
	require.NoError(t, err)
	parsed, err := tsa.ParseRequest(der)
	require.NoError(t, err)
	assert.Equal(t, digest, parsed.MessageImprint.HashedMessage)
	assert.Equal(t, resp.Nonce, parsed.Nonce.String())
}

func TestU_Router_TimestampRequestErrors(t *testing.T) {
	h := newTestRouter(nil, 0)

	rec := post(t, h, "/api/v1/tsa/request", dto.TimestampRequestRequest{
		Alg:    "rs256",
		Digest: dto.NewBinaryData(make([]byte, 32)),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/api/v1/tsa/request", dto.TimestampRequestRequest{Alg: "es256"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(decodeAPIError(t, rec).Code, "Toolkit("))

	for _, tc := range []struct {
		alg  string
		size int
	}{{"es256", 48}, {"es384", 32}, {"ed25519", 32}, {"ps512", 63}} {
		rec = post(t, h, "/api/v1/tsa/request", dto.TimestampRequestRequest{
			Alg:    tc.alg,
			Digest: dto.NewBinaryData(make([]byte, tc.size)),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s with %d-byte digest", tc.alg, tc.size)
		assert.Equal(t, "Toolkit(InputDecode)", decodeAPIError(t, rec).Code)
	}
}

func TestU_Router_TimestampInspect(t *testing.T) {
	h := newTestRouter(nil, 0)
	digest := bytes.Repeat([]byte{0xab}, 32)

	rec := post(t, h, "/api/v1/tsa/request", dto.TimestampRequestRequest{
		Alg:    "ps256",
		Digest: dto.NewBinaryData(digest),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var built dto.TimestampRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &built))

	rec = post(t, h, "/api/v1/tsa/inspect", dto.TimestampInspectRequest{Request: built.Request})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp dto.TimestampInspectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Version)
	assert.Equal(t, "sha256", resp.HashAlgorithm)
	assert.Equal(t, strings.Repeat("ab", 32), resp.Digest)
	assert.Equal(t, built.Nonce, resp.Nonce)
	assert.True(t, resp.CertReq)

	rec = post(t, h, "/api/v1/tsa/inspect", dto.TimestampInspectRequest{Request: dto.NewBinaryData([]byte{0x30, 0x00})})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Toolkit(InputDecode)", decodeAPIError(t, rec).Code)
}
