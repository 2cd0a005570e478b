package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/provkit/internal/audit"
)

// =============================================================================
// Test Helpers
// =============================================================================

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { _ = audit.Close() })

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// resetFlags resets every command flag to its default value.
func resetFlags() {
	configPath, auditLogPath, logLevel, logFormat = "", "", "", ""

	readMime, readSidecar, readOut = "", "", ""

	signOut, signMime, signAlg, signCert, signKey, signTSAURL = "", "", "", "", "", ""
	signAssertions = nil
	signThumbnail, signThumbnailFormat = "", ""

	servePort, serveHost, serveTLSCert, serveTLSKey = 0, "", "", ""

	tsaReqAlg, tsaReqData, tsaReqDigest, tsaReqOut = "es256", "", "", ""
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	resetFlags()
	t.Setenv("PROVKIT_AUDIT_LOG", "")
	return &testContext{t: t, tempDir: t.TempDir()}
}

func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

func (tc *testContext) writeFile(name string, content []byte) string {
	tc.t.Helper()
	path := tc.path(name)
	require.NoError(tc.t, os.WriteFile(path, content, 0644))
	return path
}

// writeSigner writes a P-256 key and its self-signed certificate and returns
// their paths.
func (tc *testContext) writeSigner() (certPath, keyPath string) {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(tc.t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "CLI Signer", Organization: []string{"Example"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(tc.t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(tc.t, err)

	certPath = tc.writeFile("chain.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPath = tc.writeFile("key.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	return certPath, keyPath
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 90, A: 255})
		}
	}
	return img
}

func (tc *testContext) writeJPEG(name string) string {
	tc.t.Helper()
	var buf bytes.Buffer
	require.NoError(tc.t, jpeg.Encode(&buf, testImage(), nil))
	return tc.writeFile(name, buf.Bytes())
}

func (tc *testContext) writePNG(name string) string {
	tc.t.Helper()
	var buf bytes.Buffer
	require.NoError(tc.t, png.Encode(&buf, testImage()))
	return tc.writeFile(name, buf.Bytes())
}
