package c2pa

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

func statusCodes(store *ManifestStore) []string {
	codes := make([]string, 0, len(store.ValidationStatus))
	for _, s := range store.ValidationStatus {
		codes = append(codes, s.Code)
	}
	return codes
}

// =============================================================================
// ReadFromMemory Tests
// =============================================================================

func TestU_Read_View(t *testing.T) {
	signer := newTestSigner(t, pcrypto.PS256)
	signed := signAsset(t, signer, "jpeg", testJPEG(t))

	store, err := ReadFromMemory(context.Background(), "image/jpeg", signed)
	require.NoError(t, err)

	active := store.Manifests[store.ActiveManifest]
	require.NotNil(t, active)
	assert.Equal(t, store.ActiveManifest, active.Label)
	assert.Equal(t, "test_generator/1.0", active.ClaimGenerator)
	assert.Equal(t, "test asset", active.Title)
	assert.Equal(t, "image/jpeg", active.Format)
	assert.Contains(t, active.InstanceID, "xmp:iid:")
	assert.Contains(t, store.ActiveManifest, "urn:uuid:")

	require.Len(t, active.Assertions, 1)
	assert.Equal(t, "org.example.test", active.Assertions[0].Label)
	assert.Equal(t, map[string]any{"answer": uint64(42)}, active.Assertions[0].Data)
	assert.Empty(t, active.Ingredients)
	assert.Nil(t, active.SignatureInfo.Time)
}

func TestU_Read_JSON(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signed := signAsset(t, signer, "png", testPNG(t))

	store, err := ReadFromMemory(context.Background(), "png", signed)
	require.NoError(t, err)

	data, err := json.Marshal(store)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, store.ActiveManifest, doc["active_manifest"])
	manifests, ok := doc["manifests"].(map[string]any)
	require.True(t, ok)
	active, ok := manifests[store.ActiveManifest].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test_generator/1.0", active["claim_generator"])
	assert.NotContains(t, doc, "validation_status")
}

func TestU_Read_NoManifest(t *testing.T) {
	for _, format := range []string{"jpeg", "png"} {
		_, err := ReadFromMemory(context.Background(), format, testAsset(t, format))
		assert.ErrorIs(t, err, ErrManifestNotFound)
	}
}

func TestU_Read_RemoteManifest(t *testing.T) {
	payload := append(append([]byte{}, xmpPrefix...), xmpPacket("https://example.com/remote.c2pa")...)
	asset := withJPEGSegment(t, testJPEG(t), markerAPP1, payload)

	_, err := ReadFromMemory(context.Background(), "jpeg", asset)
	var remote *RemoteManifestError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "https://example.com/remote.c2pa", remote.URL)
}

func TestU_Read_Errors(t *testing.T) {
	_, err := ReadFromMemory(context.Background(), "tiff", []byte{1})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadFromMemory(context.Background(), "jpeg", []byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidAsset)

	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "read", ee.Op)
}

func TestU_Read_CorruptStore(t *testing.T) {
	asset, err := jpegContainer{}.embed(testJPEG(t), encodeStoreBox([]byte{0xFF, 0x00}))
	require.NoError(t, err)

	_, err = ReadFromMemory(context.Background(), "jpeg", asset)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestU_Read_TamperedAsset(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signed := signAsset(t, signer, "jpeg", testJPEG(t))

	// Flip a byte of entropy-coded data just before EOI.
	signed[len(signed)-3] ^= 0x01

	store, err := ReadFromMemory(context.Background(), "jpeg", signed)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusDataHashMismatch}, statusCodes(store))
}

func TestU_Read_TamperedAssertion(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signed := signAsset(t, signer, "png", testPNG(t))

	store, _, err := pngContainer{}.extract(signed)
	require.NoError(t, err)
	doc, err := decodeStore(store)
	require.NoError(t, err)

	a, ok := doc.active().assertion("org.example.test")
	require.True(t, ok)
	a.Data, err = encMode.Marshal(map[string]any{"answer": 43})
	require.NoError(t, err)

	tampered, err := encodeStore(doc)
	require.NoError(t, err)

	result, err := ReadFromManifestAndMemory(context.Background(), tampered, "png", signed)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusHashedURIMismatch}, statusCodes(result))
	assert.Empty(t, result.Manifests[result.ActiveManifest].Assertions)
}

func TestU_Read_TamperedClaim(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signed := signAsset(t, signer, "jpeg", testJPEG(t))

	store, _, err := jpegContainer{}.extract(signed)
	require.NoError(t, err)
	doc, err := decodeStore(store)
	require.NoError(t, err)

	cl, err := decodeClaim(doc.active().Claim)
	require.NoError(t, err)
	cl.Title = "forged"
	doc.active().Claim, err = encMode.Marshal(cl)
	require.NoError(t, err)

	tampered, err := encodeStore(doc)
	require.NoError(t, err)

	result, err := ReadFromManifestAndMemory(context.Background(), tampered, "jpeg", signed)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusClaimSignatureMismatch}, statusCodes(result))
	assert.Equal(t, "forged", result.Manifests[result.ActiveManifest].Title)
}

func TestU_Read_TimestampMismatch(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signer.tsa = grantedTSA(t, []byte("some other message"))
	signed := signAsset(t, signer, "jpeg", testJPEG(t))

	store, err := ReadFromMemory(context.Background(), "jpeg", signed)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusTimeStampMismatch}, statusCodes(store))
	assert.Nil(t, store.Manifests[store.ActiveManifest].SignatureInfo.Time)
}

func TestU_Read_BadSignatureBytes(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES256)
	signed := signAsset(t, signer, "jpeg", testJPEG(t))

	store, _, err := jpegContainer{}.extract(signed)
	require.NoError(t, err)
	doc, err := decodeStore(store)
	require.NoError(t, err)
	doc.active().Signature = []byte{0x00}

	tampered, err := encodeStore(doc)
	require.NoError(t, err)

	result, err := ReadFromManifestAndMemory(context.Background(), tampered, "jpeg", signed)
	require.NoError(t, err)
	assert.Equal(t, []string{StatusSigningCredential}, statusCodes(result))
	assert.Nil(t, result.Manifests[result.ActiveManifest].SignatureInfo)
}

// =============================================================================
// ReadFromManifestAndMemory Tests
// =============================================================================

func TestU_ReadSidecar(t *testing.T) {
	signer := newTestSigner(t, pcrypto.ES512)
	asset := testJPEG(t)
	signed := signAsset(t, signer, "jpeg", asset)

	manifest, _, err := jpegContainer{}.extract(signed)
	require.NoError(t, err)

	// The sidecar validates against the unsigned original as well.
	store, err := ReadFromManifestAndMemory(context.Background(), manifest, "jpeg", asset)
	require.NoError(t, err)
	assert.Empty(t, store.ValidationStatus)

	_, err = ReadFromManifestAndMemory(context.Background(), []byte("junk"), "jpeg", asset)
	assert.ErrorIs(t, err, ErrInvalidManifest)

	other := testPNG(t)
	store, err = ReadFromManifestAndMemory(context.Background(), manifest, "png", other)
	require.NoError(t, err)
	assert.Contains(t, statusCodes(store), StatusDataHashMismatch)
}

// =============================================================================
// Ingredient Tests
// =============================================================================

func TestU_Ingredient_Plain(t *testing.T) {
	ing, err := IngredientFromMemory(context.Background(), "png", testPNG(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ing.Format)
	assert.Equal(t, RelationshipParentOf, ing.Relationship)
	assert.Empty(t, ing.ActiveManifest)
	assert.Nil(t, ing.ManifestData())
	assert.Len(t, ing.Hash, 32)
	assert.Empty(t, ing.ValidationStatus)
}

func TestU_Ingredient_Remote(t *testing.T) {
	payload := append(append([]byte{}, xmpPrefix...), xmpPacket("https://example.com/r.c2pa")...)
	asset := withJPEGSegment(t, testJPEG(t), markerAPP1, payload)

	ing, err := IngredientFromMemory(context.Background(), "jpeg", asset)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/r.c2pa", ing.RemoteURL)
	require.Len(t, ing.ValidationStatus, 1)
	assert.Equal(t, StatusManifestInaccessible, ing.ValidationStatus[0].Code)
}

func TestU_Ingredient_CorruptStore(t *testing.T) {
	asset, err := jpegContainer{}.embed(testJPEG(t), encodeStoreBox([]byte{0xFF}))
	require.NoError(t, err)

	ing, err := IngredientFromMemory(context.Background(), "jpeg", asset)
	require.NoError(t, err)
	require.Len(t, ing.ValidationStatus, 1)
	assert.Equal(t, StatusClaimMalformed, ing.ValidationStatus[0].Code)
	assert.Nil(t, ing.ManifestData())
}

func TestU_Ingredient_InvalidAsset(t *testing.T) {
	_, err := IngredientFromMemory(context.Background(), "png", []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidAsset)
}
