// Package toolkit is the host-facing surface: it signs assets with a remote
// signer built from host callbacks and reads manifest stores back.
package toolkit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/pkg/c2pa"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/signer"
)

// Generator is the claim generator written into every signed manifest.
const Generator = "azure_media_provenance/0.1"

// Assertion is one labeled assertion whose value is a JSON document.
type Assertion struct {
	Label string
	Value string
}

// SigningInfo describes one signing request.
type SigningInfo struct {
	// Alg is one of ps256, es256, ps384, es384, ps512, es512, ed25519.
	Alg string

	// Certificates is the DER certificate chain, leaf first.
	Certificates [][]byte

	// Assertions are added in order.
	Assertions []Assertion

	// Thumbnail is optional; ThumbnailFormat is required when it is set.
	Thumbnail       []byte
	ThumbnailFormat string

	// Callbacks are the host key operations.
	Callbacks signer.Callbacks
}

// SignAssetBuffer builds a manifest from info, signs it through the host
// callbacks and returns asset with the manifest embedded. When asset already
// carries a manifest store, it becomes the parent of the new manifest.
func SignAssetBuffer(ctx context.Context, info *SigningInfo, asset []byte, mime string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	phase := func(name string) {
		logger.Debug().Str("phase", "sign_asset::"+name).Dur("elapsed", time.Since(start)).Msg("sign phase")
	}
	phase("start")

	if info == nil {
		return nil, newError(KindInputDecode, "signing_info", errMissingInfo)
	}
	alg, err := pcrypto.ParseSigningAlgorithm(info.Alg)
	if err != nil {
		return nil, newError(KindUnsupportedAlgorithm, "alg", err)
	}
	if err := info.Callbacks.Validate(); err != nil {
		return nil, newError(KindInputDecode, "callbacks", err)
	}

	manifest := c2pa.NewManifest(Generator)

	for _, a := range info.Assertions {
		value, err := ParseAssertionValue(a.Value)
		if err != nil {
			return nil, newError(KindAssertionParse, a.Label, err)
		}
		if err := manifest.AddLabeledAssertion(a.Label, value); err != nil {
			return nil, newError(KindManifestAssertion, a.Label, err)
		}
	}
	phase("assertions")

	if info.Thumbnail != nil {
		if err := manifest.SetThumbnail(info.ThumbnailFormat, info.Thumbnail); err != nil {
			return nil, newError(KindManifestThumbnail, "thumbnail", err)
		}
	}

	ingredient, err := c2pa.IngredientFromMemory(ctx, mime, asset)
	if err != nil {
		return nil, newError(KindManifestEmbed, "ingredient", err)
	}
	if ingredient.ManifestData() != nil {
		if err := manifest.SetParent(ingredient); err != nil {
			return nil, newError(KindManifestEmbed, "ingredient", err)
		}
		logger.Debug().Str("parent", ingredient.ActiveManifest).Msg("asset has a manifest; chaining")
	}
	phase("ingredient")

	certs := make([][]byte, len(info.Certificates))
	for i, c := range info.Certificates {
		certs[i] = append([]byte(nil), c...)
	}

	rs, err := signer.New(alg, info.Callbacks, certs, signer.WithLogger(*logger))
	if err != nil {
		return nil, newError(KindInputDecode, "signer", err)
	}

	out, err := manifest.EmbedFromMemory(ctx, mime, asset, rs)
	if err != nil {
		return nil, embedError(err)
	}
	phase("embed")

	return out, nil
}
