package toolkit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/pkg/c2pa"
)

var errMissingInfo = errors.New("signing info is required")

// GetManifestStoreFromArrayBuffer reads the manifest store embedded in asset
// and returns it as a JSON object tree.
func GetManifestStoreFromArrayBuffer(ctx context.Context, asset []byte, mime string) (map[string]any, error) {
	zerolog.Ctx(ctx).Debug().Str("mime", mime).Int("size", len(asset)).Msg("read manifest store")

	store, err := c2pa.ReadFromMemory(ctx, mime, asset)
	if err != nil {
		return nil, readError(err)
	}
	return hostStore(store)
}

// GetManifestStoreFromManifestAndAsset validates a detached manifest store
// against asset and returns it as a JSON object tree.
func GetManifestStoreFromManifestAndAsset(ctx context.Context, manifest, asset []byte, mime string) (map[string]any, error) {
	zerolog.Ctx(ctx).Debug().Str("mime", mime).Int("manifest_size", len(manifest)).Msg("read sidecar manifest store")

	store, err := c2pa.ReadFromManifestAndMemory(ctx, manifest, mime, asset)
	if err != nil {
		return nil, readError(err)
	}
	return hostStore(store)
}

func hostStore(store *c2pa.ManifestStore) (map[string]any, error) {
	v, err := toHostValue(store)
	if err != nil {
		return nil, newError(KindHostConversion, "read", err)
	}
	return v, nil
}
