// Package service provides business logic for the REST API.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/internal/api/dto"
	apierrors "github.com/remiblancher/provkit/internal/api/errors"
	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/internal/keyvault"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/toolkit"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// ProvenanceService signs assets and reads manifest stores. Without a key
// vault bundle it serves reads only.
type ProvenanceService struct {
	bundle *keyvault.Bundle
}

func NewProvenanceService(bundle *keyvault.Bundle) *ProvenanceService {
	return &ProvenanceService{bundle: bundle}
}

func (s *ProvenanceService) SigningEnabled() bool {
	return s.bundle != nil
}

// Read returns the manifest store embedded in the asset.
func (s *ProvenanceService) Read(ctx context.Context, req *dto.ReadManifestRequest) (map[string]any, error) {
	asset, err := req.Asset.Decode("asset")
	if err != nil {
		return nil, err
	}
	store, err := toolkit.GetManifestStoreFromArrayBuffer(ctx, asset, req.MimeType)
	return store, logRead(req.MimeType, asset, store, false, err)
}

// ReadSidecar validates a detached manifest store against the asset.
func (s *ProvenanceService) ReadSidecar(ctx context.Context, req *dto.ReadSidecarRequest) (map[string]any, error) {
	manifest, err := req.Manifest.Decode("manifest")
	if err != nil {
		return nil, err
	}
	asset, err := req.Asset.Decode("asset")
	if err != nil {
		return nil, err
	}
	store, err := toolkit.GetManifestStoreFromManifestAndAsset(ctx, manifest, asset, req.MimeType)
	return store, logRead(req.MimeType, asset, store, true, err)
}

// logRead audits a read and returns opErr, or the audit failure.
func logRead(mime string, asset []byte, store map[string]any, sidecar bool, opErr error) error {
	active, _ := store["active_manifest"].(string)
	var remoteURL string
	var te *toolkit.Error
	if errors.As(opErr, &te) {
		remoteURL = te.URL
	}
	if err := audit.LogManifestRead(mime, asset, active, remoteURL, sidecar, opErr); err != nil {
		return err
	}
	return opErr
}

// Sign embeds a new manifest signed through the configured key vault.
func (s *ProvenanceService) Sign(ctx context.Context, req *dto.SignAssetRequest) (*dto.SignAssetResponse, error) {
	if s.bundle == nil {
		return nil, apierrors.ErrSigningDisabled
	}
	if req.Alg != "" {
		alg, err := pcrypto.ParseSigningAlgorithm(req.Alg)
		if err != nil {
			return nil, err
		}
		if alg != s.bundle.Alg {
			return nil, fmt.Errorf("%w: requested %s, key is %s", apierrors.ErrAlgorithmMismatch, alg, s.bundle.Alg)
		}
	}

	asset, err := req.Asset.Decode("asset")
	if err != nil {
		return nil, err
	}

	info := &toolkit.SigningInfo{
		Alg:          s.bundle.Alg.String(),
		Certificates: s.bundle.Certificates,
		Callbacks:    s.bundle.Callbacks(),
	}
	for _, a := range req.Assertions {
		info.Assertions = append(info.Assertions, toolkit.Assertion{Label: a.Label, Value: string(a.Value)})
	}
	if req.Thumbnail != nil {
		if info.Thumbnail, err = req.Thumbnail.Decode("thumbnail"); err != nil {
			return nil, err
		}
		info.ThumbnailFormat = req.ThumbnailFormat
	}

	out, err := toolkit.SignAssetBuffer(ctx, info, asset, req.MimeType)
	if aerr := audit.LogAssetSigned(req.MimeType, asset, info.Alg, len(info.Assertions), err); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("mime", req.MimeType).
		Str("alg", info.Alg).
		Int("size", len(out)).
		Msg("asset signed")

	return &dto.SignAssetResponse{
		Asset:    dto.NewBinaryData(out),
		MimeType: req.MimeType,
		Alg:      info.Alg,
		Size:     len(out),
	}, nil
}

// TimestampRequest builds the TimeStampReq the remote signer would send for
// a digest. Nonce entropy comes from the key vault when one is configured.
func (s *ProvenanceService) TimestampRequest(ctx context.Context, req *dto.TimestampRequestRequest) (*dto.TimestampRequestResponse, error) {
	alg, err := pcrypto.ParseSigningAlgorithm(req.Alg)
	if err != nil {
		return nil, err
	}
	digest, err := req.Digest.Decode("digest")
	if err != nil {
		return nil, err
	}
	if want := pcrypto.DigestOf(alg).Size(); len(digest) != want {
		return nil, toolkit.InputError("digest", fmt.Errorf("%s digest must be %d bytes, got %d", alg, want, len(digest)))
	}

	var random [tsa.NonceSize]byte
	if s.bundle != nil {
		b, err := s.bundle.Vault.Random(ctx, tsa.NonceSize)
		if err != nil {
			return nil, err
		}
		if len(b) != tsa.NonceSize {
			return nil, fmt.Errorf("key vault returned %d random bytes, want %d", len(b), tsa.NonceSize)
		}
		copy(random[:], b)
	} else if _, err := rand.Read(random[:]); err != nil {
		return nil, err
	}

	der, err := tsa.BuildRequest(alg, digest, random)
	if err != nil {
		return nil, toolkit.InputError("digest", err)
	}

	return &dto.TimestampRequestResponse{
		Request:       dto.NewBinaryData(der),
		HashAlgorithm: alg.Digest().String(),
		Nonce:         tsa.NonceFromRandom(random).String(),
	}, nil
}

// InspectTimestampRequest decodes a TimeStampReq.
func (s *ProvenanceService) InspectTimestampRequest(_ context.Context, req *dto.TimestampInspectRequest) (*dto.TimestampInspectResponse, error) {
	der, err := req.Request.Decode("request")
	if err != nil {
		return nil, err
	}
	parsed, err := tsa.ParseRequest(der)
	if err != nil {
		return nil, toolkit.InputError("request", err)
	}
	digestAlg, err := parsed.DigestAlgorithm()
	if err != nil {
		return nil, toolkit.InputError("request", err)
	}

	resp := &dto.TimestampInspectResponse{
		Version:       parsed.Version,
		HashAlgorithm: digestAlg.String(),
		Digest:        hex.EncodeToString(parsed.MessageImprint.HashedMessage),
		CertReq:       parsed.CertReq,
	}
	if parsed.Nonce != nil {
		resp.Nonce = parsed.Nonce.String()
	}
	return resp, nil
}
