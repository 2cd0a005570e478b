package dto

import "encoding/json"

// ReadManifestRequest reads the manifest store embedded in an asset.
type ReadManifestRequest struct {
	Asset    BinaryData `json:"asset"`
	MimeType string     `json:"mime_type"`
}

// ReadSidecarRequest validates a detached manifest store against an asset.
type ReadSidecarRequest struct {
	Manifest BinaryData `json:"manifest"`
	Asset    BinaryData `json:"asset"`
	MimeType string     `json:"mime_type"`
}

// AssertionInput is one assertion of a sign request. Value is any JSON
// document.
type AssertionInput struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// SignAssetRequest signs an asset with the configured key vault.
type SignAssetRequest struct {
	Asset    BinaryData `json:"asset"`
	MimeType string     `json:"mime_type"`

	// Alg must match the configured algorithm when set.
	Alg string `json:"alg,omitempty"`

	Assertions      []AssertionInput `json:"assertions,omitempty"`
	Thumbnail       *BinaryData      `json:"thumbnail,omitempty"`
	ThumbnailFormat string           `json:"thumbnail_format,omitempty"`
}

type SignAssetResponse struct {
	Asset    BinaryData `json:"asset"`
	MimeType string     `json:"mime_type"`
	Alg      string     `json:"alg"`
	Size     int        `json:"size"`
}
