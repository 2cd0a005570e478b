// Package dto provides Data Transfer Objects for the REST API.
package dto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/remiblancher/provkit/pkg/toolkit"
)

// BinaryData carries binary content in JSON.
type BinaryData struct {
	// Data is the encoded content.
	Data string `json:"data"`

	// Encoding is "base64" (default, any alphabet or padding) or "text".
	Encoding string `json:"encoding,omitempty"`
}

// NewBinaryData encodes b as standard base64.
func NewBinaryData(b []byte) BinaryData {
	return BinaryData{Data: base64.StdEncoding.EncodeToString(b), Encoding: "base64"}
}

// Decode returns the raw bytes. Failures are toolkit InputDecode errors
// naming field.
func (b *BinaryData) Decode(field string) ([]byte, error) {
	if b == nil || b.Data == "" {
		return nil, toolkit.InputError(field, errors.New("value is required"))
	}
	switch b.Encoding {
	case "", "base64":
		return toolkit.DecodeBinary(field, b.Data)
	case "text":
		return []byte(b.Data), nil
	default:
		return nil, toolkit.InputError(field, fmt.Errorf("unsupported encoding %q", b.Encoding))
	}
}

// APIError is the error document of every failed request.
type APIError struct {
	// Code is the machine tag, e.g. "Toolkit(ManifestRead)".
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services,omitempty"`
}

type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks,omitempty"`
}
