// Package errors maps service errors to HTTP status codes and API errors.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/provkit/internal/api/dto"
	"github.com/remiblancher/provkit/pkg/c2pa"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/toolkit"
)

// Error codes that are not toolkit kinds.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeSigningDisabled = "SIGNING_DISABLED"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
)

var (
	// ErrSigningDisabled is returned when the server runs without a key vault.
	ErrSigningDisabled = errors.New("signing is not configured")

	// ErrAlgorithmMismatch is returned when a request names another
	// algorithm than the configured key.
	ErrAlgorithmMismatch = errors.New("algorithm does not match the configured key")
)

var kindStatus = map[toolkit.Kind]int{
	toolkit.KindInputDecode:          http.StatusBadRequest,
	toolkit.KindUnsupportedAlgorithm: http.StatusBadRequest,
	toolkit.KindAssertionParse:       http.StatusBadRequest,
	toolkit.KindManifestAssertion:    http.StatusUnprocessableEntity,
	toolkit.KindManifestThumbnail:    http.StatusUnprocessableEntity,
	toolkit.KindManifestEmbed:        http.StatusUnprocessableEntity,
	toolkit.KindManifestRead:         http.StatusUnprocessableEntity,
	toolkit.KindRemoteManifestURL:    http.StatusUnprocessableEntity,
	toolkit.KindCallbackFailure:      http.StatusBadGateway,
	toolkit.KindTimestampEncode:      http.StatusInternalServerError,
	toolkit.KindHostConversion:       http.StatusInternalServerError,
}

// MapError maps err to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	case errors.Is(err, ErrSigningDisabled):
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodeSigningDisabled, Message: err.Error()}
	case errors.Is(err, ErrAlgorithmMismatch), errors.Is(err, pcrypto.ErrUnsupportedAlgorithm) && toolkit.KindOf(err) == "":
		return http.StatusBadRequest, &dto.APIError{Code: toolkit.KindUnsupportedAlgorithm.Tag(), Message: err.Error()}
	}

	var te *toolkit.Error
	if errors.As(err, &te) {
		status, ok := kindStatus[te.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if te.Kind == toolkit.KindManifestRead && errors.Is(err, c2pa.ErrManifestNotFound) {
			status = http.StatusNotFound
		}
		apiErr := &dto.APIError{Code: te.Tag(), Message: te.Error()}
		if te.Op != "" || te.URL != "" {
			apiErr.Details = map[string]string{}
			if te.Op != "" {
				apiErr.Details["operation"] = te.Op
			}
			if te.URL != "" {
				apiErr.Details["url"] = te.URL
			}
		}
		return status, apiErr
	}

	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{Code: CodeInvalidRequest, Message: message}
}
