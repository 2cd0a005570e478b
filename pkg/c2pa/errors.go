package c2pa

import (
	"errors"
	"fmt"
)

// EngineError represents a manifest engine failure with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type EngineError struct {
	Op  string // Operation: "assertion", "thumbnail", "ingredient", "embed", "read"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("c2pa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError creates a new EngineError with the given operation and error.
func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

// RemoteManifestError is returned when an asset references its manifest
// store by URL instead of embedding it.
type RemoteManifestError struct {
	URL string
}

// Error implements the error interface.
func (e *RemoteManifestError) Error() string {
	return fmt.Sprintf("manifest store is remote: %s", e.URL)
}

// Sentinel errors for engine operations.
var (
	// ErrUnsupportedFormat indicates no container handler exists for the MIME type.
	ErrUnsupportedFormat = errors.New("unsupported asset format")

	// ErrInvalidAsset indicates the asset bytes do not parse as the declared format.
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrManifestNotFound indicates the asset carries no manifest store.
	ErrManifestNotFound = errors.New("manifest store not found")

	// ErrInvalidManifest indicates the manifest store could not be decoded.
	ErrInvalidManifest = errors.New("invalid manifest store")

	// ErrInvalidAssertion indicates an assertion label or value was rejected.
	ErrInvalidAssertion = errors.New("invalid assertion")

	// ErrInvalidThumbnail indicates the thumbnail format or bytes were rejected.
	ErrInvalidThumbnail = errors.New("invalid thumbnail")

	// ErrMissingCertificates indicates the signer returned no certificate chain.
	ErrMissingCertificates = errors.New("signer has no certificates")

	// ErrSignatureTooLarge indicates the claim signature exceeds the signer's reserve size.
	ErrSignatureTooLarge = errors.New("claim signature exceeds reserved size")

	// ErrTimestamp indicates the timestamp authority response could not be used.
	ErrTimestamp = errors.New("timestamp failed")
)
