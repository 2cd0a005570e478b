package tsa

import (
	"errors"
	"fmt"
)

// TSAError represents a Time-Stamp Protocol error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type TSAError struct {
	Op  string // Operation: "encode", "parse", "match"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *TSAError) Error() string {
	return fmt.Sprintf("tsa %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TSAError) Unwrap() error { return e.Err }

// NewTSAError creates a new TSAError with the given operation and error.
func NewTSAError(op string, err error) *TSAError {
	return &TSAError{Op: op, Err: err}
}

// Sentinel errors for TSA operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrEncode indicates the timestamp request could not be DER-encoded.
	ErrEncode = errors.New("timestamp request encoding failed")

	// ErrInvalidRequest indicates the timestamp request is malformed.
	ErrInvalidRequest = errors.New("invalid timestamp request")

	// ErrInvalidResponse indicates the timestamp response is malformed.
	ErrInvalidResponse = errors.New("invalid timestamp response")

	// ErrNotGranted indicates the TSA rejected the request.
	ErrNotGranted = errors.New("timestamp not granted")

	// ErrHashMismatch indicates the message imprint does not match the request.
	ErrHashMismatch = errors.New("message digest mismatch")

	// ErrNonceMismatch indicates the nonce in response does not match request.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrUnsupportedHashAlgorithm indicates the hash algorithm is not supported.
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

	// ErrInvalidToken indicates the timestamp token is invalid.
	ErrInvalidToken = errors.New("invalid timestamp token")
)
