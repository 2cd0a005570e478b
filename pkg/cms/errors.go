package cms

import (
	"errors"
	"fmt"
)

// CMSError represents a CMS operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type CMSError struct {
	Op  string // Operation: "parse", "encode"
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *CMSError) Error() string {
	return fmt.Sprintf("cms %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CMSError) Unwrap() error { return e.Err }

// NewCMSError creates a new CMSError with the given operation and error.
func NewCMSError(op string, err error) *CMSError {
	return &CMSError{Op: op, Err: err}
}

// Sentinel errors for CMS operations.
var (
	// ErrInvalidContent indicates the CMS content is malformed.
	ErrInvalidContent = errors.New("invalid CMS content")

	// ErrNoCertificate indicates no certificate was found in the CMS structure.
	ErrNoCertificate = errors.New("no certificate found")
)
