// Package signer implements the remote asynchronous signer: a c2pa.AsyncSigner
// whose key operations are delegated to host-supplied callbacks (typically a
// key vault). The package holds no key material.
package signer

import (
	"context"
	"errors"
	"fmt"
)

// BufferFunc is a host callback that takes a byte buffer and resolves with
// a byte buffer.
type BufferFunc func(ctx context.Context, data []byte) ([]byte, error)

// RandomFunc is a host callback that resolves with n bytes of entropy.
type RandomFunc func(ctx context.Context, n int) ([]byte, error)

// Callbacks is the bundle of host primitives a RemoteSigner is built on.
// Sign, Digest and Random are required; Timestamp is optional.
type Callbacks struct {
	// Sign signs a digest and returns the signature.
	Sign BufferFunc

	// Digest returns the cryptographic digest of a buffer, computed with
	// the digest algorithm of the signer's algorithm.
	Digest BufferFunc

	// Random returns exactly n random bytes.
	Random RandomFunc

	// Timestamp posts a DER TimeStampReq to an RFC 3161 responder and
	// returns the DER TimeStampResp.
	Timestamp BufferFunc
}

// Callback names used in errors.
const (
	CallbackSign      = "sign"
	CallbackDigest    = "digest"
	CallbackRandom    = "random"
	CallbackTimestamp = "timestamp"
)

// Validate checks that the required callbacks are present.
func (c Callbacks) Validate() error {
	var missing []string
	if c.Sign == nil {
		missing = append(missing, CallbackSign)
	}
	if c.Digest == nil {
		missing = append(missing, CallbackDigest)
	}
	if c.Random == nil {
		missing = append(missing, CallbackRandom)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingCallback, missing)
	}
	return nil
}

// CallbackError reports a host callback that rejected, panicked or resolved
// with something other than a byte buffer.
type CallbackError struct {
	Callback string // "sign", "digest", "random" or "timestamp"
	Err      error
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback failed: %v", e.Callback, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CallbackError) Unwrap() error { return e.Err }

// Sentinel errors for signer operations.
var (
	// ErrDigestFailure wraps a failed digest callback during Sign.
	ErrDigestFailure = errors.New("digest failure")

	// ErrSignFailure wraps a failed sign callback during Sign.
	ErrSignFailure = errors.New("sign failure")

	// ErrMissingCallback indicates a required callback was not supplied.
	ErrMissingCallback = errors.New("missing callback")

	// ErrNotBuffer indicates a callback resolved without a byte buffer.
	ErrNotBuffer = errors.New("callback did not resolve with a byte buffer")
)

// invokeWithBuffer hands the callback its own copy of data, of exactly the
// same length, and returns a private copy of the result.
func invokeWithBuffer(ctx context.Context, name string, cb BufferFunc, data []byte) ([]byte, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	return invokeWithValue(ctx, name, func(ctx context.Context) ([]byte, error) {
		return cb(ctx, buf)
	})
}

// invokeWithValue runs a bound callback and converts every way it can fail
// into a *CallbackError.
func invokeWithValue(ctx context.Context, name string, call func(context.Context) ([]byte, error)) (out []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &CallbackError{Callback: name, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &CallbackError{Callback: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	res, cbErr := call(ctx)
	if cbErr != nil {
		return nil, &CallbackError{Callback: name, Err: cbErr}
	}
	if res == nil {
		return nil, &CallbackError{Callback: name, Err: ErrNotBuffer}
	}

	out = make([]byte, len(res))
	copy(out, res)
	return out, nil
}
