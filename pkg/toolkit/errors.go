package toolkit

import (
	"errors"
	"fmt"

	"github.com/remiblancher/provkit/pkg/c2pa"
	"github.com/remiblancher/provkit/pkg/signer"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// Kind classifies toolkit errors. A Kind is itself an error so that
// errors.Is(err, toolkit.KindManifestRead) works on any wrapped *Error.
type Kind string

// Error kinds.
const (
	KindInputDecode          Kind = "InputDecode"
	KindUnsupportedAlgorithm Kind = "UnsupportedAlgorithm"
	KindAssertionParse       Kind = "AssertionParse"
	KindManifestAssertion    Kind = "ManifestAssertion"
	KindManifestThumbnail    Kind = "ManifestThumbnail"
	KindManifestEmbed        Kind = "ManifestEmbed"
	KindManifestRead         Kind = "ManifestRead"
	KindRemoteManifestURL    Kind = "RemoteManifestUrl"
	KindCallbackFailure      Kind = "CallbackFailure"
	KindTimestampEncode      Kind = "TimestampEncode"
	KindHostConversion       Kind = "HostConversion"
)

// Error implements the error interface.
func (k Kind) Error() string {
	return k.Tag()
}

// Tag returns the machine tag, e.g. "Toolkit(ManifestRead)".
func (k Kind) Tag() string {
	return "Toolkit(" + string(k) + ")"
}

// Error is the error type returned by every toolkit operation.
type Error struct {
	Kind Kind
	Op   string // phase or callback name
	URL  string // set for KindRemoteManifestURL
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind.Tag(), e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind.Tag(), e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Tag returns the machine tag of the error kind.
func (e *Error) Tag() string {
	return e.Kind.Tag()
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InputError reports a host input field that could not be decoded.
func InputError(field string, err error) error {
	return newError(KindInputDecode, field, err)
}

// KindOf returns the Kind of err, or "" when err is not a toolkit error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// embedError classifies a failure of the embed phase. Callback failures and
// timestamp encoding failures keep their own kind.
func embedError(err error) error {
	var cbErr *signer.CallbackError
	switch {
	case errors.As(err, &cbErr):
		return newError(KindCallbackFailure, cbErr.Callback, err)
	case errors.Is(err, tsa.ErrEncode):
		return newError(KindTimestampEncode, "timestamp", err)
	default:
		return newError(KindManifestEmbed, "embed", err)
	}
}

// readError classifies a failure of the read phase.
func readError(err error) error {
	var remote *c2pa.RemoteManifestError
	if errors.As(err, &remote) {
		return &Error{Kind: KindRemoteManifestURL, Op: "read", URL: remote.URL, Err: err}
	}
	return newError(KindManifestRead, "read", err)
}
