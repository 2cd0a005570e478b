package signer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/pkg/c2pa"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// ReserveOverhead is the fixed part of the reserve size: headroom for any
// supported signature plus COSE framing. Certificate bytes come on top.
const ReserveOverhead = 8192

// RemoteSigner implements c2pa.AsyncSigner over host callbacks.
//
// A RemoteSigner belongs to a single signing request. It is stateless between
// calls but is not safe for concurrent use and must not outlive the request
// that created it.
type RemoteSigner struct {
	alg       pcrypto.SigningAlgorithm
	certs     [][]byte
	callbacks Callbacks
	logger    zerolog.Logger
}

var _ c2pa.AsyncSigner = (*RemoteSigner)(nil)

// Option configures a RemoteSigner.
type Option func(*RemoteSigner)

// WithLogger sets the logger used for timestamp degradation events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *RemoteSigner) { s.logger = l }
}

// New creates a RemoteSigner. The certificate chain (leaf first) is copied.
// An empty chain is accepted; the engine rejects it when signing.
func New(alg pcrypto.SigningAlgorithm, callbacks Callbacks, certs [][]byte, opts ...Option) (*RemoteSigner, error) {
	if !alg.IsValid() {
		return nil, fmt.Errorf("%w: %q", pcrypto.ErrUnsupportedAlgorithm, alg)
	}
	if err := callbacks.Validate(); err != nil {
		return nil, err
	}

	s := &RemoteSigner{
		alg:       alg,
		certs:     cloneChain(certs),
		callbacks: callbacks,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Alg returns the signing algorithm.
func (s *RemoteSigner) Alg() pcrypto.SigningAlgorithm {
	return s.alg
}

// Certs returns a copy of the certificate chain.
func (s *RemoteSigner) Certs() ([][]byte, error) {
	return cloneChain(s.certs), nil
}

// ReserveSize returns ReserveOverhead plus the total certificate length.
func (s *RemoteSigner) ReserveSize() int {
	n := ReserveOverhead
	for _, c := range s.certs {
		n += len(c)
	}
	return n
}

// Sign digests payload with the digest callback, then signs the digest with
// the sign callback. Neither call is retried.
func (s *RemoteSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	digest, err := invokeWithBuffer(ctx, CallbackDigest, s.callbacks.Digest, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDigestFailure, err)
	}

	sig, err := invokeWithBuffer(ctx, CallbackSign, s.callbacks.Sign, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailure, err)
	}
	return sig, nil
}

// SendTimestampRequest builds an RFC 3161 request for message and posts it
// through the timestamp callback.
//
// It returns nil when no timestamp callback is configured, and also when the
// digest or the nonce cannot be obtained (callback failure, wrong length):
// the signature then goes out without a timestamp. An encoding failure, or
// the timestamp callback's own outcome, is returned as a TimestampResult.
// The result carries the request so the engine can match the token to it.
func (s *RemoteSigner) SendTimestampRequest(ctx context.Context, message []byte) *c2pa.TimestampResult {
	if s.callbacks.Timestamp == nil {
		return nil
	}

	digest, nonce, err := s.timestampInputs(ctx, message)
	if err != nil {
		s.logger.Debug().Err(err).Str("alg", s.alg.String()).Msg("timestamp skipped")
		return nil
	}

	body, err := tsa.BuildRequest(s.alg, digest, nonce)
	if err != nil {
		return &c2pa.TimestampResult{Err: err}
	}

	resp, err := invokeWithBuffer(ctx, CallbackTimestamp, s.callbacks.Timestamp, body)
	if err != nil {
		return &c2pa.TimestampResult{Request: body, Err: err}
	}
	return &c2pa.TimestampResult{Request: body, Response: resp}
}

// timestampInputs gathers the digest and nonce bytes of a timestamp request.
func (s *RemoteSigner) timestampInputs(ctx context.Context, message []byte) ([]byte, [tsa.NonceSize]byte, error) {
	var nonce [tsa.NonceSize]byte

	digest, err := invokeWithBuffer(ctx, CallbackDigest, s.callbacks.Digest, message)
	if err != nil {
		return nil, nonce, err
	}
	if want := pcrypto.DigestOf(s.alg).Size(); len(digest) != want {
		return nil, nonce, fmt.Errorf("digest length %d, want %d", len(digest), want)
	}

	random, err := invokeWithValue(ctx, CallbackRandom, func(ctx context.Context) ([]byte, error) {
		return s.callbacks.Random(ctx, tsa.NonceSize)
	})
	if err != nil {
		return nil, nonce, err
	}
	if len(random) != tsa.NonceSize {
		return nil, nonce, fmt.Errorf("random returned %d bytes, want %d", len(random), tsa.NonceSize)
	}

	copy(nonce[:], random)
	return digest, nonce, nil
}

func cloneChain(certs [][]byte) [][]byte {
	out := make([][]byte, len(certs))
	for i, c := range certs {
		out[i] = append([]byte(nil), c...)
	}
	return out
}
