package signer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// =============================================================================
// Test Helpers
// =============================================================================

// spy records callback invocations in order.
type spy struct {
	log []string

	digestErr error
	signErr   error
	random    []byte
	randomErr error
	tsaResp   []byte
	tsaErr    error
	tsaBodies [][]byte
}

func (s *spy) callbacks(withTimestamp bool) Callbacks {
	cb := Callbacks{
		Digest: func(_ context.Context, data []byte) ([]byte, error) {
			s.log = append(s.log, fmt.Sprintf("digest(%s)", data))
			if s.digestErr != nil {
				return nil, s.digestErr
			}
			sum := sha256.Sum256(data)
			return sum[:], nil
		},
		Sign: func(_ context.Context, data []byte) ([]byte, error) {
			s.log = append(s.log, fmt.Sprintf("sign(<%d-byte hash>)", len(data)))
			if s.signErr != nil {
				return nil, s.signErr
			}
			out := slices.Clone(data)
			slices.Reverse(out)
			return out, nil
		},
		Random: func(_ context.Context, n int) ([]byte, error) {
			s.log = append(s.log, fmt.Sprintf("random(%d)", n))
			if s.randomErr != nil {
				return nil, s.randomErr
			}
			if s.random != nil {
				return s.random, nil
			}
			return []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil
		},
	}
	if withTimestamp {
		cb.Timestamp = func(_ context.Context, body []byte) ([]byte, error) {
			s.log = append(s.log, "timestamp")
			s.tsaBodies = append(s.tsaBodies, body)
			if s.tsaErr != nil {
				return nil, s.tsaErr
			}
			return s.tsaResp, nil
		}
	}
	return cb
}

func newSpySigner(t *testing.T, alg pcrypto.SigningAlgorithm, s *spy, withTimestamp bool, certs ...[]byte) *RemoteSigner {
	t.Helper()
	rs, err := New(alg, s.callbacks(withTimestamp), certs)
	require.NoError(t, err)
	return rs
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestU_New_Validation(t *testing.T) {
	s := &spy{}

	_, err := New(pcrypto.SigningAlgorithm("rsa1024"), s.callbacks(false), nil)
	assert.ErrorIs(t, err, pcrypto.ErrUnsupportedAlgorithm)

	cb := s.callbacks(false)
	cb.Random = nil
	_, err = New(pcrypto.ES256, cb, nil)
	assert.ErrorIs(t, err, ErrMissingCallback)

	_, err = New(pcrypto.ES256, Callbacks{}, nil)
	assert.ErrorIs(t, err, ErrMissingCallback)

	assert.Empty(t, s.log)
}

func TestU_RemoteSigner_Alg(t *testing.T) {
	for _, alg := range pcrypto.AllSigningAlgorithms() {
		rs := newSpySigner(t, alg, &spy{}, false)
		assert.Equal(t, alg, rs.Alg())
	}
}

// =============================================================================
// Certificate and Reserve Size Tests
// =============================================================================

func TestU_RemoteSigner_ReserveSize(t *testing.T) {
	c1 := bytes.Repeat([]byte{1}, 1200)
	c2 := bytes.Repeat([]byte{2}, 1400)
	rs := newSpySigner(t, pcrypto.ES256, &spy{}, false, c1, c2)
	assert.Equal(t, 10792, rs.ReserveSize())

	assert.Equal(t, 8192, newSpySigner(t, pcrypto.ES256, &spy{}, false).ReserveSize())
}

func TestU_RemoteSigner_ReserveSizeSum(t *testing.T) {
	for n := 0; n < 6; n++ {
		var certs [][]byte
		total := 0
		for i := 0; i < n; i++ {
			c := make([]byte, 100*(i+1)+n)
			certs = append(certs, c)
			total += len(c)
		}
		rs := newSpySigner(t, pcrypto.PS256, &spy{}, false, certs...)
		assert.Equal(t, ReserveOverhead+total, rs.ReserveSize())
	}
}

func TestU_RemoteSigner_CertsAreCopies(t *testing.T) {
	cert := []byte{0x30, 0x01, 0x00}
	rs := newSpySigner(t, pcrypto.ES256, &spy{}, false, cert)

	cert[0] = 0xFF
	got, err := rs.Certs()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, byte(0x30), got[0][0])

	got[0][0] = 0xEE
	again, err := rs.Certs()
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), again[0][0])
}

// =============================================================================
// Sign Tests
// =============================================================================

func TestU_RemoteSigner_SignOrder(t *testing.T) {
	s := &spy{}
	rs := newSpySigner(t, pcrypto.ES256, s, true)

	sig, err := rs.Sign(context.Background(), []byte("hello"))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello"))
	want := slices.Clone(sum[:])
	slices.Reverse(want)
	assert.Equal(t, want, sig)
	assert.Equal(t, []string{"digest(hello)", "sign(<32-byte hash>)"}, s.log)
}

func TestU_RemoteSigner_SignNoCaching(t *testing.T) {
	s := &spy{}
	rs := newSpySigner(t, pcrypto.ES256, s, false)

	_, err := rs.Sign(context.Background(), []byte("a"))
	require.NoError(t, err)
	_, err = rs.Sign(context.Background(), []byte("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"digest(a)", "sign(<32-byte hash>)",
		"digest(a)", "sign(<32-byte hash>)",
	}, s.log)
}

func TestU_RemoteSigner_SignDigestFailure(t *testing.T) {
	s := &spy{digestErr: errors.New("vault down")}
	rs := newSpySigner(t, pcrypto.ES256, s, false)

	_, err := rs.Sign(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrDigestFailure)

	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, CallbackDigest, cbErr.Callback)
	assert.Equal(t, []string{"digest(x)"}, s.log, "sign must not run after a digest failure")
}

func TestU_RemoteSigner_SignFailure(t *testing.T) {
	s := &spy{signErr: errors.New("denied")}
	rs := newSpySigner(t, pcrypto.ES256, s, false)

	_, err := rs.Sign(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrSignFailure)

	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, CallbackSign, cbErr.Callback)
	assert.Len(t, s.log, 2, "no retry")
}

func TestU_RemoteSigner_SignCancelled(t *testing.T) {
	s := &spy{}
	rs := newSpySigner(t, pcrypto.ES256, s, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rs.Sign(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.log)
}

// =============================================================================
// Timestamp Tests
// =============================================================================

func TestU_Timestamp_NoCallback(t *testing.T) {
	s := &spy{}
	rs := newSpySigner(t, pcrypto.ES256, s, false)

	for _, m := range [][]byte{[]byte("x"), nil, bytes.Repeat([]byte{9}, 4096)} {
		assert.Nil(t, rs.SendTimestampRequest(context.Background(), m))
	}
	assert.Empty(t, s.log)
}

func TestU_Timestamp_Success(t *testing.T) {
	s := &spy{tsaResp: []byte{0x30, 0x03, 0x02, 0x01, 0x00}}
	rs := newSpySigner(t, pcrypto.ES256, s, true)

	result := rs.SendTimestampRequest(context.Background(), []byte("claim"))
	require.NotNil(t, result)
	require.NoError(t, result.Err)
	assert.Equal(t, s.tsaResp, result.Response)
	assert.Equal(t, []string{"digest(claim)", "random(8)", "timestamp"}, s.log)

	require.Len(t, s.tsaBodies, 1)
	assert.Equal(t, s.tsaBodies[0], result.Request)
	req, err := tsa.ParseRequest(s.tsaBodies[0])
	require.NoError(t, err)
	assert.Equal(t, 1, req.Version)
	assert.True(t, req.CertReq)
	assert.Nil(t, req.ReqPolicy)
	assert.Empty(t, req.Extensions)
	assert.Equal(t, uint64(578437695752307201), req.Nonce.Uint64())

	sum := sha256.Sum256([]byte("claim"))
	assert.Equal(t, sum[:], req.MessageImprint.HashedMessage)
	assert.True(t, req.MessageImprint.HashAlgorithm.Algorithm.Equal(pcrypto.OIDSHA256))
}

func TestU_Timestamp_ShortRandom(t *testing.T) {
	for _, n := range []int{0, 1, 7, 9} {
		s := &spy{random: make([]byte, n)}
		rs := newSpySigner(t, pcrypto.ES256, s, true)

		assert.Nil(t, rs.SendTimestampRequest(context.Background(), []byte("m")), "random of %d bytes", n)
		assert.NotContains(t, s.log, "timestamp")
	}
}

func TestU_Timestamp_RandomFailure(t *testing.T) {
	s := &spy{randomErr: errors.New("no entropy")}
	rs := newSpySigner(t, pcrypto.ES256, s, true)

	assert.Nil(t, rs.SendTimestampRequest(context.Background(), []byte("m")))
	assert.NotContains(t, s.log, "timestamp")
}

func TestU_Timestamp_DigestFailure(t *testing.T) {
	s := &spy{digestErr: errors.New("vault down")}
	rs := newSpySigner(t, pcrypto.ES256, s, true)

	assert.Nil(t, rs.SendTimestampRequest(context.Background(), []byte("m")))
	assert.Equal(t, []string{"digest(m)"}, s.log)
}

func TestU_Timestamp_DigestLengthMismatch(t *testing.T) {
	// The spy digest is SHA-256, which does not fit ES512.
	s := &spy{}
	rs := newSpySigner(t, pcrypto.ES512, s, true)

	assert.Nil(t, rs.SendTimestampRequest(context.Background(), []byte("m")))
	assert.NotContains(t, s.log, "timestamp")
}

func TestU_Timestamp_CallbackFailurePreserved(t *testing.T) {
	tsaErr := errors.New("tsa returned 503")
	s := &spy{tsaErr: tsaErr}
	rs := newSpySigner(t, pcrypto.ES256, s, true)

	result := rs.SendTimestampRequest(context.Background(), []byte("m"))
	require.NotNil(t, result)
	assert.Nil(t, result.Response)
	assert.ErrorIs(t, result.Err, tsaErr)

	var cbErr *CallbackError
	require.True(t, errors.As(result.Err, &cbErr))
	assert.Equal(t, CallbackTimestamp, cbErr.Callback)
}

func TestU_Timestamp_SHA512Digest(t *testing.T) {
	s := &spy{tsaResp: []byte{1}}
	cb := s.callbacks(true)
	cb.Digest = func(_ context.Context, data []byte) ([]byte, error) {
		sum := sha512.Sum512(data)
		return sum[:], nil
	}
	rs, err := New(pcrypto.ED25519, cb, nil)
	require.NoError(t, err)

	result := rs.SendTimestampRequest(context.Background(), []byte("m"))
	require.NotNil(t, result)
	require.NoError(t, result.Err)

	req, err := tsa.ParseRequest(s.tsaBodies[0])
	require.NoError(t, err)
	assert.True(t, req.MessageImprint.HashAlgorithm.Algorithm.Equal(pcrypto.OIDSHA512))
	assert.Len(t, req.MessageImprint.HashedMessage, 64)
}
