package c2pa

import (
	"context"
	"io"

	gocose "github.com/veraison/go-cose"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// AsyncSigner produces claim signatures on behalf of the engine. Every method
// that may reach a remote key holder takes a context.
type AsyncSigner interface {
	// Alg returns the signature algorithm.
	Alg() pcrypto.SigningAlgorithm

	// Certs returns the DER certificate chain, leaf first.
	Certs() ([][]byte, error)

	// ReserveSize returns the number of bytes reserved for the encoded
	// claim signature.
	ReserveSize() int

	// Sign signs the COSE to-be-signed bytes.
	Sign(ctx context.Context, data []byte) ([]byte, error)

	// SendTimestampRequest asks a timestamp authority to stamp message.
	// A nil result means no timestamp is available and signing proceeds
	// without one.
	SendTimestampRequest(ctx context.Context, message []byte) *TimestampResult
}

// TimestampResult carries the outcome of a timestamp request that was
// actually sent: either the DER TimeStampResp or the transport failure.
// Request, when set, is the DER TimeStampReq the response must answer.
type TimestampResult struct {
	Request  []byte
	Response []byte
	Err      error
}

// coseSigner adapts an AsyncSigner to the go-cose Signer interface for the
// duration of one signing operation.
type coseSigner struct {
	ctx    context.Context
	signer AsyncSigner
	alg    gocose.Algorithm
}

var _ gocose.Signer = (*coseSigner)(nil)

// Algorithm returns the COSE algorithm.
func (s *coseSigner) Algorithm() gocose.Algorithm {
	return s.alg
}

// Sign forwards the to-be-signed bytes to the asynchronous signer.
func (s *coseSigner) Sign(_ io.Reader, content []byte) ([]byte, error) {
	return s.signer.Sign(s.ctx, content)
}
