// Package tsa implements the client side of the RFC 3161 Time-Stamp Protocol:
// request encoding, response and token parsing.
package tsa

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"math/big"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// NonceSize is the number of random bytes that make up a request nonce.
const NonceSize = 8

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// NonceFromRandom interprets 8 random bytes as a little-endian unsigned
// 64-bit integer.
func NonceFromRandom(random [NonceSize]byte) *big.Int {
	return new(big.Int).SetUint64(binary.LittleEndian.Uint64(random[:]))
}

// BuildRequest encodes the DER TimeStampReq for a digest produced with the
// digest algorithm of alg. The request is version 1, carries the nonce
// derived from random, asks for the TSA certificate and has neither a policy
// nor extensions.
func BuildRequest(alg pcrypto.SigningAlgorithm, digest []byte, random [NonceSize]byte) ([]byte, error) {
	oid := pcrypto.DigestOf(alg).OID()
	if oid == nil {
		return nil, NewTSAError("encode", fmt.Errorf("%w: %w", ErrEncode, pcrypto.ErrUnsupportedAlgorithm))
	}

	req := TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oid},
			HashedMessage: digest,
		},
		Nonce:   NonceFromRandom(random),
		CertReq: true,
	}

	der, err := req.Marshal()
	if err != nil {
		return nil, NewTSAError("encode", fmt.Errorf("%w: %w", ErrEncode, err))
	}
	return der, nil
}

// ParseRequest parses a DER-encoded TimeStampReq.
func ParseRequest(data []byte) (*TimeStampReq, error) {
	var req TimeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	if len(rest) > 0 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: trailing data after TimeStampReq", ErrInvalidRequest))
	}

	if req.Version != 1 {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unsupported TSP version: %d", ErrInvalidRequest, req.Version))
	}

	digest, err := req.DigestAlgorithm()
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %v", ErrUnsupportedHashAlgorithm, err))
	}

	if len(req.MessageImprint.HashedMessage) != digest.Size() {
		return nil, NewTSAError("parse", fmt.Errorf("%w: hash length mismatch: got %d, expected %d",
			ErrInvalidRequest, len(req.MessageImprint.HashedMessage), digest.Size()))
	}

	return &req, nil
}

// DigestAlgorithm returns the digest algorithm of the message imprint.
func (r *TimeStampReq) DigestAlgorithm() (pcrypto.DigestAlgorithm, error) {
	return pcrypto.DigestFromOID(r.MessageImprint.HashAlgorithm.Algorithm)
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}
