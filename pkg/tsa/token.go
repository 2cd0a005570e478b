package tsa

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/provkit/pkg/cms"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// IsZero returns true if the accuracy is zero.
func (a Accuracy) IsZero() bool {
	return a.Seconds == 0 && a.Millis == 0 && a.Micros == 0
}

// Token represents a timestamp token.
type Token struct {
	Info         *TSTInfo
	SignedData   []byte // CMS ContentInfo carrying the TSTInfo
	Certificates []*x509.Certificate
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData).
func ParseToken(data []byte) (*Token, error) {
	sd, err := cms.ParseSignedData(data)
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	if !sd.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, NewTSAError("parse", fmt.Errorf("%w: unexpected encapsulated content type: %v",
			ErrInvalidToken, sd.EncapContentInfo.EContentType))
	}

	content, err := sd.Content()
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	var info TSTInfo
	if _, err := asn1.Unmarshal(content, &info); err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: failed to parse TSTInfo: %v", ErrInvalidToken, err))
	}

	certs, err := sd.X509Certificates()
	if err != nil {
		return nil, NewTSAError("parse", fmt.Errorf("%w: %w", ErrInvalidToken, err))
	}

	return &Token{
		Info:         &info,
		SignedData:   data,
		Certificates: certs,
	}, nil
}

// NewToken wraps a TSTInfo in a SignedData container with the given
// certificates. The container is unsigned; it is meant for fixtures and
// for relaying tokens whose signature is checked elsewhere.
func NewToken(info *TSTInfo, certs [][]byte) (*Token, error) {
	der, err := asn1.Marshal(*info)
	if err != nil {
		return nil, NewTSAError("encode", err)
	}
	sd, err := cms.NewSignedData(cms.OIDTSTInfo, der, certs)
	if err != nil {
		return nil, NewTSAError("encode", err)
	}
	return ParseToken(sd)
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the serial number of the token.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// Nonce returns the nonce echoed by the TSA, if any.
func (t *Token) Nonce() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.Nonce
}

// Issuer returns the common name of the first certificate in the token.
func (t *Token) Issuer() string {
	if len(t.Certificates) == 0 {
		return ""
	}
	return t.Certificates[0].Subject.CommonName
}

// DigestAlgorithm returns the digest algorithm used in the message imprint.
func (t *Token) DigestAlgorithm() (pcrypto.DigestAlgorithm, error) {
	if t.Info == nil {
		return 0, fmt.Errorf("no TSTInfo")
	}
	return pcrypto.DigestFromOID(t.Info.MessageImprint.HashAlgorithm.Algorithm)
}

// HashedMessage returns the hashed message from the message imprint.
func (t *Token) HashedMessage() []byte {
	if t.Info == nil {
		return nil
	}
	return t.Info.MessageImprint.HashedMessage
}
