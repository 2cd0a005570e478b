package cms

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ContentInfo represents the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents CMS SignedData (RFC 5652 Section 5).
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     rawCertificates `asn1:"optional,tag:0"`
	CRLs             []asn1.RawValue `asn1:"optional,set,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// rawCertificates is used to handle the IMPLICIT tag [0] for certificates.
type rawCertificates struct {
	Raw asn1.RawContent
}

// EncapsulatedContentInfo represents the content being signed (RFC 5652 Section 5.2).
// EContent is [0] EXPLICIT OCTET STRING; the tagging is carried in the RawValue.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional"`
}

// SignerInfo contains the signature and related info (RFC 5652 Section 5.3).
// SID is IssuerAndSerialNumber directly because SignerIdentifier is a CHOICE.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// Content returns the encapsulated content bytes, unwrapping the
// [0] EXPLICIT OCTET STRING when present.
func (sd *SignedData) Content() ([]byte, error) {
	ec := sd.EncapContentInfo.EContent
	if len(ec.FullBytes) == 0 && len(ec.Bytes) == 0 {
		return nil, NewCMSError("parse", ErrInvalidContent)
	}
	if ec.Tag == asn1.TagOctetString && ec.Class == asn1.ClassUniversal {
		return ec.Bytes, nil
	}

	var content []byte
	if _, err := asn1.Unmarshal(ec.Bytes, &content); err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("%w: %v", ErrInvalidContent, err))
	}
	return content, nil
}

// X509Certificates parses the optional certificate set.
func (sd *SignedData) X509Certificates() ([]*x509.Certificate, error) {
	if len(sd.Certificates.Raw) == 0 {
		return nil, nil
	}
	var set asn1.RawValue
	if _, err := asn1.Unmarshal(sd.Certificates.Raw, &set); err != nil {
		return nil, NewCMSError("parse", err)
	}
	certs, err := x509.ParseCertificates(set.Bytes)
	if err != nil {
		return nil, NewCMSError("parse", err)
	}
	return certs, nil
}

// NewSignedData wraps content in a SignedData ContentInfo with the given
// certificates and no signer infos. The result is a structurally valid
// token container, not a signature.
func NewSignedData(contentType asn1.ObjectIdentifier, content []byte, certs [][]byte) ([]byte, error) {
	octets, err := asn1.Marshal(content)
	if err != nil {
		return nil, NewCMSError("encode", err)
	}

	sd := SignedData{
		Version:          3,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{},
		EncapContentInfo: EncapsulatedContentInfo{
			EContentType: contentType,
			EContent: asn1.RawValue{
				Class:      asn1.ClassContextSpecific,
				Tag:        0,
				IsCompound: true,
				Bytes:      octets,
			},
		},
		SignerInfos: []SignerInfo{},
	}

	if len(certs) > 0 {
		var all []byte
		for _, c := range certs {
			all = append(all, c...)
		}
		raw, err := asn1.Marshal(asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      all,
		})
		if err != nil {
			return nil, NewCMSError("encode", err)
		}
		sd.Certificates = rawCertificates{Raw: raw}
	}

	inner, err := asn1.Marshal(sd)
	if err != nil {
		return nil, NewCMSError("encode", err)
	}

	out, err := asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{FullBytes: mustExplicit(inner)},
	})
	if err != nil {
		return nil, NewCMSError("encode", err)
	}
	return out, nil
}

// mustExplicit wraps DER in an [0] EXPLICIT tag.
func mustExplicit(der []byte) []byte {
	out, _ := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      der,
	})
	return out
}
