// Package crypto provides the signing and digest algorithm tables shared by
// the remote signer, the RFC 3161 request builder and the manifest engine.
package crypto

import (
	"crypto"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"

	// Register the SHA-2 implementations behind crypto.Hash.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// ErrUnsupportedAlgorithm is returned for algorithm names outside the
// supported set.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// SigningAlgorithm identifies a C2PA claim signature algorithm.
type SigningAlgorithm string

// Supported signing algorithms.
const (
	PS256   SigningAlgorithm = "ps256"
	ES256   SigningAlgorithm = "es256"
	PS384   SigningAlgorithm = "ps384"
	ES384   SigningAlgorithm = "es384"
	PS512   SigningAlgorithm = "ps512"
	ES512   SigningAlgorithm = "es512"
	ED25519 SigningAlgorithm = "ed25519"
)

// DigestAlgorithm identifies the hash computed over a payload before it is
// handed to the key vault.
type DigestAlgorithm int

// Supported digest algorithms.
const (
	SHA256 DigestAlgorithm = iota + 1
	SHA384
	SHA512
)

// Hash OIDs (NIST CSOR).
var (
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// algorithmInfo holds metadata about a signing algorithm.
type algorithmInfo struct {
	Digest      DigestAlgorithm
	COSE        int64
	Family      string
	Description string
}

// COSE algorithm identifiers (IANA COSE Algorithms registry).
const (
	COSEES256 int64 = -7
	COSEES384 int64 = -35
	COSEES512 int64 = -36
	COSEEdDSA int64 = -8
	COSEPS256 int64 = -37
	COSEPS384 int64 = -38
	COSEPS512 int64 = -39
)

var algorithms = map[SigningAlgorithm]algorithmInfo{
	PS256:   {Digest: SHA256, COSE: COSEPS256, Family: "rsa", Description: "RSASSA-PSS with SHA-256"},
	ES256:   {Digest: SHA256, COSE: COSEES256, Family: "ec", Description: "ECDSA P-256 with SHA-256"},
	PS384:   {Digest: SHA384, COSE: COSEPS384, Family: "rsa", Description: "RSASSA-PSS with SHA-384"},
	ES384:   {Digest: SHA384, COSE: COSEES384, Family: "ec", Description: "ECDSA P-384 with SHA-384"},
	PS512:   {Digest: SHA512, COSE: COSEPS512, Family: "rsa", Description: "RSASSA-PSS with SHA-512"},
	ES512:   {Digest: SHA512, COSE: COSEES512, Family: "ec", Description: "ECDSA P-521 with SHA-512"},
	ED25519: {Digest: SHA512, COSE: COSEEdDSA, Family: "ed25519", Description: "Ed25519ph (SHA-512 prehash)"},
}

// ParseSigningAlgorithm parses a case-insensitive algorithm name such as
// "es256" or "PS384".
func ParseSigningAlgorithm(s string) (SigningAlgorithm, error) {
	alg := SigningAlgorithm(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := algorithms[alg]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
	return alg, nil
}

// AllSigningAlgorithms returns every supported algorithm in declaration order.
func AllSigningAlgorithms() []SigningAlgorithm {
	return []SigningAlgorithm{PS256, ES256, PS384, ES384, PS512, ES512, ED25519}
}

// IsValid returns true if the algorithm is recognized.
func (a SigningAlgorithm) IsValid() bool {
	_, ok := algorithms[a]
	return ok
}

// String returns the algorithm name.
func (a SigningAlgorithm) String() string {
	return string(a)
}

// Upper returns the upper-case JOSE/COSE style name ("ES256").
func (a SigningAlgorithm) Upper() string {
	if a == ED25519 {
		return "Ed25519"
	}
	return strings.ToUpper(string(a))
}

// Family returns "ec", "rsa" or "ed25519".
func (a SigningAlgorithm) Family() string {
	return algorithms[a].Family
}

// Description returns a human-readable description of the algorithm.
func (a SigningAlgorithm) Description() string {
	if info, ok := algorithms[a]; ok {
		return info.Description
	}
	return "unknown"
}

// COSE returns the COSE algorithm identifier, or 0 for unknown algorithms.
func (a SigningAlgorithm) COSE() int64 {
	return algorithms[a].COSE
}

// IsPSS returns true for the RSASSA-PSS variants.
func (a SigningAlgorithm) IsPSS() bool {
	return a.Family() == "rsa"
}

// Digest returns the digest algorithm paired with this signing algorithm.
func (a SigningAlgorithm) Digest() DigestAlgorithm {
	return DigestOf(a)
}

// DigestOf maps a signing algorithm to the digest the key vault expects:
// PS256/ES256 use SHA-256, PS384/ES384 use SHA-384, and PS512, ES512 and
// Ed25519 use SHA-512. Unknown algorithms map to the zero value.
func DigestOf(alg SigningAlgorithm) DigestAlgorithm {
	return algorithms[alg].Digest
}

// Hash returns the crypto.Hash for the digest algorithm.
func (d DigestAlgorithm) Hash() crypto.Hash {
	switch d {
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// Size returns the digest length in bytes.
func (d DigestAlgorithm) Size() int {
	if h := d.Hash(); h != 0 {
		return h.Size()
	}
	return 0
}

// OID returns the ASN.1 object identifier of the digest algorithm.
func (d DigestAlgorithm) OID() asn1.ObjectIdentifier {
	switch d {
	case SHA256:
		return OIDSHA256
	case SHA384:
		return OIDSHA384
	case SHA512:
		return OIDSHA512
	default:
		return nil
	}
}

// String returns the C2PA name of the digest ("sha256").
func (d DigestAlgorithm) String() string {
	switch d {
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	default:
		return fmt.Sprintf("digest(%d)", int(d))
	}
}

// Sum hashes data with the digest algorithm.
func (d DigestAlgorithm) Sum(data []byte) ([]byte, error) {
	h := d.Hash()
	if h == 0 || !h.Available() {
		return nil, fmt.Errorf("digest algorithm %s not available", d)
	}
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil), nil
}

// DigestFromOID returns the digest algorithm for a hash OID.
func DigestFromOID(oid asn1.ObjectIdentifier) (DigestAlgorithm, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return SHA256, nil
	case oid.Equal(OIDSHA384):
		return SHA384, nil
	case oid.Equal(OIDSHA512):
		return SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm: %v", oid)
	}
}
