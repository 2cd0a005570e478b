package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ErrKeyMismatch is returned when a key does not belong to the family of the
// requested algorithm.
var ErrKeyMismatch = errors.New("key does not match signing algorithm")

// SignDigest signs a digest computed with alg's digest algorithm and returns
// the signature in the form COSE expects:
//   - ECDSA: fixed-size r||s
//   - RSA: RSASSA-PSS with salt length equal to the hash size
//   - Ed25519: Ed25519ph over the SHA-512 digest
func SignDigest(rand io.Reader, key crypto.Signer, alg SigningAlgorithm, digest []byte) ([]byte, error) {
	d := DigestOf(alg)
	if d == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if len(digest) != d.Size() {
		return nil, fmt.Errorf("digest length %d does not match %s", len(digest), d)
	}

	switch pub := key.Public().(type) {
	case *ecdsa.PublicKey:
		if alg.Family() != "ec" {
			return nil, fmt.Errorf("%w: %s with ECDSA key", ErrKeyMismatch, alg)
		}
		der, err := key.Sign(rand, digest, d.Hash())
		if err != nil {
			return nil, err
		}
		return ECDSARawSignature(der, curveByteSize(pub))

	case *rsa.PublicKey:
		if alg.Family() != "rsa" {
			return nil, fmt.Errorf("%w: %s with RSA key", ErrKeyMismatch, alg)
		}
		return key.Sign(rand, digest, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       d.Hash(),
		})

	case ed25519.PublicKey:
		if alg != ED25519 {
			return nil, fmt.Errorf("%w: %s with Ed25519 key", ErrKeyMismatch, alg)
		}
		return key.Sign(rand, digest, &ed25519.Options{Hash: crypto.SHA512})

	default:
		return nil, fmt.Errorf("%w: key type %T", ErrKeyMismatch, pub)
	}
}

// VerifyDigest checks a signature produced by SignDigest.
func VerifyDigest(pub crypto.PublicKey, alg SigningAlgorithm, digest, sig []byte) error {
	d := DigestOf(alg)
	if d == 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		size := curveByteSize(k)
		if len(sig) != 2*size {
			return fmt.Errorf("ECDSA signature length %d, want %d", len(sig), 2*size)
		}
		r := new(big.Int).SetBytes(sig[:size])
		s := new(big.Int).SetBytes(sig[size:])
		if !ecdsa.Verify(k, digest, r, s) {
			return errors.New("ECDSA signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		return rsa.VerifyPSS(k, d.Hash(), digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})

	case ed25519.PublicKey:
		return ed25519.VerifyWithOptions(k, digest, sig, &ed25519.Options{Hash: crypto.SHA512})

	default:
		return fmt.Errorf("%w: key type %T", ErrKeyMismatch, pub)
	}
}

// ECDSARawSignature converts an ASN.1 DER ECDSA signature to fixed-size
// r||s, each half left-padded to size bytes.
func ECDSARawSignature(der []byte, size int) ([]byte, error) {
	var r, s big.Int
	input := cryptobyte.String(der)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(&r) ||
		!inner.ReadASN1Integer(&s) ||
		!inner.Empty() {
		return nil, errors.New("invalid ASN.1 ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || len(r.Bytes()) > size || len(s.Bytes()) > size {
		return nil, errors.New("ECDSA signature values out of range")
	}

	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}

// KeyMatchesAlgorithm reports whether pub can produce signatures for alg.
func KeyMatchesAlgorithm(pub crypto.PublicKey, alg SigningAlgorithm) bool {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch alg {
		case ES256:
			return k.Curve.Params().BitSize == 256
		case ES384:
			return k.Curve.Params().BitSize == 384
		case ES512:
			return k.Curve.Params().BitSize == 521
		}
	case *rsa.PublicKey:
		return alg.IsPSS() && k.Size() >= 256
	case ed25519.PublicKey:
		return alg == ED25519
	}
	return false
}

func curveByteSize(pub *ecdsa.PublicKey) int {
	return (pub.Curve.Params().BitSize + 7) / 8
}
