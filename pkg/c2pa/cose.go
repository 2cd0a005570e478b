package c2pa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	gocose "github.com/veraison/go-cose"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/tsa"
)

// COSE header labels used in claim signatures.
const (
	headerX5Chain int64 = 33 // x5chain (RFC 9360)
	headerSigTst        = "sigTst"
)

// signClaim produces the padded COSE_Sign1 claim signature. The claim is
// signed as a detached payload.
func signClaim(ctx context.Context, claimBytes []byte, certs [][]byte, signer AsyncSigner) ([]byte, error) {
	alg := signer.Alg()
	coseAlg := gocose.Algorithm(alg.COSE())
	if coseAlg == 0 {
		return nil, fmt.Errorf("%w: %s", pcrypto.ErrUnsupportedAlgorithm, alg)
	}

	msg := gocose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(coseAlg)
	msg.Headers.Protected[headerX5Chain] = certs
	msg.Payload = claimBytes

	if result := signer.SendTimestampRequest(ctx, claimBytes); result != nil {
		if result.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTimestamp, result.Err)
		}
		token, err := grantedTimestamp(result)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTimestamp, err)
		}
		msg.Headers.Unprotected[headerSigTst] = map[string]any{
			"tstTokens": []any{map[string]any{"val": token.SignedData}},
		}
	}

	cs := &coseSigner{ctx: ctx, signer: signer, alg: coseAlg}
	if err := msg.Sign(nil, nil, cs); err != nil {
		return nil, err
	}

	msg.Payload = nil
	encoded, err := msg.MarshalCBOR()
	if err != nil {
		return nil, err
	}

	reserve := signer.ReserveSize()
	if len(encoded) > reserve {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrSignatureTooLarge, len(encoded), reserve)
	}
	padded := make([]byte, reserve)
	copy(padded, encoded)
	return padded, nil
}

// claimSignature is the decoded view of a claim signature.
type claimSignature struct {
	msg   *gocose.Sign1Message
	alg   pcrypto.SigningAlgorithm
	chain []*x509.Certificate
	token *tsa.Token
}

// parseClaimSignature decodes a padded COSE_Sign1 signature.
func parseClaimSignature(sig []byte) (*claimSignature, error) {
	var raw cbor.RawMessage
	if _, err := cbor.UnmarshalFirst(sig, &raw); err != nil {
		return nil, fmt.Errorf("claim signature: %w", err)
	}

	msg := gocose.NewSign1Message()
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("claim signature: %w", err)
	}

	coseAlg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("claim signature: %w", err)
	}
	alg, ok := algorithmFromCOSE(int64(coseAlg))
	if !ok {
		return nil, fmt.Errorf("%w: COSE algorithm %d", pcrypto.ErrUnsupportedAlgorithm, coseAlg)
	}

	chain, err := certsFromX5Chain(msg.Headers.Protected[headerX5Chain])
	if err != nil {
		return nil, err
	}

	return &claimSignature{msg: msg, alg: alg, chain: chain}, nil
}

// timestampToken returns the DER token stored in the sigTst header, or nil.
func (cs *claimSignature) timestampToken() []byte {
	v, ok := cs.msg.Headers.Unprotected[headerSigTst]
	if !ok {
		return nil
	}
	tokens, _ := mapValue(v, "tstTokens").([]any)
	if len(tokens) == 0 {
		return nil
	}
	der, _ := mapValue(tokens[0], "val").([]byte)
	return der
}

// verify checks the signature over the detached claim with the leaf
// certificate's public key.
func (cs *claimSignature) verify(claimBytes []byte) error {
	if len(cs.chain) == 0 {
		return ErrMissingCertificates
	}
	pub := cs.chain[0].PublicKey

	var verifier gocose.Verifier
	if cs.alg == pcrypto.ED25519 {
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("certificate key %T does not match %s", pub, cs.alg)
		}
		verifier = ed25519phVerifier{key: key}
	} else {
		v, err := gocose.NewVerifier(gocose.Algorithm(cs.alg.COSE()), pub)
		if err != nil {
			return err
		}
		verifier = v
	}

	cs.msg.Payload = claimBytes
	defer func() { cs.msg.Payload = nil }()
	return cs.msg.Verify(nil, verifier)
}

// ed25519phVerifier verifies Ed25519ph signatures: the key vault signs the
// SHA-512 prehash of the COSE to-be-signed bytes.
type ed25519phVerifier struct {
	key ed25519.PublicKey
}

func (v ed25519phVerifier) Algorithm() gocose.Algorithm {
	return gocose.AlgorithmEdDSA
}

func (v ed25519phVerifier) Verify(content, signature []byte) error {
	digest := sha512.Sum512(content)
	if err := ed25519.VerifyWithOptions(v.key, digest[:], signature, &ed25519.Options{Hash: crypto.SHA512}); err != nil {
		return gocose.ErrVerification
	}
	return nil
}

func algorithmFromCOSE(id int64) (pcrypto.SigningAlgorithm, bool) {
	for _, alg := range pcrypto.AllSigningAlgorithms() {
		if alg.COSE() == id {
			return alg, true
		}
	}
	return "", false
}

// certsFromX5Chain parses an x5chain header value, which is either a single
// certificate or an array of certificates.
func certsFromX5Chain(v any) ([]*x509.Certificate, error) {
	var ders [][]byte
	switch x := v.(type) {
	case nil:
		return nil, ErrMissingCertificates
	case []byte:
		ders = [][]byte{x}
	case [][]byte:
		ders = x
	case []any:
		for _, item := range x {
			b, ok := item.([]byte)
			if !ok {
				return nil, fmt.Errorf("x5chain entry has type %T", item)
			}
			ders = append(ders, b)
		}
	default:
		return nil, fmt.Errorf("x5chain has type %T", v)
	}

	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5chain: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrMissingCertificates
	}
	return certs, nil
}

// mapValue looks up a text key in a decoded CBOR map of either key type.
func mapValue(m any, key string) any {
	switch mm := m.(type) {
	case map[string]any:
		return mm[key]
	case map[any]any:
		return mm[key]
	}
	return nil
}

// grantedTimestamp extracts the token of a granted response and, when the
// request is known, checks that the token answers it.
func grantedTimestamp(result *TimestampResult) (*tsa.Token, error) {
	token, err := tsa.GrantedToken(result.Response)
	if err != nil {
		return nil, err
	}
	if result.Request == nil {
		return token, nil
	}
	req, err := tsa.ParseRequest(result.Request)
	if err != nil {
		return nil, err
	}
	if err := tsa.MatchRequest(req, token); err != nil {
		return nil, err
	}
	return token, nil
}

// timestampMatches reports whether a timestamp token covers claimBytes.
func timestampMatches(token *tsa.Token, claimBytes []byte) error {
	d, err := token.DigestAlgorithm()
	if err != nil {
		return err
	}
	sum, err := d.Sum(claimBytes)
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, token.HashedMessage()) {
		return errors.New("timestamp imprint does not cover the claim")
	}
	return nil
}
