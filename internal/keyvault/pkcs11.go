//go:build cgo

package keyvault

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// PKCS11 signs on an HSM token through a single logged-in session.
// Operations on the session are serialized.
type PKCS11 struct {
	id        string
	ctx       *pkcs11.Ctx
	session   pkcs11.SessionHandle
	keyHandle pkcs11.ObjectHandle
	pub       crypto.PublicKey

	mu     sync.Mutex
	closed bool
}

var _ KeyVault = (*PKCS11)(nil)

// OpenPKCS11 loads the module, logs into the token and locates the key.
func OpenPKCS11(_ context.Context, cfg PKCS11Config) (KeyVault, error) {
	if cfg.ModulePath == "" {
		return nil, errors.New("PKCS#11 module path is required")
	}
	if cfg.KeyLabel == "" && cfg.KeyID == "" {
		return nil, errors.New("at least one of key_label or key_id is required")
	}

	p11 := pkcs11.New(cfg.ModulePath)
	if p11 == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", cfg.ModulePath)
	}
	if err := p11.Initialize(); err != nil {
		var perr pkcs11.Error
		if !errors.As(err, &perr) || perr != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			p11.Destroy()
			return nil, fmt.Errorf("failed to initialize: %w", err)
		}
	}

	v, err := openToken(p11, cfg)
	if err != nil {
		p11.Destroy()
		return nil, err
	}
	return v, nil
}

func openToken(p11 *pkcs11.Ctx, cfg PKCS11Config) (*PKCS11, error) {
	slot, err := findSlot(p11, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	session, err := p11.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if err := p11.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
		var perr pkcs11.Error
		if !errors.As(err, &perr) || perr != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			_ = p11.CloseSession(session)
			return nil, fmt.Errorf("failed to login: %w", err)
		}
	}

	key, err := findPrivateKey(p11, session, cfg)
	if err == nil {
		var pub crypto.PublicKey
		pub, err = extractPublicKey(p11, session, key)
		if err == nil {
			id := fmt.Sprintf("pkcs11:slot=%d;label=%s;id=%s", slot, cfg.KeyLabel, cfg.KeyID)
			return &PKCS11{id: id, ctx: p11, session: session, keyHandle: key, pub: pub}, nil
		}
	}
	_ = p11.Logout(session)
	_ = p11.CloseSession(session)
	return nil, err
}

func findSlot(p11 *pkcs11.Ctx, cfg PKCS11Config) (uint, error) {
	if cfg.SlotID != nil {
		return *cfg.SlotID, nil
	}
	slots, err := p11.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, errors.New("no slots with tokens found")
	}
	for _, slot := range slots {
		info, err := p11.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if cfg.TokenLabel != "" && info.Label == cfg.TokenLabel {
			return slot, nil
		}
		if cfg.TokenSerial != "" && info.SerialNumber == cfg.TokenSerial {
			return slot, nil
		}
	}
	if cfg.TokenLabel != "" {
		return 0, fmt.Errorf("token with label %q not found", cfg.TokenLabel)
	}
	if cfg.TokenSerial != "" {
		return 0, fmt.Errorf("token with serial %q not found", cfg.TokenSerial)
	}
	return slots[0], nil
}

func keyTemplate(class uint, cfg PKCS11Config) ([]*pkcs11.Attribute, error) {
	t := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if cfg.KeyLabel != "" {
		t = append(t, pkcs11.NewAttribute(pkcs11.CKA_LABEL, cfg.KeyLabel))
	}
	if cfg.KeyID != "" {
		id, err := hex.DecodeString(cfg.KeyID)
		if err != nil {
			return nil, fmt.Errorf("invalid key_id hex: %w", err)
		}
		t = append(t, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}
	return t, nil
}

func findOne(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, template []*pkcs11.Attribute) (pkcs11.ObjectHandle, int, error) {
	if err := p11.FindObjectsInit(session, template); err != nil {
		return 0, 0, fmt.Errorf("failed to init find objects: %w", err)
	}
	defer func() { _ = p11.FindObjectsFinal(session) }()

	objs, _, err := p11.FindObjects(session, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to find objects: %w", err)
	}
	if len(objs) == 0 {
		return 0, 0, nil
	}
	return objs[0], len(objs), nil
}

func findPrivateKey(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, cfg PKCS11Config) (pkcs11.ObjectHandle, error) {
	template, err := keyTemplate(pkcs11.CKO_PRIVATE_KEY, cfg)
	if err != nil {
		return 0, err
	}
	h, n, err := findOne(p11, session, template)
	switch {
	case err != nil:
		return 0, err
	case n == 0:
		return 0, errors.New("private key not found")
	case n > 1:
		return 0, errors.New("multiple keys found, please specify both key_label and key_id")
	}
	return h, nil
}

// findPublicKeyForPrivate locates the public object sharing the private
// key's CKA_ID and CKA_LABEL.
func findPublicKeyForPrivate(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, priv pkcs11.ObjectHandle) (pkcs11.ObjectHandle, error) {
	attrs, err := p11.GetAttributeValue(session, priv, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get private key ID/label: %w", err)
	}
	h, n, err := findOne(p11, session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_ID, attrs[0].Value),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, attrs[1].Value),
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("public key not found for private key")
	}
	return h, nil
}

func extractPublicKey(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := p11.GetAttributeValue(session, key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key type: %w", err)
	}
	switch kt := bytesToUint(attrs[0].Value); kt {
	case pkcs11.CKK_EC:
		return extractECPublicKey(p11, session, key)
	case pkcs11.CKK_RSA:
		return extractRSAPublicKey(p11, session, key)
	default:
		return nil, fmt.Errorf("unsupported key type: 0x%X", kt)
	}
}

func extractECPublicKey(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	attrs, err := p11.GetAttributeValue(session, key, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC params: %w", err)
	}
	curve, err := parseECParams(attrs[0].Value)
	if err != nil {
		return nil, err
	}

	pubHandle, err := findPublicKeyForPrivate(p11, session, key)
	if err != nil {
		return nil, err
	}
	pattrs, err := p11.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get EC point: %w", err)
	}
	point := pattrs[0].Value

	// CKA_EC_POINT is normally a DER OCTET STRING around 04||X||Y.
	var inner []byte
	if rest, err := asn1.Unmarshal(point, &inner); err == nil && len(rest) == 0 {
		point = inner
	}
	if pub, err := x509.ParsePKIXPublicKey(point); err == nil {
		if ec, ok := pub.(*ecdsa.PublicKey); ok {
			return ec, nil
		}
	}

	//nolint:staticcheck // ECDSA point, not ECDH
	x, y := elliptic.Unmarshal(curve, point)
	if x == nil {
		return nil, errors.New("failed to unmarshal EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func extractRSAPublicKey(p11 *pkcs11.Ctx, session pkcs11.SessionHandle, key pkcs11.ObjectHandle) (crypto.PublicKey, error) {
	pubHandle, err := findPublicKeyForPrivate(p11, session, key)
	if err != nil {
		return nil, err
	}
	attrs, err := p11.GetAttributeValue(session, pubHandle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get RSA attributes: %w", err)
	}
	// CKA_PUBLIC_EXPONENT is a big-endian big integer, not a CK_ULONG.
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

func parseECParams(params []byte) (elliptic.Curve, error) {
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(params, &oid); err != nil {
		return nil, fmt.Errorf("failed to parse EC params OID: %w", err)
	}
	switch {
	case oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}):
		return elliptic.P256(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 34}):
		return elliptic.P384(), nil
	case oid.Equal(asn1.ObjectIdentifier{1, 3, 132, 0, 35}):
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("unsupported EC curve OID: %v", oid)
}

// bytesToUint decodes a native-endian CK_ULONG.
func bytesToUint(b []byte) uint {
	var r uint
	for i := len(b) - 1; i >= 0; i-- {
		r = r<<8 | uint(b[i])
	}
	return r
}

func (p *PKCS11) KeyID() string { return p.id }

func (p *PKCS11) Public() crypto.PublicKey { return p.pub }

// pssParams maps a digest to the CKM_RSA_PKCS_PSS parameters with
// salt length equal to the hash size.
func pssParams(d pcrypto.DigestAlgorithm) ([]byte, error) {
	switch d {
	case pcrypto.SHA256:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, 32), nil
	case pcrypto.SHA384:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384, 48), nil
	case pcrypto.SHA512:
		return pkcs11.NewPSSParams(pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512, 64), nil
	}
	return nil, fmt.Errorf("%w: digest %s", ErrUnsupported, d)
}

// Sign uses CKM_ECDSA, which already yields r||s, or CKM_RSA_PKCS_PSS.
func (p *PKCS11) Sign(ctx context.Context, alg pcrypto.SigningAlgorithm, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !pcrypto.KeyMatchesAlgorithm(p.pub, alg) {
		return nil, fmt.Errorf("%w: %s", pcrypto.ErrKeyMismatch, alg)
	}
	d := pcrypto.DigestOf(alg)
	if len(digest) != d.Size() {
		return nil, fmt.Errorf("digest length %d does not match %s", len(digest), d)
	}

	var mech *pkcs11.Mechanism
	switch p.pub.(type) {
	case *ecdsa.PublicKey:
		mech = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	case *rsa.PublicKey:
		params, err := pssParams(d)
		if err != nil {
			return nil, err
		}
		mech = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, alg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if err := p.ctx.SignInit(p.session, []*pkcs11.Mechanism{mech}, p.keyHandle); err != nil {
		return nil, fmt.Errorf("failed to init sign: %w", err)
	}
	sig, err := p.ctx.Sign(p.session, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// Random draws from the token RNG (C_GenerateRandom).
func (p *PKCS11) Random(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	b, err := p.ctx.GenerateRandom(p.session, n)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random: %w", err)
	}
	return b, nil
}

func (p *PKCS11) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.ctx.Logout(p.session)
	err := p.ctx.CloseSession(p.session)
	p.ctx.Destroy()
	return err
}
