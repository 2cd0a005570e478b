// Package keyvault provides the host side of remote signing: key vaults
// that hold the private key and produce the callback bundle the remote
// signer drives.
package keyvault

import (
	"context"
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/internal/config"
	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
	"github.com/remiblancher/provkit/pkg/signer"
)

var (
	// ErrUnsupported is returned when a vault cannot sign with the requested
	// algorithm.
	ErrUnsupported = errors.New("algorithm not supported by key vault")

	ErrClosed = errors.New("key vault is closed")
)

// KeyVault signs digests with a key it never exposes.
type KeyVault interface {
	// KeyID identifies the key in audit records.
	KeyID() string

	// Sign returns the signature of digest in the form COSE expects for alg.
	Sign(ctx context.Context, alg pcrypto.SigningAlgorithm, digest []byte) ([]byte, error)

	// Random returns n bytes of entropy.
	Random(ctx context.Context, n int) ([]byte, error)

	Close() error
}

// Bundle is everything a signing request needs from the host: algorithm,
// certificate chain, key vault and optional timestamp authority.
type Bundle struct {
	Alg          pcrypto.SigningAlgorithm
	Certificates [][]byte
	Vault        KeyVault
	TSA          *TSAClient
}

// Callbacks wires the bundle into the remote signer callback contract.
// Digests are computed locally; key use is audited.
func (b *Bundle) Callbacks() signer.Callbacks {
	cb := signer.Callbacks{
		Digest: func(_ context.Context, data []byte) ([]byte, error) {
			return b.Alg.Digest().Sum(data)
		},
		Sign: func(ctx context.Context, digest []byte) ([]byte, error) {
			sig, err := b.Vault.Sign(ctx, b.Alg, digest)
			if aerr := audit.LogKeyAccessed(b.Vault.KeyID(), b.Alg.String(), err); aerr != nil {
				return nil, aerr
			}
			return sig, err
		},
		Random: b.Vault.Random,
	}
	if b.TSA != nil {
		cb.Timestamp = b.TSA.Timestamp
	}
	return cb
}

func (b *Bundle) Close() error {
	if b.Vault == nil {
		return nil
	}
	return b.Vault.Close()
}

// FromConfig opens the configured vault and loads the certificate chain.
// The leaf certificate must carry the vault key when the vault can report
// its public key.
func FromConfig(ctx context.Context, cfg *config.SigningConfig) (*Bundle, error) {
	alg, err := pcrypto.ParseSigningAlgorithm(cfg.Alg)
	if err != nil {
		return nil, err
	}
	certs, err := LoadCertificates(cfg.Certificates)
	if err != nil {
		return nil, err
	}

	vault, err := openVault(ctx, &cfg.KeyVault)
	if err != nil {
		return nil, err
	}

	if pk, ok := vault.(interface{ Public() crypto.PublicKey }); ok {
		if err := checkLeaf(certs, pk.Public(), alg); err != nil {
			_ = vault.Close()
			return nil, err
		}
	}

	b := &Bundle{Alg: alg, Certificates: certs, Vault: vault}
	if cfg.TSAURL != "" {
		b.TSA = NewTSAClient(cfg.TSAURL, WithTSATimeout(cfg.TSATimeout))
	}

	zerolog.Ctx(ctx).Debug().
		Str("vault", cfg.KeyVault.Type).
		Str("key", vault.KeyID()).
		Str("alg", alg.String()).
		Int("chain", len(certs)).
		Bool("tsa", b.TSA != nil).
		Msg("key vault opened")
	return b, nil
}

func openVault(ctx context.Context, kv *config.KeyVaultConfig) (KeyVault, error) {
	switch kv.Type {
	case config.VaultSoftware:
		var passphrase []byte
		if kv.Software.PassphraseEnv != "" {
			p, err := config.Secret(kv.Software.PassphraseEnv)
			if err != nil {
				return nil, err
			}
			passphrase = []byte(p)
		}
		return LoadSoftware(kv.Software.KeyFile, passphrase)

	case config.VaultAzure:
		token, err := config.Secret(kv.Azure.TokenEnv)
		if err != nil {
			return nil, err
		}
		return NewAzure(AzureConfig{
			VaultURL:     kv.Azure.VaultURL,
			KeyName:      kv.Azure.KeyName,
			KeyVersion:   kv.Azure.KeyVersion,
			Token:        token,
			RemoteRandom: kv.Azure.RemoteRandom,
			Timeout:      kv.Azure.Timeout,
		})

	case config.VaultPKCS11:
		pin, err := config.Secret(kv.PKCS11.PinEnv)
		if err != nil {
			return nil, err
		}
		return OpenPKCS11(ctx, PKCS11Config{
			ModulePath:  kv.PKCS11.Lib,
			TokenLabel:  kv.PKCS11.Token,
			TokenSerial: kv.PKCS11.TokenSerial,
			SlotID:      kv.PKCS11.Slot,
			PIN:         pin,
			KeyLabel:    kv.PKCS11.KeyLabel,
			KeyID:       kv.PKCS11.KeyID,
		})
	}
	return nil, fmt.Errorf("unsupported key vault type: %q", kv.Type)
}

// randomBytes is the local entropy source shared by vaults without a
// remote RNG.
func randomBytes(_ context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid random length %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
