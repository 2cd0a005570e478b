//go:build !cgo

package keyvault

import (
	"context"
	"errors"
)

// OpenPKCS11 needs cgo.
func OpenPKCS11(_ context.Context, _ PKCS11Config) (KeyVault, error) {
	return nil, errors.New("PKCS#11 support requires a cgo build")
}
