//go:build !pkcs11

package keystore

import (
	"errors"

	"github.com/leifj/xmlsec/keys"
)

// PKCS11 is a stub that returns an error when PKCS#11 support is not compiled in.
type PKCS11 struct{}

// PKCS11Config holds configuration for a PKCS#11 token.
type PKCS11Config struct {
	ModulePath string `yaml:"modulePath" toml:"modulePath"`
	SlotID     *uint  `yaml:"slotId" toml:"slotId"`
	TokenLabel string `yaml:"tokenLabel" toml:"tokenLabel"`
	PIN        string `yaml:"pin" toml:"pin"`
}

// ErrPKCS11NotSupported is returned when PKCS#11 operations are attempted
// but the binary was not compiled with PKCS#11 support.
var ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")

func OpenPKCS11(cfg *PKCS11Config) (*PKCS11, error) {
	return nil, ErrPKCS11NotSupported
}

func (p *PKCS11) Key(label string) (keys.Key, error) {
	return nil, ErrPKCS11NotSupported
}

// Close is a no-op.
func (p *PKCS11) Close() error {
	return nil
}
