//go:build pkcs11

package keystore

import (
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/leifj/xmlsec/keys"
)

// PKCS11 loads keys from a PKCS#11 token (HSM or smart card). Private key
// operations stay on the token.
type PKCS11 struct {
	ctx  *crypto11.Context
	mu   sync.RWMutex
	keys map[string]keys.Key
}

// PKCS11Config holds configuration for a PKCS#11 token.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath" toml:"modulePath"`
	// SlotID is the slot number to use (optional if TokenLabel is provided)
	SlotID     *uint  `yaml:"slotId" toml:"slotId"`
	TokenLabel string `yaml:"tokenLabel" toml:"tokenLabel"`
	PIN        string `yaml:"pin" toml:"pin"`
}

// OpenPKCS11 logs in to the token cfg names.
func OpenPKCS11(cfg *PKCS11Config) (*PKCS11, error) {
	c := &crypto11.Config{
		Path:       cfg.ModulePath,
		Pin:        cfg.PIN,
		TokenLabel: cfg.TokenLabel,
	}
	if cfg.SlotID != nil {
		slot := int(*cfg.SlotID)
		c.SlotNumber = &slot
	}
	ctx, err := crypto11.Configure(c)
	if err != nil {
		return nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}
	return &PKCS11{ctx: ctx, keys: make(map[string]keys.Key)}, nil
}

// Key returns the key pair labelled label, with the certificate of the same
// label attached when the token has one. RSA keys can also unwrap keys.
func (p *PKCS11) Key(label string) (keys.Key, error) {
	p.mu.RLock()
	k, ok := p.keys[label]
	p.mu.RUnlock()
	if ok {
		return k, nil
	}

	signer, err := p.ctx.FindKeyPair(nil, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("finding key pair: %w", err)
	}
	if signer == nil {
		return nil, fmt.Errorf("%s: %w", label, ErrKeyNotFound)
	}
	k, err = keys.FromSigner(signer)
	if err != nil {
		return nil, err
	}
	cert, err := p.ctx.FindCertificate(nil, []byte(label), nil)
	if err != nil {
		return nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert != nil {
		k = keys.WithCertificate(k, cert)
	}

	p.mu.Lock()
	p.keys[label] = k
	p.mu.Unlock()
	return k, nil
}

// Close releases PKCS#11 resources
func (p *PKCS11) Close() error {
	return p.ctx.Close()
}
