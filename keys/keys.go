// Package keys models the keys the xmlsec engines sign, verify, encrypt and
// wrap with. A Key is one of a closed set of types; engines switch on the
// concrete type instead of asking the key what it can do.
package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"slices"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
)

// Type discriminates the key variants.
type Type int

const (
	HMAC Type = iota + 1
	AES128
	AES192
	AES256
	TripleDES
	RSA
	ECDSA
	Ed25519
	X25519
)

func (t Type) String() string {
	switch t {
	case HMAC:
		return "hmac"
	case AES128:
		return "aes-128"
	case AES192:
		return "aes-192"
	case AES256:
		return "aes-256"
	case TripleDES:
		return "3des"
	case RSA:
		return "rsa"
	case ECDSA:
		return "ecdsa"
	case Ed25519:
		return "ed25519"
	case X25519:
		return "x25519"
	}
	return "unknown"
}

// Key is implemented by *HMACKey, *SymmetricKey, *RSAKey, *ECDSAKey,
// *Ed25519Key and *X25519Key.
//
// Keys are borrowed by the engines they are handed to. Clone gives an
// independent copy when the same material has to serve two operations.
type Key interface {
	Type() Type
	Clone() Key
	isKey()
}

// HMACKey is a secret of any length for the HMAC signature methods.
type HMACKey struct {
	secret []byte
}

func NewHMAC(secret []byte) *HMACKey {
	return &HMACKey{secret: slices.Clone(secret)}
}

func (k *HMACKey) Type() Type     { return HMAC }
func (k *HMACKey) Clone() Key     { return NewHMAC(k.secret) }
func (k *HMACKey) Secret() []byte { return k.secret }
func (k *HMACKey) isKey()         {}

// SymmetricKey is an AES or 3DES key. Its size always matches its type.
type SymmetricKey struct {
	typ Type
	raw []byte
}

// NewSymmetric returns a key of type t. A raw length that does not fit t is a
// CryptoError.
func NewSymmetric(t Type, raw []byte) (*SymmetricKey, error) {
	want := t.Size()
	if want == 0 {
		return nil, errs.Crypto("key", t.String(), "not a symmetric key type")
	}
	if len(raw) != want {
		return nil, errs.Crypto("key", t.String(), "need %d bytes of key material, got %d", want, len(raw))
	}
	return &SymmetricKey{typ: t, raw: slices.Clone(raw)}, nil
}

// SymmetricFor returns a key for the block cipher or key wrap algorithm uri.
func SymmetricFor(uri string, raw []byte) (*SymmetricKey, error) {
	t, ok := TypeFor(uri)
	if !ok || t.Size() == 0 {
		return nil, errs.Unsupported("key", "symmetric algorithm", uri)
	}
	return NewSymmetric(t, raw)
}

// AESForSize picks the AES type for a raw key length.
func AESForSize(raw []byte) (*SymmetricKey, error) {
	switch len(raw) {
	case 16:
		return NewSymmetric(AES128, raw)
	case 24:
		return NewSymmetric(AES192, raw)
	case 32:
		return NewSymmetric(AES256, raw)
	}
	return nil, errs.Crypto("key", "aes", "no AES key has %d bytes", len(raw))
}

func (k *SymmetricKey) Type() Type  { return k.typ }
func (k *SymmetricKey) Clone() Key  { return &SymmetricKey{typ: k.typ, raw: slices.Clone(k.raw)} }
func (k *SymmetricKey) Raw() []byte { return k.raw }
func (k *SymmetricKey) isKey()      {}

// Size is the key length in bytes for symmetric types, 0 otherwise.
func (t Type) Size() int {
	switch t {
	case AES128:
		return 16
	case AES192, TripleDES:
		return 24
	case AES256:
		return 32
	}
	return 0
}

// TypeFor returns the key type an algorithm needs.
func TypeFor(uri string) (Type, bool) {
	switch uri {
	case algo.AES128CBC, algo.AES128GCM, algo.KWAES128:
		return AES128, true
	case algo.AES192CBC, algo.AES192GCM, algo.KWAES192:
		return AES192, true
	case algo.AES256CBC, algo.AES256GCM, algo.KWAES256:
		return AES256, true
	case algo.TripleDES, algo.KWTripleDES:
		return TripleDES, true
	case algo.RSAv15, algo.RSAOAEP, algo.RSAOAEP11,
		algo.RSASHA1, algo.RSASHA224, algo.RSASHA256, algo.RSASHA384, algo.RSASHA512:
		return RSA, true
	case algo.ECDSASHA1, algo.ECDSASHA256, algo.ECDSASHA384, algo.ECDSASHA512:
		return ECDSA, true
	case algo.Ed25519:
		return Ed25519, true
	case algo.X25519:
		return X25519, true
	}
	if algo.IsHMAC(uri) {
		return HMAC, true
	}
	return 0, false
}

// RSAKey is an RSA public key, optionally with private operations. Signer and
// Decrypter may be backed by a hardware token.
type RSAKey struct {
	Public    *rsa.PublicKey
	Signer    crypto.Signer
	Decrypter crypto.Decrypter
	// OAEPParams is the OAEP label used when the key transports keys with
	// RSA-OAEP. It is written to and read from the EncryptionMethod.
	OAEPParams  []byte
	Certificate *x509.Certificate
}

func (k *RSAKey) Type() Type { return RSA }

func (k *RSAKey) Clone() Key {
	c := *k
	c.OAEPParams = slices.Clone(k.OAEPParams)
	return &c
}

func (k *RSAKey) isKey() {}

// SetOAEPParams sets the OAEP label.
func (k *RSAKey) SetOAEPParams(p []byte) { k.OAEPParams = slices.Clone(p) }

// ECDSAKey is an ECDSA public key, optionally with a signer.
type ECDSAKey struct {
	Public      *ecdsa.PublicKey
	Signer      crypto.Signer
	Certificate *x509.Certificate
}

func (k *ECDSAKey) Type() Type { return ECDSA }
func (k *ECDSAKey) isKey()     {}

func (k *ECDSAKey) Clone() Key {
	c := *k
	return &c
}

// Ed25519Key is an Ed25519 public key, optionally with a signer.
type Ed25519Key struct {
	Public      ed25519.PublicKey
	Signer      crypto.Signer
	Certificate *x509.Certificate
}

func (k *Ed25519Key) Type() Type { return Ed25519 }
func (k *Ed25519Key) isKey()     {}

func (k *Ed25519Key) Clone() Key {
	c := *k
	return &c
}

// X25519Key is the static key of an X25519 key agreement. Private is nil on
// the sending side.
type X25519Key struct {
	Public  *ecdh.PublicKey
	Private *ecdh.PrivateKey
}

func NewX25519(priv *ecdh.PrivateKey) *X25519Key {
	return &X25519Key{Public: priv.PublicKey(), Private: priv}
}

func (k *X25519Key) Type() Type { return X25519 }
func (k *X25519Key) isKey()     {}

func (k *X25519Key) Clone() Key {
	c := *k
	return &c
}

// FromPublicKey wraps a public key for verification or key transport.
func FromPublicKey(pub crypto.PublicKey) (Key, error) {
	switch p := pub.(type) {
	case *rsa.PublicKey:
		return &RSAKey{Public: p}, nil
	case *ecdsa.PublicKey:
		return &ECDSAKey{Public: p}, nil
	case ed25519.PublicKey:
		return &Ed25519Key{Public: p}, nil
	case *ecdh.PublicKey:
		if p.Curve() != ecdh.X25519() {
			break
		}
		return &X25519Key{Public: p}, nil
	}
	return nil, errs.Crypto("key", fmt.Sprintf("%T", pub), "unsupported public key type")
}

// FromSigner wraps a private key or any other crypto.Signer. RSA signers that
// also implement crypto.Decrypter can unwrap keys.
func FromSigner(s crypto.Signer) (Key, error) {
	switch p := s.Public().(type) {
	case *rsa.PublicKey:
		k := &RSAKey{Public: p, Signer: s}
		if d, ok := s.(crypto.Decrypter); ok {
			k.Decrypter = d
		}
		return k, nil
	case *ecdsa.PublicKey:
		return &ECDSAKey{Public: p, Signer: s}, nil
	case ed25519.PublicKey:
		return &Ed25519Key{Public: p, Signer: s}, nil
	}
	return nil, errs.Crypto("key", fmt.Sprintf("%T", s.Public()), "unsupported signer type")
}

// FromCertificate wraps the public key of cert and keeps cert alongside it.
func FromCertificate(cert *x509.Certificate) (Key, error) {
	k, err := FromPublicKey(cert.PublicKey)
	if err != nil {
		return nil, err
	}
	return WithCertificate(k, cert), nil
}

// WithCertificate attaches cert to an asymmetric key. Other keys are returned
// unchanged.
func WithCertificate(k Key, cert *x509.Certificate) Key {
	switch v := k.(type) {
	case *RSAKey:
		v.Certificate = cert
	case *ECDSAKey:
		v.Certificate = cert
	case *Ed25519Key:
		v.Certificate = cert
	}
	return k
}

// CertificateOf returns the certificate attached to k, if any.
func CertificateOf(k Key) *x509.Certificate {
	switch v := k.(type) {
	case *RSAKey:
		return v.Certificate
	case *ECDSAKey:
		return v.Certificate
	case *Ed25519Key:
		return v.Certificate
	}
	return nil
}
