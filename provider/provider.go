// Package provider supplies the cryptographic primitives the xmlsec engines
// are built on. Engines only see the Provider interface; the Go provider here
// is the default implementation.
package provider

import (
	"crypto/rand"
	"io"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
)

// Provider is the set of primitives the engines consume. Implementations must
// be safe for concurrent use.
type Provider interface {
	Name() string
	// AlgorithmSupported gates an identifier before any work is done.
	AlgorithmSupported(uri string) bool

	Digest(uri string, data []byte) ([]byte, error)
	// HMAC returns the full-length MAC; truncation is the caller's business.
	HMAC(uri string, key *keys.HMACKey, data []byte) ([]byte, error)
	Sign(uri string, key keys.Key, data []byte) ([]byte, error)
	// VerifySignature reports a mismatch as false with a nil error.
	VerifySignature(uri string, key keys.Key, data, signature []byte) (bool, error)

	// SymmetricEncrypt returns IV || ciphertext (|| tag for GCM). A nil iv
	// asks for a random one.
	SymmetricEncrypt(uri string, key *keys.SymmetricKey, iv, data []byte) ([]byte, error)
	SymmetricDecrypt(uri string, key *keys.SymmetricKey, data []byte) ([]byte, error)

	WrapKey(uri string, kek keys.Key, raw []byte, p WrapParams) ([]byte, error)
	UnwrapKey(uri string, kek keys.Key, wrapped []byte, p WrapParams) ([]byte, error)

	RandomBytes(n int) ([]byte, error)
}

// WrapParams are the EncryptionMethod children that influence key transport.
type WrapParams struct {
	// OAEPParams overrides the label carried by the RSA key.
	OAEPParams []byte
	// DigestMethod is the OAEP digest, SHA-1 when empty.
	DigestMethod string
	// MGF is the xmlenc11 mask generation function, MGF1 with SHA-1 when empty.
	MGF string
}

// Options configure the Go provider.
type Options struct {
	// DisableAES turns every AES based algorithm into an unsupported one.
	DisableAES bool `yaml:"disableAES" toml:"disableAES"`
	// Random is the randomness source, crypto/rand when nil.
	Random io.Reader `yaml:"-" toml:"-"`
}

// Go implements Provider with the standard library and golang.org/x/crypto.
type Go struct {
	opts Options
}

var _ Provider = (*Go)(nil)

// New returns a Go provider.
func New(opts Options) *Go {
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	return &Go{opts: opts}
}

// Default is a provider with every algorithm enabled.
func Default() *Go { return New(Options{}) }

func (p *Go) Name() string { return "go" }

func (p *Go) AlgorithmSupported(uri string) bool {
	if p.opts.DisableAES && algo.IsAES(uri) {
		return false
	}
	switch algo.ClassOf(uri) {
	case algo.ClassUnknown, algo.ClassCanonicalization, algo.ClassTransform:
		return false
	}
	return true
}

func (p *Go) require(op, uri string, class algo.Class) error {
	if algo.ClassOf(uri) != class || !p.AlgorithmSupported(uri) {
		return errs.Unsupported(op, class.String()+" algorithm", uri)
	}
	return nil
}

func (p *Go) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.opts.Random, b); err != nil {
		return nil, errs.Crypto("random", "", "reading %d random bytes: %v", n, err)
	}
	return b, nil
}

// checkKey fails when key is not of the type uri needs.
func checkKey(op, uri string, key keys.Key) error {
	if key == nil {
		return errs.Crypto(op, "", "no key")
	}
	want, ok := keys.TypeFor(uri)
	if !ok {
		return errs.Unsupported(op, "algorithm", uri)
	}
	if key.Type() != want {
		return errs.Crypto(op, key.Type().String(), "%s key given for %s, which needs a %s key", key.Type(), uri, want)
	}
	return nil
}
