package xmlenc

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/keys"
)

// X25519Curve names the curve of the originator's key in the
// dsig11:ECKeyValue.
const X25519Curve = "urn:ietf:params:xml:ns:keyprov:curve:x25519"

// agreeForWrap runs an X25519 agreement with a fresh ephemeral key against
// the recipient's public key and derives a key encryption key for
// wrapMethod. The AgreementMethod returned tells the recipient how to do the
// same.
func (c *Cipher) agreeForWrap(recipient *keys.X25519Key, wrapMethod string) (*keys.SymmetricKey, *keyinfo.AgreementMethod, error) {
	size := algo.KeySize(wrapMethod)
	if algo.ClassOf(wrapMethod) != algo.ClassKeyWrap || size == 0 {
		return nil, nil, errs.Unsupported("agree", "key wrap algorithm", wrapMethod)
	}
	if recipient.Public == nil {
		return nil, nil, errs.Crypto("agree", "x25519", "no recipient public key")
	}
	seed, err := c.cfg.Provider.RandomBytes(32)
	if err != nil {
		return nil, nil, err
	}
	ephemeral, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, nil, errs.WrapCrypto("agree", "x25519", err)
	}
	shared, err := ephemeral.ECDH(recipient.Public)
	if err != nil {
		return nil, nil, errs.WrapCrypto("agree", "x25519", err)
	}

	params := DefaultHKDFParams(c.agreementInfo, wrapMethod)
	raw, err := deriveKEK(shared, params, size)
	if err != nil {
		return nil, nil, err
	}
	kek, err := keys.SymmetricFor(wrapMethod, raw)
	if err != nil {
		return nil, nil, err
	}

	am := &keyinfo.AgreementMethod{
		Algorithm: algo.X25519,
		Derivation: &keyinfo.KeyDerivationMethod{
			Algorithm: algo.HKDF,
			HKDF:      params,
		},
		Originator: keyinfo.NewList(),
	}
	am.Originator.Append(&keyinfo.KeyValue{EC: &keyinfo.ECKeyValue{
		NamedCurve: X25519Curve,
		PublicKey:  ephemeral.PublicKey().Bytes(),
	}})
	return kek, am, nil
}

// agreeForUnwrap derives the key encryption key on the recipient side from
// the originator key am carries.
func (c *Cipher) agreeForUnwrap(recipient *keys.X25519Key, am *keyinfo.AgreementMethod, wrapMethod string) (*keys.SymmetricKey, error) {
	if am.Algorithm != algo.X25519 {
		return nil, errs.Unsupported("agree", "key agreement algorithm", am.Algorithm)
	}
	if recipient.Private == nil {
		return nil, errs.Crypto("agree", "x25519", "no private key")
	}
	size := algo.KeySize(wrapMethod)
	if algo.ClassOf(wrapMethod) != algo.ClassKeyWrap || size == 0 {
		return nil, errs.Unsupported("agree", "key wrap algorithm", wrapMethod)
	}
	var originator []byte
	for _, kv := range keyinfo.FindAll[*keyinfo.KeyValue](am.Originator) {
		if kv.EC == nil {
			continue
		}
		if kv.EC.NamedCurve != "" && kv.EC.NamedCurve != X25519Curve {
			return nil, errs.Unsupported("agree", "curve", kv.EC.NamedCurve)
		}
		originator = kv.EC.PublicKey
		break
	}
	if originator == nil {
		return nil, errs.Structural("agree", "AgreementMethod carries no originator key")
	}
	pub, err := ecdh.X25519().NewPublicKey(originator)
	if err != nil {
		return nil, errs.WrapStructural("agree", err)
	}
	shared, err := recipient.Private.ECDH(pub)
	if err != nil {
		return nil, errs.WrapCrypto("agree", "x25519", err)
	}

	var params *keyinfo.HKDFParams
	if d := am.Derivation; d != nil {
		if d.Algorithm != algo.HKDF {
			return nil, errs.Unsupported("agree", "key derivation algorithm", d.Algorithm)
		}
		params = d.HKDF
	}
	raw, err := deriveKEK(shared, params, size)
	if err != nil {
		return nil, err
	}
	return keys.SymmetricFor(wrapMethod, raw)
}

// DefaultHKDFParams are the HKDF parameters a new agreement uses: HMAC-SHA256,
// no salt, and a key length matching wrapMethod.
func DefaultHKDFParams(info []byte, wrapMethod string) *keyinfo.HKDFParams {
	return &keyinfo.HKDFParams{
		PRF:       algo.HMACSHA256,
		Info:      info,
		KeyLength: 8 * algo.KeySize(wrapMethod),
	}
}

// deriveKEK runs HKDF (RFC 5869) over the shared secret. size, in bytes, is
// what the wrap algorithm needs; a KeyLength in params must agree with it.
func deriveKEK(secret []byte, params *keyinfo.HKDFParams, size int) ([]byte, error) {
	newHash := sha256.New
	var salt, info []byte
	if params != nil {
		var err error
		if newHash, err = hkdfHash(params.PRF); err != nil {
			return nil, err
		}
		salt, info = params.Salt, params.Info
		if params.KeyLength != 0 && params.KeyLength != 8*size {
			return nil, errs.Crypto("agree", "hkdf", "KeyLength %d does not fit a %d bit key encryption key", params.KeyLength, 8*size)
		}
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(newHash, secret, salt, info), key); err != nil {
		return nil, errs.WrapCrypto("agree", "hkdf", err)
	}
	return key, nil
}

func hkdfHash(prf string) (func() hash.Hash, error) {
	switch prf {
	case "", algo.HMACSHA256:
		return sha256.New, nil
	case algo.HMACSHA384:
		return sha512.New384, nil
	case algo.HMACSHA512:
		return sha512.New, nil
	}
	return nil, errs.Unsupported("agree", "HKDF PRF", prf)
}
