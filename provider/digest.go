package provider

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rsa"
	"hash"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/crypto/ripemd160"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
)

// Hash maps a digest identifier to its crypto.Hash.
func Hash(uri string) (crypto.Hash, bool) {
	switch uri {
	case algo.SHA1:
		return crypto.SHA1, true
	case algo.SHA224:
		return crypto.SHA224, true
	case algo.SHA256:
		return crypto.SHA256, true
	case algo.SHA384:
		return crypto.SHA384, true
	case algo.SHA512:
		return crypto.SHA512, true
	case algo.RIPEMD160:
		return crypto.RIPEMD160, true
	}
	return 0, false
}

func newHash(uri string) (func() hash.Hash, error) {
	h, ok := Hash(uri)
	if !ok {
		return nil, errs.Unsupported("digest", "digest algorithm", uri)
	}
	if h == crypto.RIPEMD160 {
		return ripemd160.New, nil
	}
	return h.New, nil
}

func (p *Go) Digest(uri string, data []byte) ([]byte, error) {
	if err := p.require("digest", uri, algo.ClassDigest); err != nil {
		return nil, err
	}
	h, err := newHash(uri)
	if err != nil {
		return nil, err
	}
	d := h()
	d.Write(data)
	return d.Sum(nil), nil
}

func (p *Go) HMAC(uri string, key *keys.HMACKey, data []byte) ([]byte, error) {
	if !algo.IsHMAC(uri) {
		return nil, errs.Unsupported("hmac", "hmac algorithm", uri)
	}
	if key == nil {
		return nil, errs.Crypto("hmac", "", "no key")
	}
	h, err := newHash(algo.SignatureDigest(uri))
	if err != nil {
		return nil, err
	}
	m := hmac.New(h, key.Secret())
	m.Write(data)
	return m.Sum(nil), nil
}

// digestFor hashes data with the digest a signature method implies.
func (p *Go) digestFor(uri string, data []byte) (crypto.Hash, []byte, error) {
	d := algo.SignatureDigest(uri)
	h, ok := Hash(d)
	if !ok {
		return 0, nil, errs.Unsupported("sign", "signature algorithm", uri)
	}
	sum, err := p.Digest(d, data)
	return h, sum, err
}

func (p *Go) Sign(uri string, key keys.Key, data []byte) ([]byte, error) {
	if err := p.require("sign", uri, algo.ClassSignature); err != nil {
		return nil, err
	}
	if err := checkKey("sign", uri, key); err != nil {
		return nil, err
	}
	switch k := key.(type) {
	case *keys.HMACKey:
		return p.HMAC(uri, k, data)
	case *keys.RSAKey:
		if k.Signer == nil {
			return nil, errs.Crypto("sign", "rsa", "public key only")
		}
		h, sum, err := p.digestFor(uri, data)
		if err != nil {
			return nil, err
		}
		sig, err := k.Signer.Sign(p.opts.Random, sum, h)
		if err != nil {
			return nil, errs.WrapCrypto("sign", "rsa", err)
		}
		return sig, nil
	case *keys.ECDSAKey:
		if k.Signer == nil {
			return nil, errs.Crypto("sign", "ecdsa", "public key only")
		}
		h, sum, err := p.digestFor(uri, data)
		if err != nil {
			return nil, err
		}
		der, err := k.Signer.Sign(p.opts.Random, sum, h)
		if err != nil {
			return nil, errs.WrapCrypto("sign", "ecdsa", err)
		}
		return rawECDSA(der, k.Public)
	case *keys.Ed25519Key:
		if k.Signer == nil {
			return nil, errs.Crypto("sign", "ed25519", "public key only")
		}
		sig, err := k.Signer.Sign(p.opts.Random, data, crypto.Hash(0))
		if err != nil {
			return nil, errs.WrapCrypto("sign", "ed25519", err)
		}
		return sig, nil
	}
	return nil, errs.Crypto("sign", key.Type().String(), "cannot sign")
}

func (p *Go) VerifySignature(uri string, key keys.Key, data, signature []byte) (bool, error) {
	if err := p.require("verify", uri, algo.ClassSignature); err != nil {
		return false, err
	}
	if err := checkKey("verify", uri, key); err != nil {
		return false, err
	}
	switch k := key.(type) {
	case *keys.HMACKey:
		mac, err := p.HMAC(uri, k, data)
		if err != nil {
			return false, err
		}
		return hmac.Equal(mac, signature), nil
	case *keys.RSAKey:
		h, sum, err := p.digestFor(uri, data)
		if err != nil {
			return false, err
		}
		return rsa.VerifyPKCS1v15(k.Public, h, sum, signature) == nil, nil
	case *keys.ECDSAKey:
		_, sum, err := p.digestFor(uri, data)
		if err != nil {
			return false, err
		}
		size := curveBytes(k.Public)
		if len(signature) != 2*size {
			return false, nil
		}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])
		return ecdsa.Verify(k.Public, sum, r, s), nil
	case *keys.Ed25519Key:
		return ed25519.Verify(k.Public, data, signature), nil
	}
	return false, errs.Crypto("verify", key.Type().String(), "cannot verify")
}

func curveBytes(pub *ecdsa.PublicKey) int {
	return (pub.Curve.Params().BitSize + 7) / 8
}

// rawECDSA turns an ASN.1 ECDSA signature into the fixed width r || s form
// XML signatures carry.
func rawECDSA(der []byte, pub *ecdsa.PublicKey) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	in := cryptobyte.String(der)
	if !in.ReadASN1(&inner, cbasn1.SEQUENCE) || !in.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, errs.Crypto("sign", "ecdsa", "malformed signature from signer")
	}
	size := curveBytes(pub)
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out, nil
}
