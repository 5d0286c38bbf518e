package provider

import (
	"crypto"
	"crypto/rsa"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
)

func (p *Go) WrapKey(uri string, kek keys.Key, raw []byte, wp WrapParams) ([]byte, error) {
	if err := p.requireWrap("wrap", uri); err != nil {
		return nil, err
	}
	if err := checkKey("wrap", uri, kek); err != nil {
		return nil, err
	}
	switch k := kek.(type) {
	case *keys.SymmetricKey:
		var (
			out []byte
			err error
		)
		if k.Type() == keys.TripleDES {
			iv, rerr := p.RandomBytes(8)
			if rerr != nil {
				return nil, rerr
			}
			out, err = TripleDESKeyWrap(k.Raw(), raw, iv)
		} else {
			out, err = AESKeyWrap(k.Raw(), raw)
		}
		if err != nil {
			return nil, errs.WrapCrypto("wrap", k.Type().String(), err)
		}
		return out, nil
	case *keys.RSAKey:
		if k.Public == nil {
			return nil, errs.Crypto("wrap", "rsa", "no public key")
		}
		if uri == algo.RSAv15 {
			out, err := rsa.EncryptPKCS1v15(p.opts.Random, k.Public, raw)
			if err != nil {
				return nil, errs.WrapCrypto("wrap", "rsa", err)
			}
			return out, nil
		}
		h, mgf, err := oaepHashes(uri, wp)
		if err != nil {
			return nil, err
		}
		if h != mgf {
			return nil, errs.Unsupported("wrap", "OAEP digest and MGF combination", wp.DigestMethod+" with "+wp.MGF)
		}
		out, err := rsa.EncryptOAEP(h.New(), p.opts.Random, k.Public, raw, oaepLabel(k, wp))
		if err != nil {
			return nil, errs.WrapCrypto("wrap", "rsa", err)
		}
		return out, nil
	}
	return nil, errs.Crypto("wrap", kek.Type().String(), "cannot wrap keys")
}

func (p *Go) UnwrapKey(uri string, kek keys.Key, wrapped []byte, wp WrapParams) ([]byte, error) {
	if err := p.requireWrap("unwrap", uri); err != nil {
		return nil, err
	}
	if err := checkKey("unwrap", uri, kek); err != nil {
		return nil, err
	}
	switch k := kek.(type) {
	case *keys.SymmetricKey:
		var (
			out []byte
			err error
		)
		if k.Type() == keys.TripleDES {
			out, err = TripleDESKeyUnwrap(k.Raw(), wrapped)
		} else {
			out, err = AESKeyUnwrap(k.Raw(), wrapped)
		}
		if err != nil {
			return nil, errs.WrapCrypto("unwrap", k.Type().String(), err)
		}
		return out, nil
	case *keys.RSAKey:
		if k.Decrypter == nil {
			return nil, errs.Crypto("unwrap", "rsa", "public key only")
		}
		var opts crypto.DecrypterOpts
		if uri == algo.RSAv15 {
			opts = &rsa.PKCS1v15DecryptOptions{}
		} else {
			h, mgf, err := oaepHashes(uri, wp)
			if err != nil {
				return nil, err
			}
			opts = &rsa.OAEPOptions{Hash: h, MGFHash: mgf, Label: oaepLabel(k, wp)}
		}
		out, err := k.Decrypter.Decrypt(p.opts.Random, wrapped, opts)
		if err != nil {
			return nil, errs.WrapCrypto("unwrap", "rsa", err)
		}
		return out, nil
	}
	return nil, errs.Crypto("unwrap", kek.Type().String(), "cannot unwrap keys")
}

func (p *Go) requireWrap(op, uri string) error {
	switch algo.ClassOf(uri) {
	case algo.ClassKeyWrap, algo.ClassKeyTransport:
		if p.AlgorithmSupported(uri) {
			return nil
		}
	}
	return errs.Unsupported(op, "key wrap algorithm", uri)
}

// oaepHashes returns the OAEP digest and MGF1 digest. rsa-oaep-mgf1p always
// uses MGF1 with SHA-1.
func oaepHashes(uri string, wp WrapParams) (crypto.Hash, crypto.Hash, error) {
	digest := wp.DigestMethod
	if digest == "" {
		digest = algo.SHA1
	}
	h, ok := Hash(digest)
	if !ok || h == crypto.RIPEMD160 {
		return 0, 0, errs.Unsupported("oaep", "digest algorithm", digest)
	}
	mgfURI := algo.SHA1
	if uri == algo.RSAOAEP11 {
		mgfURI = algo.MGFDigest(wp.MGF)
		if mgfURI == "" {
			return 0, 0, errs.Unsupported("oaep", "mask generation function", wp.MGF)
		}
	}
	mgf, _ := Hash(mgfURI)
	return h, mgf, nil
}

func oaepLabel(k *keys.RSAKey, wp WrapParams) []byte {
	if wp.OAEPParams != nil {
		return wp.OAEPParams
	}
	return k.OAEPParams
}
