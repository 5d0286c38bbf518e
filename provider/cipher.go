package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
)

func blockFor(op string, key *keys.SymmetricKey) (cipher.Block, error) {
	var (
		b   cipher.Block
		err error
	)
	if key.Type() == keys.TripleDES {
		b, err = des.NewTripleDESCipher(key.Raw())
	} else {
		b, err = aes.NewCipher(key.Raw())
	}
	if err != nil {
		return nil, errs.WrapCrypto(op, key.Type().String(), err)
	}
	return b, nil
}

func (p *Go) SymmetricEncrypt(uri string, key *keys.SymmetricKey, iv, data []byte) ([]byte, error) {
	if err := p.require("encrypt", uri, algo.ClassEncryption); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errs.Crypto("encrypt", "", "no key")
	}
	if err := checkKey("encrypt", uri, key); err != nil {
		return nil, err
	}
	block, err := blockFor("encrypt", key)
	if err != nil {
		return nil, err
	}
	if algo.IsGCM(uri) {
		return p.gcmSeal(block, iv, data)
	}
	return p.cbcEncrypt(block, iv, data)
}

func (p *Go) SymmetricDecrypt(uri string, key *keys.SymmetricKey, data []byte) ([]byte, error) {
	if err := p.require("decrypt", uri, algo.ClassEncryption); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errs.Crypto("decrypt", "", "no key")
	}
	if err := checkKey("decrypt", uri, key); err != nil {
		return nil, err
	}
	block, err := blockFor("decrypt", key)
	if err != nil {
		return nil, err
	}
	if algo.IsGCM(uri) {
		return gcmOpen(block, data)
	}
	return cbcDecrypt(block, data)
}

// cbcEncrypt pads with n bytes of value n, one of the paddings XML
// Encryption allows.
func (p *Go) cbcEncrypt(block cipher.Block, iv, data []byte) ([]byte, error) {
	bs := block.BlockSize()
	if iv == nil {
		var err error
		if iv, err = p.RandomBytes(bs); err != nil {
			return nil, err
		}
	}
	if len(iv) != bs {
		return nil, errs.Crypto("encrypt", "", "IV must be %d bytes, got %d", bs, len(iv))
	}
	pad := bs - len(data)%bs
	out := make([]byte, bs+len(data)+pad)
	copy(out, iv)
	copy(out[bs:], data)
	for i := bs + len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[bs:], out[bs:])
	return out, nil
}

// cbcDecrypt only looks at the last padding byte: XML Encryption leaves the
// other padding bytes arbitrary. CBC has no integrity check, so a changed IV or
// ciphertext block decrypts to altered plaintext without error unless it
// breaks that byte. Only the GCM methods detect tampering.
func cbcDecrypt(block cipher.Block, data []byte) ([]byte, error) {
	bs := block.BlockSize()
	if len(data) < 2*bs || len(data)%bs != 0 {
		return nil, errs.Crypto("decrypt", "", "ciphertext of %d bytes is not IV plus whole blocks", len(data))
	}
	out := make([]byte, len(data)-bs)
	cipher.NewCBCDecrypter(block, data[:bs]).CryptBlocks(out, data[bs:])
	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs {
		return nil, errs.Crypto("decrypt", "", "bad padding")
	}
	return out[:len(out)-pad], nil
}

func (p *Go) gcmSeal(block cipher.Block, iv, data []byte) ([]byte, error) {
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.WrapCrypto("encrypt", "aes-gcm", err)
	}
	if iv == nil {
		if iv, err = p.RandomBytes(gcm.NonceSize()); err != nil {
			return nil, err
		}
	}
	if len(iv) != gcm.NonceSize() {
		return nil, errs.Crypto("encrypt", "aes-gcm", "IV must be %d bytes, got %d", gcm.NonceSize(), len(iv))
	}
	return gcm.Seal(append([]byte(nil), iv...), iv, data, nil), nil
}

func gcmOpen(block cipher.Block, data []byte) ([]byte, error) {
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.WrapCrypto("decrypt", "aes-gcm", err)
	}
	n := gcm.NonceSize()
	if len(data) < n+gcm.Overhead() {
		return nil, errs.Crypto("decrypt", "aes-gcm", "ciphertext too short")
	}
	out, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, errs.WrapCrypto("decrypt", "aes-gcm", err)
	}
	return out, nil
}
