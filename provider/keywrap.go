package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"slices"
)

// Key wrap primitives: AES Key Wrap (RFC 3394) and Triple-DES Key Wrap
// (RFC 3217).

var (
	// ErrWrapInput is returned for key material a wrap algorithm cannot take.
	ErrWrapInput = errors.New("key data must be at least 16 bytes and a multiple of 8")
	// ErrUnwrapInput is returned for wrapped data of the wrong shape.
	ErrUnwrapInput = errors.New("wrapped key must be at least 24 bytes and a multiple of 8")
	// ErrIntegrity is returned when an unwrapped key fails its integrity check.
	ErrIntegrity = errors.New("integrity check failed")
)

// aesKWIV is the default initial value of RFC 3394 section 2.2.3.1.
var aesKWIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// cmsKWIV is the fixed IV of the second Triple-DES encryption in RFC 3217.
var cmsKWIV = []byte{0x4a, 0xdd, 0xa2, 0x2c, 0x79, 0xe8, 0x21, 0x05}

// AESKeyWrap wraps plaintext with kek. The result is 8 bytes longer.
func AESKeyWrap(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext) < 16 || len(plaintext)%8 != 0 {
		return nil, ErrWrapInput
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(plaintext) / 8
	out := make([]byte, 8+len(plaintext))
	copy(out[8:], plaintext)

	var a [8]byte
	copy(a[:], aesKWIV[:])
	b := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			r := out[i*8 : (i+1)*8]
			copy(b[:8], a[:])
			copy(b[8:], r)
			block.Encrypt(b, b)
			t := uint64(n*j + i)
			binary.BigEndian.PutUint64(a[:], binary.BigEndian.Uint64(b[:8])^t)
			copy(r, b[8:])
		}
	}
	copy(out[:8], a[:])
	return out, nil
}

// AESKeyUnwrap reverses AESKeyWrap and checks the integrity value.
func AESKeyUnwrap(kek, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 || len(ciphertext)%8 != 0 {
		return nil, ErrUnwrapInput
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	n := len(ciphertext)/8 - 1
	r := slices.Clone(ciphertext[8:])
	a := binary.BigEndian.Uint64(ciphertext[:8])

	b := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			ri := r[(i-1)*8 : i*8]
			binary.BigEndian.PutUint64(b[:8], a^uint64(n*j+i))
			copy(b[8:], ri)
			block.Decrypt(b, b)
			a = binary.BigEndian.Uint64(b[:8])
			copy(ri, b[8:])
		}
	}
	var got [8]byte
	binary.BigEndian.PutUint64(got[:], a)
	if subtle.ConstantTimeCompare(got[:], aesKWIV[:]) != 1 {
		return nil, ErrIntegrity
	}
	return r, nil
}

// TripleDESKeyWrap wraps cek with kek per RFC 3217. iv is the random
// 8 byte IV of the first encryption.
func TripleDESKeyWrap(kek, cek, iv []byte) ([]byte, error) {
	if len(cek)%8 != 0 || len(cek) == 0 {
		return nil, ErrWrapInput
	}
	block, err := des.NewTripleDESCipher(kek)
	if err != nil {
		return nil, err
	}
	icv := sha1.Sum(cek)
	temp1 := append(slices.Clone(cek), icv[:8]...)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(temp1, temp1)

	temp3 := append(slices.Clone(iv), temp1...)
	slices.Reverse(temp3)
	cipher.NewCBCEncrypter(block, cmsKWIV).CryptBlocks(temp3, temp3)
	return temp3, nil
}

// TripleDESKeyUnwrap reverses TripleDESKeyWrap and checks the SHA-1 based
// integrity value.
func TripleDESKeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, ErrUnwrapInput
	}
	block, err := des.NewTripleDESCipher(kek)
	if err != nil {
		return nil, err
	}
	temp2 := slices.Clone(wrapped)
	cipher.NewCBCDecrypter(block, cmsKWIV).CryptBlocks(temp2, temp2)
	slices.Reverse(temp2)

	iv, temp1 := temp2[:8], temp2[8:]
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(temp1, temp1)

	cek, icv := temp1[:len(temp1)-8], temp1[len(temp1)-8:]
	sum := sha1.Sum(cek)
	if subtle.ConstantTimeCompare(sum[:8], icv) != 1 {
		return nil, ErrIntegrity
	}
	return slices.Clone(cek), nil
}
