package keys

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
)

func TestSymmetricSizes(t *testing.T) {
	tests := []struct {
		uri  string
		size int
		typ  Type
	}{
		{algo.AES128CBC, 16, AES128},
		{algo.AES192GCM, 24, AES192},
		{algo.KWAES256, 32, AES256},
		{algo.TripleDES, 24, TripleDES},
		{algo.KWTripleDES, 24, TripleDES},
	}
	for _, tt := range tests {
		k, err := SymmetricFor(tt.uri, make([]byte, tt.size))
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.typ, k.Type())

		_, err = SymmetricFor(tt.uri, make([]byte, tt.size-1))
		assert.True(t, errs.IsCrypto(err), tt.uri)
	}

	_, err := SymmetricFor(algo.RSAv15, make([]byte, 16))
	assert.True(t, errs.IsUnsupported(err))

	_, err = AESForSize(make([]byte, 20))
	assert.True(t, errs.IsCrypto(err))
}

func TestCloneIsIndependent(t *testing.T) {
	raw := []byte("abcdefghijklmnop")
	k, err := NewSymmetric(AES128, raw)
	require.NoError(t, err)
	raw[0] = 'X'
	assert.Equal(t, byte('a'), k.Raw()[0])

	c := k.Clone().(*SymmetricKey)
	c.Raw()[0] = 'Z'
	assert.Equal(t, byte('a'), k.Raw()[0])

	h := NewHMAC([]byte("secret"))
	hc := h.Clone().(*HMACKey)
	hc.Secret()[0] = 'S'
	assert.Equal(t, "secret", string(h.Secret()))

	r := &RSAKey{OAEPParams: []byte("12345678")}
	rc := r.Clone().(*RSAKey)
	rc.OAEPParams[0] = '9'
	assert.Equal(t, "12345678", string(r.OAEPParams))
}

func TestFromSignerAndPublicKey(t *testing.T) {
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	k, err := FromSigner(rk)
	require.NoError(t, err)
	rsaKey := k.(*RSAKey)
	assert.NotNil(t, rsaKey.Decrypter)
	assert.Equal(t, RSA, k.Type())

	ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	k, err = FromSigner(ek)
	require.NoError(t, err)
	assert.Equal(t, ECDSA, k.Type())

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	k, err = FromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, Ed25519, k.Type())

	xk, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	k, err = FromPublicKey(xk.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, X25519, k.Type())

	pk, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = FromPublicKey(pk.PublicKey())
	assert.True(t, errs.IsCrypto(err))
}

func TestTypeFor(t *testing.T) {
	typ, ok := TypeFor(algo.HMACSHA256)
	assert.True(t, ok)
	assert.Equal(t, HMAC, typ)

	typ, ok = TypeFor(algo.RSAOAEP)
	assert.True(t, ok)
	assert.Equal(t, RSA, typ)

	_, ok = TypeFor("urn:nothing")
	assert.False(t, ok)
}

func TestFromX509KeyStore(t *testing.T) {
	k, err := FromX509KeyStore(dsig.RandomKeyStoreForTest())
	require.NoError(t, err)
	require.NotNil(t, k.Certificate)
	assert.Equal(t, k.Public, k.Certificate.PublicKey)

	store := Certificates(k, NewHMAC([]byte("x")))
	assert.Len(t, store.Roots, 1)
}
