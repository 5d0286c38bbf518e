package keystore

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/keys"
)

func pemBlock(typ string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
}

func selfSigned(t *testing.T, priv *rsa.PrivateKey) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "xmlsec test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	return pemBlock("CERTIFICATE", der)
}

func TestParsePrivateKey(t *testing.T) {
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, edk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	xk, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	ecDER, err := x509.MarshalECPrivateKey(ek)
	require.NoError(t, err)
	pkcs8 := func(k any) []byte {
		der, err := x509.MarshalPKCS8PrivateKey(k)
		require.NoError(t, err)
		return pemBlock("PRIVATE KEY", der)
	}

	tests := []struct {
		name string
		data []byte
		want keys.Type
	}{
		{"pkcs1 rsa", pemBlock("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rk)), keys.RSA},
		{"sec1 ecdsa", pemBlock("EC PRIVATE KEY", ecDER), keys.ECDSA},
		{"pkcs8 rsa", pkcs8(rk), keys.RSA},
		{"pkcs8 ed25519", pkcs8(edk), keys.Ed25519},
		{"pkcs8 x25519", pkcs8(xk), keys.X25519},
		{"after other blocks", append(selfSigned(t, rk), pkcs8(rk)...), keys.RSA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParsePrivateKey(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.Type())
		})
	}

	t.Run("rsa keys can decrypt", func(t *testing.T) {
		k, err := ParsePrivateKey(pkcs8(rk))
		require.NoError(t, err)
		assert.NotNil(t, k.(*keys.RSAKey).Decrypter)
	})

	t.Run("no key", func(t *testing.T) {
		_, err := ParsePrivateKey(selfSigned(t, rk))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParsePrivateKey(pemBlock("PRIVATE KEY", []byte("not der")))
		assert.Error(t, err)
	})
}

func TestLoadKeyPair(t *testing.T) {
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signing.key")
	certPath := filepath.Join(dir, "signing.crt")
	require.NoError(t, os.WriteFile(keyPath, pemBlock("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rk)), 0o600))
	require.NoError(t, os.WriteFile(certPath, selfSigned(t, rk), 0o644))

	k, err := LoadKeyPair(keyPath, certPath)
	require.NoError(t, err)
	cert := keys.CertificateOf(k)
	require.NotNil(t, cert)
	assert.Equal(t, "xmlsec test", cert.Subject.CommonName)

	k, err = LoadKeyPair(keyPath, "")
	require.NoError(t, err)
	assert.Nil(t, keys.CertificateOf(k))

	_, err = LoadKeyPair(filepath.Join(dir, "missing.key"), "")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = LoadKeyPair(keyPath, filepath.Join(dir, "missing.crt"))
	assert.Error(t, err)

	pub, err := LoadPublicKey(certPath)
	require.NoError(t, err)
	assert.Equal(t, keys.RSA, pub.Type())
	assert.NotNil(t, keys.CertificateOf(pub))
}

func TestParsePublicKey(t *testing.T) {
	ek, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&ek.PublicKey)
	require.NoError(t, err)

	k, err := ParsePublicKey(pemBlock("PUBLIC KEY", der))
	require.NoError(t, err)
	assert.Equal(t, keys.ECDSA, k.Type())
	assert.True(t, k.(*keys.ECDSAKey).Public.Equal(&ek.PublicKey))

	_, err = ParsePublicKey([]byte("nothing here"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestParseCertificates(t *testing.T) {
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	certs, err := ParseCertificates(append(selfSigned(t, rk), selfSigned(t, rk)...))
	require.NoError(t, err)
	assert.Len(t, certs, 2)

	_, err = ParseCertificates(pemBlock("RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rk)))
	assert.Error(t, err)
}
