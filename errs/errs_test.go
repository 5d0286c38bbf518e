package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		structural  bool
		unsupported bool
		crypto      bool
	}{
		{"structural", Structural("c14n", "undeclared prefix %q", "foo"), true, false, false},
		{"unsupported", Unsupported("digest", "digest", "urn:nope"), false, true, false},
		{"crypto", Crypto("sign", "hmac", "no signing key"), false, false, true},
		{"wrapped structural", fmt.Errorf("outer: %w", Structural("x", "y")), true, false, false},
		{"plain", errors.New("plain"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.structural, IsStructural(tt.err))
			assert.Equal(t, tt.unsupported, IsUnsupported(tt.err))
			assert.Equal(t, tt.crypto, IsCrypto(tt.err))
		})
	}
}

func TestUnsupportedCarriesIdentifier(t *testing.T) {
	err := Unsupported("signature", "signature", "http://example.com/alg")
	var ue *UnsupportedAlgorithmError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "http://example.com/alg", ue.Algorithm)
	assert.Contains(t, err.Error(), "http://example.com/alg")
}

func TestWithContextKeepsKind(t *testing.T) {
	base := Crypto("unwrap", "kw-aes128", "integrity check failed")
	err := WithContext(base, `reference "#obj"`)

	var ce *CryptoError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, `reference "#obj"`, ce.Context)
	assert.Equal(t, "xmlsec: unwrap: reference \"#obj\": key kw-aes128: integrity check failed", err.Error())

	nested := WithContext(err, "signature")
	require.True(t, errors.As(nested, &ce))
	assert.Equal(t, `signature: reference "#obj"`, ce.Context)

	plain := WithContext(errors.New("boom"), "ctx")
	assert.False(t, Classified(plain))
	assert.Equal(t, "ctx: boom", plain.Error())

	assert.Nil(t, WithContext(nil, "ctx"))
}

func TestWrapCryptoDoesNotReclassify(t *testing.T) {
	s := Structural("parse", "missing CipherData")
	assert.Same(t, s, WrapCrypto("decrypt", "", s))
	assert.True(t, IsCrypto(WrapCrypto("decrypt", "", errors.New("bad padding"))))
	assert.Nil(t, WrapCrypto("decrypt", "", nil))
}
