package keys

import (
	"crypto/x509"

	dsig "github.com/russellhaering/goxmldsig"

	"github.com/leifj/xmlsec/errs"
)

// FromX509KeyStore returns the RSA key pair held by a goxmldsig key store,
// with its certificate attached.
func FromX509KeyStore(ks dsig.X509KeyStore) (*RSAKey, error) {
	priv, der, err := ks.GetKeyPair()
	if err != nil {
		return nil, errs.WrapCrypto("key", "x509 key store", err)
	}
	k := &RSAKey{Public: &priv.PublicKey, Signer: priv, Decrypter: priv}
	if len(der) > 0 {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errs.WrapCrypto("key", "x509 key store", err)
		}
		k.Certificate = cert
	}
	return k, nil
}

// Certificates collects the certificates attached to ks, for use as
// a goxmldsig certificate store.
func Certificates(ks ...Key) *dsig.MemoryX509CertificateStore {
	store := &dsig.MemoryX509CertificateStore{}
	for _, k := range ks {
		if c := CertificateOf(k); c != nil {
			store.Roots = append(store.Roots, c)
		}
	}
	return store
}
