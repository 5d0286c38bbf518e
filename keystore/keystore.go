// Package keystore loads the keys the engines sign, verify, encrypt and
// decrypt with: PEM files on disk, and PKCS#11 tokens when built with the
// pkcs11 tag.
package keystore

import (
	"crypto"
	"crypto/ecdh"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/leifj/xmlsec/keys"
)

// ErrKeyNotFound is returned when a key is not in the store.
var ErrKeyNotFound = errors.New("key not found")

// ParsePrivateKey decodes the first private key block of a PEM document.
// PKCS#1, SEC 1 and PKCS#8 blocks are understood; an X25519 PKCS#8 key gives a
// *keys.X25519Key.
func ParsePrivateKey(data []byte) (keys.Key, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no private key in PEM data: %w", ErrKeyNotFound)
		}
		var (
			priv any
			err  error
		)
		switch block.Type {
		case "RSA PRIVATE KEY":
			priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			priv, err = x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", block.Type, err)
		}
		return fromPrivate(priv)
	}
}

func fromPrivate(priv any) (keys.Key, error) {
	switch p := priv.(type) {
	case *ecdh.PrivateKey:
		if p.Curve() != ecdh.X25519() {
			return nil, fmt.Errorf("unsupported ECDH curve %v", p.Curve())
		}
		return keys.NewX25519(p), nil
	case crypto.Signer:
		return keys.FromSigner(p)
	}
	return nil, fmt.Errorf("unsupported private key type %T", priv)
}

// ParseCertificates decodes every CERTIFICATE block of a PEM document.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate in PEM data")
	}
	return certs, nil
}

// ParsePublicKey decodes a PUBLIC KEY or CERTIFICATE block into a key usable
// for verification or key transport.
func ParsePublicKey(data []byte) (keys.Key, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no public key in PEM data: %w", ErrKeyNotFound)
		}
		switch block.Type {
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing public key: %w", err)
			}
			return keys.FromPublicKey(pub)
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing certificate: %w", err)
			}
			return keys.FromCertificate(cert)
		}
	}
}

// LoadKeyPair reads a private key file and, when certPath is not empty, the
// certificate that goes with it.
func LoadKeyPair(keyPath, certPath string) (keys.Key, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", keyPath, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	k, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}
	if certPath == "" {
		return k, nil
	}
	certs, err := LoadCertificates(certPath)
	if err != nil {
		return nil, err
	}
	return keys.WithCertificate(k, certs[0]), nil
}

// LoadCertificates reads a PEM certificate file; the leaf comes first.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return certs, nil
}

// LoadPublicKey reads a PEM public key or certificate file.
func LoadPublicKey(path string) (keys.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	k, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}
