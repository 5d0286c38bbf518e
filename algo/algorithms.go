// Package algo holds the algorithm identifiers understood by the xmlsec engines
// and the size tables that go with them.
package algo

import (
	dsig "github.com/russellhaering/goxmldsig"
)

// Namespaces
const (
	NamespaceDSig     = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceDSig11   = "http://www.w3.org/2009/xmldsig11#"
	NamespaceDSigMore = "http://www.w3.org/2001/04/xmldsig-more#"
	NamespaceXMLEnc   = "http://www.w3.org/2001/04/xmlenc#"
	NamespaceXMLEnc11 = "http://www.w3.org/2009/xmlenc11#"
	NamespaceExcC14N  = "http://www.w3.org/2001/10/xml-exc-c14n#"
	NamespaceFilter2  = "http://www.w3.org/2002/06/xmldsig-filter2"
	NamespaceXML      = "http://www.w3.org/XML/1998/namespace"
	NamespaceXMLNS    = "http://www.w3.org/2000/xmlns/"
)

// Canonicalization
const (
	C14N                = string(dsig.CanonicalXML10RecAlgorithmId)
	C14NWithComments    = string(dsig.CanonicalXML10WithCommentsAlgorithmId)
	ExcC14N             = string(dsig.CanonicalXML10ExclusiveAlgorithmId)
	ExcC14NWithComments = string(dsig.CanonicalXML10ExclusiveWithCommentsAlgorithmId)
)

// Transforms
const (
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	TransformBase64    = "http://www.w3.org/2000/09/xmldsig#base64"
	TransformXPath     = "http://www.w3.org/TR/1999/REC-xpath-19991116"
	TransformXPath2    = "http://www.w3.org/2002/06/xmldsig-filter2"
)

// Digests
const (
	SHA1      = "http://www.w3.org/2000/09/xmldsig#sha1"
	SHA224    = "http://www.w3.org/2001/04/xmldsig-more#sha224"
	SHA256    = "http://www.w3.org/2001/04/xmlenc#sha256"
	SHA384    = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	SHA512    = "http://www.w3.org/2001/04/xmlenc#sha512"
	RIPEMD160 = "http://www.w3.org/2001/04/xmlenc#ripemd160"
)

// Signatures
const (
	HMACSHA1      = "http://www.w3.org/2000/09/xmldsig#hmac-sha1"
	HMACSHA224    = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha224"
	HMACSHA256    = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha256"
	HMACSHA384    = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha384"
	HMACSHA512    = "http://www.w3.org/2001/04/xmldsig-more#hmac-sha512"
	HMACRIPEMD160 = "http://www.w3.org/2001/04/xmldsig-more#hmac-ripemd160"

	RSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	RSASHA224 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha224"
	RSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	RSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	RSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"

	ECDSASHA1   = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha1"
	ECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	ECDSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384"
	ECDSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512"

	Ed25519 = "http://www.w3.org/2021/04/xmldsig-more#eddsa-ed25519"
)

// Block encryption
const (
	AES128CBC = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"
	AES192CBC = "http://www.w3.org/2001/04/xmlenc#aes192-cbc"
	AES256CBC = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"
	AES128GCM = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	AES192GCM = "http://www.w3.org/2009/xmlenc11#aes192-gcm"
	AES256GCM = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
	TripleDES = "http://www.w3.org/2001/04/xmlenc#tripledes-cbc"
)

// Key transport and key wrap
const (
	RSAv15    = "http://www.w3.org/2001/04/xmlenc#rsa-1_5"
	RSAOAEP   = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	RSAOAEP11 = "http://www.w3.org/2009/xmlenc11#rsa-oaep"

	KWAES128    = "http://www.w3.org/2001/04/xmlenc#kw-aes128"
	KWAES192    = "http://www.w3.org/2001/04/xmlenc#kw-aes192"
	KWAES256    = "http://www.w3.org/2001/04/xmlenc#kw-aes256"
	KWTripleDES = "http://www.w3.org/2001/04/xmlenc#kw-tripledes"
)

// Key agreement and derivation
const (
	X25519 = "http://www.w3.org/2021/04/xmldsig-more#x25519"
	HKDF   = "http://www.w3.org/2021/04/xmldsig-more#hkdf"
)

// MGF functions for xmlenc11 RSA-OAEP
const (
	MGF1SHA1   = "http://www.w3.org/2009/xmlenc11#mgf1sha1"
	MGF1SHA224 = "http://www.w3.org/2009/xmlenc11#mgf1sha224"
	MGF1SHA256 = "http://www.w3.org/2009/xmlenc11#mgf1sha256"
	MGF1SHA384 = "http://www.w3.org/2009/xmlenc11#mgf1sha384"
	MGF1SHA512 = "http://www.w3.org/2009/xmlenc11#mgf1sha512"
)

// EncryptedData Type values
const (
	TypeElement      = "http://www.w3.org/2001/04/xmlenc#Element"
	TypeContent      = "http://www.w3.org/2001/04/xmlenc#Content"
	TypeEncryptedKey = "http://www.w3.org/2001/04/xmlenc#EncryptedKey"
)

// Class groups identifiers by the role they play.
type Class int

const (
	ClassUnknown Class = iota
	ClassCanonicalization
	ClassTransform
	ClassDigest
	ClassSignature
	ClassEncryption
	ClassKeyTransport
	ClassKeyWrap
	ClassKeyAgreement
)

func (c Class) String() string {
	switch c {
	case ClassCanonicalization:
		return "canonicalization"
	case ClassTransform:
		return "transform"
	case ClassDigest:
		return "digest"
	case ClassSignature:
		return "signature"
	case ClassEncryption:
		return "encryption"
	case ClassKeyTransport:
		return "key transport"
	case ClassKeyWrap:
		return "key wrap"
	case ClassKeyAgreement:
		return "key agreement"
	default:
		return "unknown"
	}
}

var classes = map[string]Class{
	C14N: ClassCanonicalization, C14NWithComments: ClassCanonicalization,
	ExcC14N: ClassCanonicalization, ExcC14NWithComments: ClassCanonicalization,

	TransformEnveloped: ClassTransform, TransformBase64: ClassTransform,
	TransformXPath: ClassTransform, TransformXPath2: ClassTransform,

	SHA1: ClassDigest, SHA224: ClassDigest, SHA256: ClassDigest,
	SHA384: ClassDigest, SHA512: ClassDigest, RIPEMD160: ClassDigest,

	HMACSHA1: ClassSignature, HMACSHA224: ClassSignature, HMACSHA256: ClassSignature,
	HMACSHA384: ClassSignature, HMACSHA512: ClassSignature, HMACRIPEMD160: ClassSignature,
	RSASHA1: ClassSignature, RSASHA224: ClassSignature, RSASHA256: ClassSignature,
	RSASHA384: ClassSignature, RSASHA512: ClassSignature,
	ECDSASHA1: ClassSignature, ECDSASHA256: ClassSignature, ECDSASHA384: ClassSignature,
	ECDSASHA512: ClassSignature, Ed25519: ClassSignature,

	AES128CBC: ClassEncryption, AES192CBC: ClassEncryption, AES256CBC: ClassEncryption,
	AES128GCM: ClassEncryption, AES192GCM: ClassEncryption, AES256GCM: ClassEncryption,
	TripleDES: ClassEncryption,

	RSAv15: ClassKeyTransport, RSAOAEP: ClassKeyTransport, RSAOAEP11: ClassKeyTransport,

	KWAES128: ClassKeyWrap, KWAES192: ClassKeyWrap, KWAES256: ClassKeyWrap, KWTripleDES: ClassKeyWrap,

	X25519: ClassKeyAgreement,
}

// ClassOf returns the class of uri, ClassUnknown when it is not recognised.
func ClassOf(uri string) Class {
	return classes[uri]
}

// DigestSize returns the output size in bytes of a digest or HMAC algorithm, 0 if unknown.
func DigestSize(uri string) int {
	switch uri {
	case SHA1, HMACSHA1, RIPEMD160, HMACRIPEMD160:
		return 20
	case SHA224, HMACSHA224:
		return 28
	case SHA256, HMACSHA256:
		return 32
	case SHA384, HMACSHA384:
		return 48
	case SHA512, HMACSHA512:
		return 64
	default:
		return 0
	}
}

// KeySize returns the key size in bytes for a block cipher or key wrap
// algorithm. Returns 0 if the algorithm is unknown or takes a variable key.
func KeySize(uri string) int {
	switch uri {
	case AES128CBC, AES128GCM, KWAES128:
		return 16
	case AES192CBC, AES192GCM, KWAES192:
		return 24
	case AES256CBC, AES256GCM, KWAES256:
		return 32
	case TripleDES, KWTripleDES:
		return 24
	default:
		return 0
	}
}

func IsGCM(uri string) bool {
	switch uri {
	case AES128GCM, AES192GCM, AES256GCM:
		return true
	}
	return false
}

// IsAES reports whether uri needs an AES implementation. The provider uses it
// to gate AES when the capability is switched off.
func IsAES(uri string) bool {
	switch uri {
	case AES128CBC, AES192CBC, AES256CBC, AES128GCM, AES192GCM, AES256GCM,
		KWAES128, KWAES192, KWAES256:
		return true
	}
	return false
}

func IsHMAC(uri string) bool {
	switch uri {
	case HMACSHA1, HMACSHA224, HMACSHA256, HMACSHA384, HMACSHA512, HMACRIPEMD160:
		return true
	}
	return false
}

// SignatureDigest returns the digest identifier a signature algorithm hashes with.
// Ed25519 returns "" since it signs the message itself.
func SignatureDigest(uri string) string {
	switch uri {
	case HMACSHA1, RSASHA1, ECDSASHA1:
		return SHA1
	case HMACSHA224, RSASHA224:
		return SHA224
	case HMACSHA256, RSASHA256, ECDSASHA256:
		return SHA256
	case HMACSHA384, RSASHA384, ECDSASHA384:
		return SHA384
	case HMACSHA512, RSASHA512, ECDSASHA512:
		return SHA512
	case HMACRIPEMD160:
		return RIPEMD160
	}
	return ""
}

// MGFDigest maps an xmlenc11 MGF identifier to the digest it uses.
func MGFDigest(uri string) string {
	switch uri {
	case "", MGF1SHA1:
		return SHA1
	case MGF1SHA224:
		return SHA224
	case MGF1SHA256:
		return SHA256
	case MGF1SHA384:
		return SHA384
	case MGF1SHA512:
		return SHA512
	}
	return ""
}
