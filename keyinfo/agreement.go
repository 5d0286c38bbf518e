package keyinfo

import (
	"encoding/base64"
	"strconv"

	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/transforms"
)

const prefixDSigMore = "dsig-more"

// AgreementMethod is an xenc:AgreementMethod: the key encryption key is
// derived from a key agreement between originator and recipient.
type AgreementMethod struct {
	Algorithm  string
	KANonce    []byte
	Derivation *KeyDerivationMethod
	Originator *List
	Recipient  *List
}

// KeyDerivationMethod is an xenc11:KeyDerivationMethod. Only HKDF parameters
// are modelled.
type KeyDerivationMethod struct {
	Algorithm string
	HKDF      *HKDFParams
}

// HKDFParams are the RFC 5869 parameters. KeyLength is in bits.
type HKDFParams struct {
	PRF       string
	Salt      []byte
	Info      []byte
	KeyLength int
}

func (*AgreementMethod) Kind() Kind { return KindAgreementMethod }

func (a *AgreementMethod) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewElement(parent, p.XEnc, "AgreementMethod", algo.NamespaceXMLEnc)
	el.CreateAttr("Algorithm", a.Algorithm)
	if len(a.KANonce) > 0 {
		text(el, p.XEnc, "KA-Nonce", base64.StdEncoding.EncodeToString(a.KANonce))
	}
	if a.Derivation != nil {
		a.Derivation.marshal(el)
	}
	if a.Originator != nil {
		keyInfoAs(el, p, "OriginatorKeyInfo", a.Originator)
	}
	if a.Recipient != nil {
		keyInfoAs(el, p, "RecipientKeyInfo", a.Recipient)
	}
	return el
}

// keyInfoAs renders l's items inside an xenc element of KeyInfo type.
func keyInfoAs(parent *etree.Element, p dom.Prefixes, local string, l *List) {
	el := dom.NewChild(parent, p.XEnc, local)
	dom.EnsureDeclared(el, p.DSig, algo.NamespaceDSig)
	for _, it := range l.items {
		it.marshal(el, p)
	}
}

func (k *KeyDerivationMethod) marshal(parent *etree.Element) {
	el := dom.NewElement(parent, prefixXEnc11, "KeyDerivationMethod", algo.NamespaceXMLEnc11)
	el.CreateAttr("Algorithm", k.Algorithm)
	if k.HKDF == nil {
		return
	}
	hp := dom.NewElement(el, prefixDSigMore, "HKDFParams", algo.NamespaceDSigMore)
	if k.HKDF.PRF != "" {
		dom.NewChild(hp, prefixDSigMore, "PRF").CreateAttr("Algorithm", k.HKDF.PRF)
	}
	if len(k.HKDF.Salt) > 0 {
		salt := dom.NewChild(hp, prefixDSigMore, "Salt")
		text(salt, prefixDSigMore, "Specified", base64.StdEncoding.EncodeToString(k.HKDF.Salt))
	}
	if len(k.HKDF.Info) > 0 {
		text(hp, prefixDSigMore, "Info", base64.StdEncoding.EncodeToString(k.HKDF.Info))
	}
	if k.HKDF.KeyLength > 0 {
		text(hp, prefixDSigMore, "KeyLength", strconv.Itoa(k.HKDF.KeyLength))
	}
}

// ParseAgreementMethod reads an xenc:AgreementMethod element.
func ParseAgreementMethod(el *etree.Element) (*AgreementMethod, error) {
	a := &AgreementMethod{Algorithm: el.SelectAttrValue("Algorithm", "")}
	if a.Algorithm == "" {
		return nil, errs.Structural("xmlenc", "AgreementMethod without Algorithm")
	}
	if n := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "KA-Nonce"); n != nil {
		b, err := transforms.DecodeBase64(dom.Text(n))
		if err != nil {
			return nil, errs.WithContext(err, "KA-Nonce")
		}
		a.KANonce = b
	}
	if kdm := dom.FirstChildNS(el, algo.NamespaceXMLEnc11, "KeyDerivationMethod"); kdm != nil {
		k, err := parseKeyDerivationMethod(kdm)
		if err != nil {
			return nil, err
		}
		a.Derivation = k
	}
	for _, side := range []struct {
		local string
		dst   **List
	}{{"OriginatorKeyInfo", &a.Originator}, {"RecipientKeyInfo", &a.Recipient}} {
		c := dom.FirstChildNS(el, algo.NamespaceXMLEnc, side.local)
		if c == nil {
			continue
		}
		l, err := ParseList(c)
		if err != nil {
			return nil, errs.WithContext(err, side.local)
		}
		*side.dst = l
	}
	return a, nil
}

func parseKeyDerivationMethod(el *etree.Element) (*KeyDerivationMethod, error) {
	k := &KeyDerivationMethod{Algorithm: el.SelectAttrValue("Algorithm", "")}
	var hp *etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == "HKDFParams" {
			hp = c
			break
		}
	}
	if hp == nil {
		return k, nil
	}
	k.HKDF = &HKDFParams{}
	for _, c := range hp.ChildElements() {
		switch c.Tag {
		case "PRF":
			k.HKDF.PRF = c.SelectAttrValue("Algorithm", "")
		case "Salt":
			for _, s := range c.ChildElements() {
				if s.Tag != "Specified" {
					continue
				}
				b, err := transforms.DecodeBase64(dom.Text(s))
				if err != nil {
					return nil, errs.WithContext(err, "HKDF Salt")
				}
				k.HKDF.Salt = b
			}
		case "Info":
			b, err := transforms.DecodeBase64(dom.Text(c))
			if err != nil {
				return nil, errs.WithContext(err, "HKDF Info")
			}
			k.HKDF.Info = b
		case "KeyLength":
			n, err := strconv.Atoi(dom.TrimmedText(c))
			if err != nil || n <= 0 {
				return nil, errs.Structural("xmlenc", "bad HKDF KeyLength %q", dom.TrimmedText(c))
			}
			k.HKDF.KeyLength = n
		}
	}
	return k, nil
}
