// Package keyinfo models ds:KeyInfo and the XML Encryption structures that can
// appear in it. A KeyInfo is an ordered List of Items; the set of Item types is
// closed and callers select items by type with Find and FindAll.
package keyinfo

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"math/big"

	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/transforms"
)

// Kind discriminates Items.
type Kind int

const (
	KindX509Data Kind = iota + 1
	KindKeyName
	KindPGPData
	KindSPKIData
	KindMgmtData
	KindEncryptedKey
	KindKeyValue
	KindAgreementMethod
	KindRetrievalMethod
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindX509Data:
		return "X509Data"
	case KindKeyName:
		return "KeyName"
	case KindPGPData:
		return "PGPData"
	case KindSPKIData:
		return "SPKIData"
	case KindMgmtData:
		return "MgmtData"
	case KindEncryptedKey:
		return "EncryptedKey"
	case KindKeyValue:
		return "KeyValue"
	case KindAgreementMethod:
		return "AgreementMethod"
	case KindRetrievalMethod:
		return "RetrievalMethod"
	}
	return "unknown"
}

// Item is one child of a KeyInfo. Implementations are the types of this
// package only.
type Item interface {
	Kind() Kind
	marshal(parent *etree.Element, p dom.Prefixes) *etree.Element
}

// X509Data carries a subject name, an issuer/serial pair and certificates.
// SubjectName and IssuerName are held decoded; the XML form escapes them.
type X509Data struct {
	SubjectName  string
	IssuerName   string
	SerialNumber *big.Int
	Certificates []*x509.Certificate
}

// KeyName names the key.
type KeyName struct {
	Name string
}

// PGPData identifies a PGP key.
type PGPData struct {
	KeyID     string
	KeyPacket string
}

// SPKIData holds SPKI S-expressions in order.
type SPKIData struct {
	Sexps []string
}

func (s *SPKIData) AppendSexp(sexp string) { s.Sexps = append(s.Sexps, sexp) }
func (s *SPKIData) SexpSize() int          { return len(s.Sexps) }

// MgmtData is in-band key management data.
type MgmtData struct {
	Data string
}

// KeyValue is a public key given in the clear.
type KeyValue struct {
	RSA *rsa.PublicKey
	EC  *ECKeyValue
}

// ECKeyValue is a dsig11:ECKeyValue: a named curve and an encoded point.
type ECKeyValue struct {
	NamedCurve string
	PublicKey  []byte
}

// RetrievalMethod points at KeyInfo held elsewhere. It is carried, not
// dereferenced.
type RetrievalMethod struct {
	URI  string
	Type string
}

// Unknown is a KeyInfo child this package does not model. It is kept so that
// a parsed list marshals back unchanged.
type Unknown struct {
	Element *etree.Element
}

func (*X509Data) Kind() Kind        { return KindX509Data }
func (*KeyName) Kind() Kind         { return KindKeyName }
func (*PGPData) Kind() Kind         { return KindPGPData }
func (*SPKIData) Kind() Kind        { return KindSPKIData }
func (*MgmtData) Kind() Kind        { return KindMgmtData }
func (*KeyValue) Kind() Kind        { return KindKeyValue }
func (*RetrievalMethod) Kind() Kind { return KindRetrievalMethod }
func (*Unknown) Kind() Kind         { return KindUnknown }

// List is the content of a ds:KeyInfo element. Once bound to an element by
// Marshal or ParseList, appended items are rendered immediately.
type List struct {
	Id    string
	items []Item

	el       *etree.Element
	prefixes dom.Prefixes
}

func NewList() *List { return &List{prefixes: dom.DefaultPrefixes} }

// Append adds it at the end. A list read by ParseList stays editable: the item
// is written into the parsed element, with the element's own ds prefix, so a
// loaded signature or encrypted data can carry more key information.
func (l *List) Append(it Item) {
	l.items = append(l.items, it)
	if l.el != nil {
		it.marshal(l.el, l.prefixes)
	}
}

func (l *List) Len() int { return len(l.items) }

func (l *List) Item(i int) Item { return l.items[i] }

func (l *List) Items() []Item { return l.items }

// Element is the ds:KeyInfo element l is bound to.
func (l *List) Element() *etree.Element { return l.el }

// Find returns the first item of type T.
func Find[T Item](l *List) (T, bool) {
	var zero T
	if l == nil {
		return zero, false
	}
	for _, it := range l.items {
		if t, ok := it.(T); ok {
			return t, true
		}
	}
	return zero, false
}

// FindAll returns every item of type T in order.
func FindAll[T Item](l *List) []T {
	if l == nil {
		return nil
	}
	var out []T
	for _, it := range l.items {
		if t, ok := it.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Marshal renders l as a ds:KeyInfo child of parent, or as a detached element
// when parent is nil, and binds l to it.
func (l *List) Marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	l.prefixes = p
	l.el = dom.NewElement(parent, p.DSig, "KeyInfo", algo.NamespaceDSig)
	if l.Id != "" {
		l.el.CreateAttr("Id", l.Id)
	}
	for _, it := range l.items {
		it.marshal(l.el, p)
	}
	return l.el
}

// PublicKey returns the first key the list gives in usable form: a KeyValue,
// else the first X.509 certificate.
func (l *List) PublicKey() (keys.Key, bool) {
	for _, kv := range FindAll[*KeyValue](l) {
		if kv.RSA != nil {
			return &keys.RSAKey{Public: kv.RSA}, true
		}
	}
	for _, x := range FindAll[*X509Data](l) {
		for _, c := range x.Certificates {
			if k, err := keys.FromCertificate(c); err == nil {
				return k, true
			}
		}
	}
	return nil, false
}

func text(parent *etree.Element, prefix, local, value string) *etree.Element {
	e := dom.NewChild(parent, prefix, local)
	e.SetText(value)
	return e
}

func (x *X509Data) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "X509Data")
	if x.IssuerName != "" && x.SerialNumber != nil {
		is := dom.NewChild(el, p.DSig, "X509IssuerSerial")
		text(is, p.DSig, "X509IssuerName", EncodeDName(x.IssuerName))
		text(is, p.DSig, "X509SerialNumber", x.SerialNumber.String())
	}
	if x.SubjectName != "" {
		text(el, p.DSig, "X509SubjectName", EncodeDName(x.SubjectName))
	}
	for _, c := range x.Certificates {
		text(el, p.DSig, "X509Certificate", base64.StdEncoding.EncodeToString(c.Raw))
	}
	return el
}

func (k *KeyName) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	return text(parent, p.DSig, "KeyName", k.Name)
}

func (d *PGPData) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "PGPData")
	if d.KeyID != "" {
		text(el, p.DSig, "PGPKeyID", d.KeyID)
	}
	if d.KeyPacket != "" {
		text(el, p.DSig, "PGPKeyPacket", d.KeyPacket)
	}
	return el
}

func (s *SPKIData) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "SPKIData")
	for _, sexp := range s.Sexps {
		text(el, p.DSig, "SPKISexp", sexp)
	}
	return el
}

func (m *MgmtData) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	return text(parent, p.DSig, "MgmtData", m.Data)
}

func (r *RetrievalMethod) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "RetrievalMethod")
	el.CreateAttr("URI", r.URI)
	if r.Type != "" {
		el.CreateAttr("Type", r.Type)
	}
	return el
}

func (u *Unknown) marshal(parent *etree.Element, _ dom.Prefixes) *etree.Element {
	el := u.Element.Copy()
	parent.AddChild(el)
	return el
}

const prefixDSig11 = "dsig11"

func (k *KeyValue) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "KeyValue")
	switch {
	case k.RSA != nil:
		rv := dom.NewChild(el, p.DSig, "RSAKeyValue")
		text(rv, p.DSig, "Modulus", base64.StdEncoding.EncodeToString(k.RSA.N.Bytes()))
		text(rv, p.DSig, "Exponent", base64.StdEncoding.EncodeToString(big.NewInt(int64(k.RSA.E)).Bytes()))
	case k.EC != nil:
		ec := dom.NewElement(el, prefixDSig11, "ECKeyValue", algo.NamespaceDSig11)
		if k.EC.NamedCurve != "" {
			dom.NewChild(ec, prefixDSig11, "NamedCurve").CreateAttr("URI", k.EC.NamedCurve)
		}
		text(ec, prefixDSig11, "PublicKey", base64.StdEncoding.EncodeToString(k.EC.PublicKey))
	}
	return el
}

// ParseList reads a ds:KeyInfo element and binds the list to it. Later calls
// to Append write into el.
func ParseList(el *etree.Element) (*List, error) {
	l := &List{Id: el.SelectAttrValue("Id", ""), el: el, prefixes: dom.DefaultPrefixes}
	l.prefixes.DSig = el.Space
	for _, c := range el.ChildElements() {
		it, err := parseItem(c)
		if err != nil {
			return nil, errs.WithContext(err, "KeyInfo")
		}
		l.items = append(l.items, it)
	}
	return l, nil
}

func parseItem(el *etree.Element) (Item, error) {
	switch el.NamespaceURI() {
	case algo.NamespaceDSig:
		switch el.Tag {
		case "X509Data":
			return parseX509Data(el)
		case "KeyName":
			return &KeyName{Name: dom.Text(el)}, nil
		case "PGPData":
			d := &PGPData{}
			if id := dom.FirstChildNS(el, algo.NamespaceDSig, "PGPKeyID"); id != nil {
				d.KeyID = dom.Text(id)
			}
			if pk := dom.FirstChildNS(el, algo.NamespaceDSig, "PGPKeyPacket"); pk != nil {
				d.KeyPacket = dom.Text(pk)
			}
			return d, nil
		case "SPKIData":
			s := &SPKIData{}
			for _, sx := range dom.ChildrenNS(el, algo.NamespaceDSig, "SPKISexp") {
				s.AppendSexp(dom.Text(sx))
			}
			return s, nil
		case "MgmtData":
			return &MgmtData{Data: dom.Text(el)}, nil
		case "KeyValue":
			return parseKeyValue(el)
		case "RetrievalMethod":
			return &RetrievalMethod{URI: el.SelectAttrValue("URI", ""), Type: el.SelectAttrValue("Type", "")}, nil
		}
	case algo.NamespaceXMLEnc:
		switch el.Tag {
		case "EncryptedKey":
			return ParseEncryptedKey(el)
		case "AgreementMethod":
			return ParseAgreementMethod(el)
		}
	}
	return &Unknown{Element: el.Copy()}, nil
}

func parseX509Data(el *etree.Element) (*X509Data, error) {
	x := &X509Data{}
	if sn := dom.FirstChildNS(el, algo.NamespaceDSig, "X509SubjectName"); sn != nil {
		x.SubjectName = DecodeDName(dom.Text(sn))
	}
	if is := dom.FirstChildNS(el, algo.NamespaceDSig, "X509IssuerSerial"); is != nil {
		if in := dom.FirstChildNS(is, algo.NamespaceDSig, "X509IssuerName"); in != nil {
			x.IssuerName = DecodeDName(dom.Text(in))
		}
		if sn := dom.FirstChildNS(is, algo.NamespaceDSig, "X509SerialNumber"); sn != nil {
			n, ok := new(big.Int).SetString(dom.TrimmedText(sn), 10)
			if !ok {
				return nil, errs.Structural("keyinfo", "bad X509SerialNumber %q", dom.TrimmedText(sn))
			}
			x.SerialNumber = n
		}
	}
	for _, c := range dom.ChildrenNS(el, algo.NamespaceDSig, "X509Certificate") {
		der, err := transforms.DecodeBase64(dom.Text(c))
		if err != nil {
			return nil, errs.WithContext(err, "X509Certificate")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errs.WrapStructural("keyinfo", err)
		}
		x.Certificates = append(x.Certificates, cert)
	}
	return x, nil
}

func parseKeyValue(el *etree.Element) (*KeyValue, error) {
	kv := &KeyValue{}
	if rv := dom.FirstChildNS(el, algo.NamespaceDSig, "RSAKeyValue"); rv != nil {
		n, err := base64Child(rv, algo.NamespaceDSig, "Modulus")
		if err != nil {
			return nil, err
		}
		e, err := base64Child(rv, algo.NamespaceDSig, "Exponent")
		if err != nil {
			return nil, err
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() > 1<<31-1 || exp.Sign() == 0 {
			return nil, errs.Structural("keyinfo", "RSA exponent out of range")
		}
		kv.RSA = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}
	}
	if ec := dom.FirstChildNS(el, algo.NamespaceDSig11, "ECKeyValue"); ec != nil {
		kv.EC = &ECKeyValue{}
		if nc := dom.FirstChildNS(ec, algo.NamespaceDSig11, "NamedCurve"); nc != nil {
			kv.EC.NamedCurve = nc.SelectAttrValue("URI", "")
		}
		pk, err := base64Child(ec, algo.NamespaceDSig11, "PublicKey")
		if err != nil {
			return nil, err
		}
		kv.EC.PublicKey = pk
	}
	return kv, nil
}

func base64Child(el *etree.Element, ns, local string) ([]byte, error) {
	c := dom.FirstChildNS(el, ns, local)
	if c == nil {
		return nil, errs.Structural("keyinfo", "%s has no %s", el.Tag, local)
	}
	b, err := transforms.DecodeBase64(dom.Text(c))
	if err != nil {
		return nil, errs.WithContext(err, local)
	}
	return b, nil
}
