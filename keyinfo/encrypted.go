package keyinfo

import (
	"encoding/base64"
	"strconv"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/provider"
	"github.com/leifj/xmlsec/reference"
	"github.com/leifj/xmlsec/transforms"
)

const prefixXEnc11 = "xenc11"

// EncryptionMethod is an xenc:EncryptionMethod.
type EncryptionMethod struct {
	Algorithm string
	// KeySize is in bits, 0 when absent.
	KeySize    int
	OAEPParams []byte
	// DigestMethod and MGF parameterize RSA-OAEP.
	DigestMethod string
	MGF          string
}

// WrapParams returns the key transport parameters m carries.
func (m *EncryptionMethod) WrapParams() provider.WrapParams {
	if m == nil {
		return provider.WrapParams{}
	}
	return provider.WrapParams{OAEPParams: m.OAEPParams, DigestMethod: m.DigestMethod, MGF: m.MGF}
}

func (m *EncryptionMethod) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.XEnc, "EncryptionMethod")
	el.CreateAttr("Algorithm", m.Algorithm)
	if m.KeySize > 0 {
		text(el, p.XEnc, "KeySize", strconv.Itoa(m.KeySize))
	}
	if len(m.OAEPParams) > 0 {
		text(el, p.XEnc, "OAEPparams", base64.StdEncoding.EncodeToString(m.OAEPParams))
	}
	if m.DigestMethod != "" {
		dom.NewElement(el, p.DSig, "DigestMethod", algo.NamespaceDSig).CreateAttr("Algorithm", m.DigestMethod)
	}
	if m.MGF != "" {
		dom.NewElement(el, prefixXEnc11, "MGF", algo.NamespaceXMLEnc11).CreateAttr("Algorithm", m.MGF)
	}
	return el
}

func parseEncryptionMethod(el *etree.Element) (*EncryptionMethod, error) {
	m := &EncryptionMethod{Algorithm: el.SelectAttrValue("Algorithm", "")}
	if m.Algorithm == "" {
		return nil, errs.Structural("xmlenc", "EncryptionMethod without Algorithm")
	}
	if ks := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "KeySize"); ks != nil {
		n, err := strconv.Atoi(dom.TrimmedText(ks))
		if err != nil || n <= 0 {
			return nil, errs.Structural("xmlenc", "bad KeySize %q", dom.TrimmedText(ks))
		}
		m.KeySize = n
	}
	if op := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "OAEPparams"); op != nil {
		b, err := transforms.DecodeBase64(dom.Text(op))
		if err != nil {
			return nil, errs.WithContext(err, "OAEPparams")
		}
		m.OAEPParams = b
	}
	if dm := dom.FirstChildNS(el, algo.NamespaceDSig, "DigestMethod"); dm != nil {
		m.DigestMethod = dm.SelectAttrValue("Algorithm", "")
	}
	if mgf := dom.FirstChildNS(el, algo.NamespaceXMLEnc11, "MGF"); mgf != nil {
		m.MGF = mgf.SelectAttrValue("Algorithm", "")
	}
	return m, nil
}

// CipherReference locates ciphertext held outside the CipherValue. Its
// transforms turn what the URI resolves to into the octets to decrypt.
type CipherReference struct {
	URI   string
	chain *transforms.Chain
}

func NewCipherReference(uri string) *CipherReference {
	input := transforms.Octets
	if reference.IsSameDocument(uri) {
		input = transforms.NodeSet
	}
	c, _ := transforms.NewChain(input)
	return &CipherReference{URI: uri, chain: c}
}

func (r *CipherReference) Chain() *transforms.Chain { return r.chain }

func (r *CipherReference) AppendTransform(t transforms.Transform) error {
	return r.chain.Append(t)
}

// Resolve returns the ciphertext. A node-set left by the transforms is
// canonicalized.
func (r *CipherReference) Resolve(res *reference.Resolver, logger *zap.Logger) ([]byte, error) {
	in, err := res.Resolve(r.URI)
	if err != nil {
		return nil, err
	}
	if in.Kind() != r.chain.Input() {
		return nil, errs.Structural("xmlenc", "resolved %s, transforms expect %s", in.Kind(), r.chain.Input())
	}
	out, err := r.chain.Apply(&transforms.Context{Logger: logger}, in)
	if err != nil {
		return nil, err
	}
	if out.Kind() == transforms.NodeSet {
		return c14n.New(c14n.Inclusive).CanonicalizeNodeSet(out.Nodes())
	}
	return out.Octets(), nil
}

// CipherData holds either the ciphertext or a reference to it.
type CipherData struct {
	Value     []byte
	Reference *CipherReference
}

func (d *CipherData) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.XEnc, "CipherData")
	if d.Reference != nil {
		cr := dom.NewChild(el, p.XEnc, "CipherReference")
		cr.CreateAttr("URI", d.Reference.URI)
		if d.Reference.chain.Len() > 0 {
			ts := dom.NewChild(cr, p.XEnc, "Transforms")
			dom.EnsureDeclared(ts, p.DSig, algo.NamespaceDSig)
			d.Reference.chain.Marshal(ts, p)
		}
		return el
	}
	text(el, p.XEnc, "CipherValue", base64.StdEncoding.EncodeToString(d.Value))
	return el
}

func parseCipherData(el *etree.Element) (CipherData, error) {
	if cv := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "CipherValue"); cv != nil {
		b, err := transforms.DecodeBase64(dom.Text(cv))
		if err != nil {
			return CipherData{}, errs.WithContext(err, "CipherValue")
		}
		return CipherData{Value: b}, nil
	}
	cr := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "CipherReference")
	if cr == nil {
		return CipherData{}, errs.Structural("xmlenc", "CipherData holds neither CipherValue nor CipherReference")
	}
	uri := cr.SelectAttr("URI")
	if uri == nil {
		return CipherData{}, errs.Structural("xmlenc", "CipherReference without URI")
	}
	ref := NewCipherReference(uri.Value)
	chain, err := transforms.ParseChain(ref.chain.Input(), dom.FirstChildNS(cr, algo.NamespaceXMLEnc, "Transforms"))
	if err != nil {
		return CipherData{}, errs.WithContext(err, "CipherReference")
	}
	ref.chain = chain
	return CipherData{Reference: ref}, nil
}

// EncryptedType is what xenc:EncryptedData and xenc:EncryptedKey share.
type EncryptedType struct {
	Id         string
	Type       string
	MimeType   string
	Encoding   string
	Method     *EncryptionMethod
	KeyInfo    *List
	CipherData CipherData
}

// MarshalElement renders t as prefix:local under parent, or detached when
// parent is nil. extra adds the children that follow CipherData.
func (t *EncryptedType) MarshalElement(parent *etree.Element, local string, p dom.Prefixes, attrs func(*etree.Element), extra func(*etree.Element)) *etree.Element {
	el := dom.NewElement(parent, p.XEnc, local, algo.NamespaceXMLEnc)
	if t.Id != "" {
		el.CreateAttr("Id", t.Id)
	}
	if t.Type != "" {
		el.CreateAttr("Type", t.Type)
	}
	if t.MimeType != "" {
		el.CreateAttr("MimeType", t.MimeType)
	}
	if t.Encoding != "" {
		el.CreateAttr("Encoding", t.Encoding)
	}
	if attrs != nil {
		attrs(el)
	}
	if t.Method != nil {
		t.Method.marshal(el, p)
	}
	if t.KeyInfo != nil && t.KeyInfo.Len() > 0 {
		t.KeyInfo.Marshal(el, p)
	}
	t.CipherData.marshal(el, p)
	if extra != nil {
		extra(el)
	}
	return el
}

// ParseEncryptedType reads the shared part of an EncryptedData or
// EncryptedKey element.
func ParseEncryptedType(el *etree.Element) (EncryptedType, error) {
	t := EncryptedType{
		Id:       el.SelectAttrValue("Id", ""),
		Type:     el.SelectAttrValue("Type", ""),
		MimeType: el.SelectAttrValue("MimeType", ""),
		Encoding: el.SelectAttrValue("Encoding", ""),
	}
	if em := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "EncryptionMethod"); em != nil {
		m, err := parseEncryptionMethod(em)
		if err != nil {
			return t, err
		}
		t.Method = m
	}
	if ki := dom.FirstChildNS(el, algo.NamespaceDSig, "KeyInfo"); ki != nil {
		l, err := ParseList(ki)
		if err != nil {
			return t, err
		}
		t.KeyInfo = l
	}
	cd := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "CipherData")
	if cd == nil {
		return t, errs.Structural("xmlenc", "%s without CipherData", el.Tag)
	}
	var err error
	t.CipherData, err = parseCipherData(cd)
	return t, err
}

// Algorithm is the encryption method, "" when none is given.
func (t *EncryptedType) Algorithm() string {
	if t.Method == nil {
		return ""
	}
	return t.Method.Algorithm
}

// DataReference is an entry of an EncryptedKey's ReferenceList. Key is true
// for a KeyReference.
type DataReference struct {
	URI string
	Key bool
}

// EncryptedKey is an xenc:EncryptedKey. As a KeyInfo item it carries the
// wrapped content key next to the data it protects.
type EncryptedKey struct {
	EncryptedType
	Recipient      string
	CarriedKeyName string
	ReferenceList  []DataReference

	el *etree.Element
}

func (*EncryptedKey) Kind() Kind { return KindEncryptedKey }

// Element is the element ek was parsed from or last rendered to.
func (ek *EncryptedKey) Element() *etree.Element { return ek.el }

func (ek *EncryptedKey) marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	ek.el = ek.MarshalElement(parent, "EncryptedKey", p, func(el *etree.Element) {
		if ek.Recipient != "" {
			el.CreateAttr("Recipient", ek.Recipient)
		}
	}, func(el *etree.Element) {
		if len(ek.ReferenceList) > 0 {
			rl := dom.NewChild(el, p.XEnc, "ReferenceList")
			for _, r := range ek.ReferenceList {
				name := "DataReference"
				if r.Key {
					name = "KeyReference"
				}
				dom.NewChild(rl, p.XEnc, name).CreateAttr("URI", r.URI)
			}
		}
		if ek.CarriedKeyName != "" {
			text(el, p.XEnc, "CarriedKeyName", ek.CarriedKeyName)
		}
	})
	return ek.el
}

// Marshal renders ek under parent, detached when parent is nil.
func (ek *EncryptedKey) Marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	return ek.marshal(parent, p)
}

// ParseEncryptedKey reads an xenc:EncryptedKey element.
func ParseEncryptedKey(el *etree.Element) (*EncryptedKey, error) {
	if !dom.Is(el, algo.NamespaceXMLEnc, "EncryptedKey") {
		return nil, errs.Structural("xmlenc", "expected EncryptedKey, found %s", el.FullTag())
	}
	et, err := ParseEncryptedType(el)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedKey")
	}
	ek := &EncryptedKey{EncryptedType: et, Recipient: el.SelectAttrValue("Recipient", ""), el: el}
	if rl := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "ReferenceList"); rl != nil {
		for _, c := range rl.ChildElements() {
			if c.NamespaceURI() != algo.NamespaceXMLEnc || (c.Tag != "DataReference" && c.Tag != "KeyReference") {
				continue
			}
			ek.ReferenceList = append(ek.ReferenceList, DataReference{URI: c.SelectAttrValue("URI", ""), Key: c.Tag == "KeyReference"})
		}
	}
	if ckn := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "CarriedKeyName"); ckn != nil {
		ek.CarriedKeyName = dom.Text(ckn)
	}
	return ek, nil
}
