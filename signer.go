package xmlsec

import (
	"crypto"

	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/reference"
)

// Signer fills in a signature template: a document holding a ds:Signature
// whose DigestValue and SignatureValue elements are placeholders.
type Signer struct {
	// Config is used when set; the defaults otherwise.
	Config *config.Config

	doc         *etree.Document
	idAttribute string
}

// NewSigner returns a *Signer for the XML provided
func NewSigner(xml string) (*Signer, error) {
	doc, err := parseXML(xml)
	if err != nil {
		return nil, err
	}
	return &Signer{doc: doc}, nil
}

// SetReferenceIDAttribute makes references resolve by the named attribute
// only, e.g. "ID" for SAML.
func (s *Signer) SetReferenceIDAttribute(name string) {
	s.idAttribute = name
}

// Sign signs the template with a private key and returns the signed document.
func (s *Signer) Sign(privateKey crypto.Signer) (string, error) {
	k, err := keys.FromSigner(privateKey)
	if err != nil {
		return "", err
	}
	return s.SignWithKey(k)
}

// SignWithKey is Sign for any key, HMAC keys included.
func (s *Signer) SignWithKey(k keys.Key) (string, error) {
	el := FindSignature(s.doc)
	if el == nil {
		return "", errs.Structural("sign", "no Signature element in the template")
	}
	sig := LoadSignature(configWithIDAttribute(s.Config, s.idAttribute), el)
	if err := sig.LoadTemplate(); err != nil {
		return "", err
	}
	sig.SetSigningKey(k)
	if err := sig.Sign(); err != nil {
		return "", err
	}
	return s.doc.WriteToString()
}

func configWithIDAttribute(cfg *config.Config, name string) *config.Config {
	cfg = cfg.Normalize()
	if name != "" {
		cfg.IDs = reference.IDPolicy{ByAttributeName: true, AttributeNames: []string{name}}
	}
	return cfg
}

func parseXML(xml string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, errs.WrapStructural("parse", err)
	}
	if doc.Root() == nil {
		return nil, errs.Structural("parse", "document has no root element")
	}
	return doc, nil
}
