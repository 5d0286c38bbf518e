package xmlsec

import (
	"crypto/x509"
	"errors"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/keys"
)

var (
	// ErrDigestMismatch is returned by ValidateReferences when a reference
	// digest does not match its DigestValue.
	ErrDigestMismatch = errors.New("xmlsec: calculated digest does not match the DigestValue provided")
	// ErrSignatureMismatch is returned when no certificate verifies the
	// SignatureValue.
	ErrSignatureMismatch = errors.New("xmlsec: calculated signature does not match the SignatureValue provided")
)

// Validator provides options for verifying a signed XML document
type Validator struct {
	// Certificates to verify with. When empty, the certificates in the
	// signature's KeyInfo are used.
	Certificates []x509.Certificate
	// Config is used when set; the defaults otherwise.
	Config *config.Config

	signingCert x509.Certificate
	doc         *etree.Document
	signature   *etree.Element
	idAttribute string
}

// NewValidator returns a *Validator for the XML provided
func NewValidator(xml string) (*Validator, error) {
	doc, err := parseXML(xml)
	if err != nil {
		return nil, err
	}
	return &Validator{doc: doc}, nil
}

// SetReferenceIDAttribute makes references resolve by the named attribute
// only.
func (v *Validator) SetReferenceIDAttribute(name string) {
	v.idAttribute = name
}

// SetXML is used to assign the XML document that the Validator will verify
func (v *Validator) SetXML(xml string) error {
	doc, err := parseXML(xml)
	if err != nil {
		return err
	}
	v.doc = doc
	return nil
}

// SetSignature assigns a detached signature over the document. Without one
// the first signature in the document is used.
func (v *Validator) SetSignature(signature string) error {
	doc, err := parseXML(signature)
	if err != nil {
		return err
	}
	v.signature = doc.Root()
	return nil
}

// SigningCert returns the certificate, if any, that was used to successfully
// validate the signature of the XML document. This will be a zero value
// x509.Certificate before ValidateReferences is successfully called.
func (v *Validator) SigningCert() x509.Certificate {
	return v.signingCert
}

// ValidateReferences validates the Reference digest values, and the signature
// value over the SignedInfo.
//
// The strings returned are the referenced content after transforms, that is
// exactly what was signed. Callers must use these rather than re-reading the
// document, or they are open to XML injection.
func (v *Validator) ValidateReferences() ([]string, error) {
	cfg := configWithIDAttribute(v.Config, v.idAttribute)
	log := cfg.Logger

	el := v.signature
	if el == nil {
		el = FindSignature(v.doc)
	}
	if el == nil {
		return nil, errs.Structural("verify", "no Signature element found")
	}
	sig := LoadSignature(cfg, el)
	if v.signature != nil {
		sig.SetDocument(v.doc.Root())
	}
	if err := sig.Load(); err != nil {
		return nil, err
	}

	ctx := sig.ReferenceContext()
	var referenced []string
	for _, ref := range sig.References() {
		ok, err := ref.Verify(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Info("reference digest mismatch", zap.String("uri", ref.URI))
			return nil, errs.WithContext(ErrDigestMismatch, ref.URI)
		}
		content, err := ref.Content(ctx)
		if err != nil {
			return nil, err
		}
		referenced = append(referenced, string(content))
	}

	certs := v.Certificates
	if len(certs) == 0 {
		certs = embeddedCertificates(sig, log)
	}
	if len(certs) == 0 {
		return nil, errs.Crypto("verify", "", "a certificate is required, but was not found")
	}

	v.signingCert = x509.Certificate{}
	for i := range certs {
		k, err := keys.FromCertificate(&certs[i])
		if err != nil {
			log.Warn("skipping certificate", zap.String("subject", certs[i].Subject.String()), zap.Error(err))
			continue
		}
		sig.SetSigningKey(k)
		ok, err := sig.VerifySignatureOnly()
		if err != nil {
			log.Debug("certificate did not verify", zap.String("subject", certs[i].Subject.String()), zap.Error(err))
			continue
		}
		if ok {
			v.signingCert = certs[i]
			return referenced, nil
		}
	}
	return referenced, ErrSignatureMismatch
}

func embeddedCertificates(sig *Signature, log *zap.Logger) []x509.Certificate {
	var out []x509.Certificate
	if sig.keyInfo == nil {
		return nil
	}
	for _, x := range keyinfo.FindAll[*keyinfo.X509Data](sig.keyInfo) {
		for _, c := range x.Certificates {
			out = append(out, *c)
		}
	}
	log.Debug("using certificates from KeyInfo", zap.Int("count", len(out)))
	return out
}
