package xmlenc

import (
	"slices"

	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/transforms"
)

// EncryptedData is an xenc:EncryptedData element together with its model.
// Setters render into the element straight away, so it stays valid wherever
// it has been placed.
type EncryptedData struct {
	keyinfo.EncryptedType

	el       *etree.Element
	cfg      *config.Config
	ids      *dom.IDTable
	prefixes dom.Prefixes
}

// Element is the xenc:EncryptedData element.
func (d *EncryptedData) Element() *etree.Element { return d.el }

// render rebuilds the element from the model, keeping the element itself so
// that its position in the tree is preserved.
func (d *EncryptedData) render() {
	fresh := d.MarshalElement(nil, "EncryptedData", d.prefixes, nil, nil)
	if d.cfg.PrettyPrint {
		dom.Indent(fresh, true)
	}
	if d.el == nil {
		d.el = fresh
		return
	}
	d.el.Attr = fresh.Attr
	dom.ClearChildren(d.el)
	for _, tok := range slices.Clone(fresh.Child) {
		d.el.AddChild(tok)
	}
}

func (d *EncryptedData) keyInfo() *keyinfo.List {
	if d.KeyInfo == nil {
		d.KeyInfo = keyinfo.NewList()
	}
	return d.KeyInfo
}

// AppendKeyInfo adds it to the KeyInfo, creating the KeyInfo when absent.
func (d *EncryptedData) AppendKeyInfo(it keyinfo.Item) {
	d.keyInfo().Append(it)
	d.render()
}

func (d *EncryptedData) AppendKeyName(name string) {
	d.AppendKeyInfo(&keyinfo.KeyName{Name: name})
}

// AppendEncryptedKey carries a wrapped content key in the KeyInfo. A decrypting
// party holding the key encryption key unwraps it.
func (d *EncryptedData) AppendEncryptedKey(ek *keyinfo.EncryptedKey) {
	d.AppendKeyInfo(ek)
}

// KeyName returns the first KeyName in the KeyInfo.
func (d *EncryptedData) KeyName() (string, bool) {
	kn, ok := keyinfo.Find[*keyinfo.KeyName](d.KeyInfo)
	if !ok {
		return "", false
	}
	return kn.Name, true
}

// EncryptedKeys returns the EncryptedKey items of the KeyInfo.
func (d *EncryptedData) EncryptedKeys() []*keyinfo.EncryptedKey {
	return keyinfo.FindAll[*keyinfo.EncryptedKey](d.KeyInfo)
}

// SetID sets the Id attribute and declares it for reference resolution.
func (d *EncryptedData) SetID(id string) {
	d.Id = id
	d.render()
	if id != "" {
		d.ids.Register(id, d.el)
	}
}

func (d *EncryptedData) SetMimeType(mimeType string) {
	d.MimeType = mimeType
	d.render()
}

func (d *EncryptedData) SetEncoding(encoding string) {
	d.Encoding = encoding
	d.render()
}

// SetKeySize records the content key size in bits in the EncryptionMethod.
func (d *EncryptedData) SetKeySize(bits int) error {
	if d.Method == nil {
		return errs.Structural("xmlenc", "no EncryptionMethod to carry a KeySize")
	}
	d.Method.KeySize = bits
	d.render()
	return nil
}

// KeySize is the KeySize in bits, 0 when absent.
func (d *EncryptedData) KeySize() int {
	if d.Method == nil {
		return 0
	}
	return d.Method.KeySize
}

// CipherReference returns the reference the ciphertext is fetched through,
// nil when the ciphertext is inline.
func (d *EncryptedData) CipherReference() *keyinfo.CipherReference {
	return d.CipherData.Reference
}

// AppendCipherTransform appends t to the CipherReference transforms.
func (d *EncryptedData) AppendCipherTransform(t transforms.Transform) error {
	ref := d.CipherData.Reference
	if ref == nil {
		return errs.Structural("xmlenc", "ciphertext is inline, there is no CipherReference to transform")
	}
	if err := ref.AppendTransform(t); err != nil {
		return errs.WithContext(err, "CipherReference")
	}
	d.render()
	return nil
}

// AppendXPathTransform appends an XPath filter to the CipherReference.
// Namespaces the expression needs are bound through the returned transform.
func (d *EncryptedData) AppendXPathTransform(expr string) (*transforms.XPath, error) {
	x := transforms.NewXPath(expr)
	if err := d.AppendCipherTransform(x); err != nil {
		return nil, err
	}
	return x, nil
}

// AppendBase64Transform appends a base64 decode to the CipherReference.
func (d *EncryptedData) AppendBase64Transform() error {
	return d.AppendCipherTransform(&transforms.Base64{})
}
