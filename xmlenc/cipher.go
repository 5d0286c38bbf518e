// Package xmlenc encrypts and decrypts XML elements, element content and
// keys following XML Encryption.
//
// A Cipher replaces what it encrypts with an xenc:EncryptedData element and
// puts the plaintext back on decryption:
//
//	c := xmlenc.NewCipher(cfg)
//	c.SetKey(contentKey)
//	ed, err := c.EncryptElement(el, algo.AES256GCM)
//	...
//	c.SetKEK(rsaKey)
//	ek, err := c.EncryptKey(contentKey.Raw(), algo.RSAOAEP)
//	ed.AppendEncryptedKey(ek)
//
// The receiving side needs only the key encryption key:
//
//	c := xmlenc.NewCipher(cfg)
//	c.SetKEK(rsaKey)
//	restored, err := c.DecryptElement(edElement)
//
// Nothing in the tree changes unless the whole operation succeeds.
package xmlenc

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/provider"
	"github.com/leifj/xmlsec/reference"
)

// Cipher holds the keys for one encryption or decryption session. It is not
// safe for concurrent use.
type Cipher struct {
	cfg  *config.Config
	ids  *dom.IDTable
	key  keys.Key
	kek  keys.Key
	data *EncryptedData

	// agreementInfo is the HKDF info of X25519 key agreements this cipher
	// starts.
	agreementInfo []byte
}

// NewCipher returns a Cipher using cfg, the defaults when cfg is nil.
func NewCipher(cfg *config.Config) *Cipher {
	return &Cipher{cfg: cfg.Normalize(), ids: dom.NewIDTable()}
}

// SetKey sets the content encryption key. Keys are borrowed; Clone one that
// another operation will also use.
func (c *Cipher) SetKey(k keys.Key) { c.key = k }

func (c *Cipher) Key() keys.Key { return c.key }

// SetKEK sets the key encryption key EncryptKey wraps with and decryption
// unwraps carried keys with. An *keys.X25519Key makes key wrapping go
// through an X25519 key agreement.
func (c *Cipher) SetKEK(k keys.Key) { c.kek = k }

func (c *Cipher) KEK() keys.Key { return c.kek }

// SetAgreementInfo sets the HKDF info of key agreements started by EncryptKey.
func (c *Cipher) SetAgreementInfo(info []byte) {
	c.agreementInfo = bytes.Clone(info)
}

// EncryptedData is the structure last produced or decrypted.
func (c *Cipher) EncryptedData() *EncryptedData { return c.data }

// contentKey returns the content key when it can serve method.
func (c *Cipher) contentKey(op, method string) (*keys.SymmetricKey, error) {
	if algo.ClassOf(method) != algo.ClassEncryption || !c.cfg.Provider.AlgorithmSupported(method) {
		return nil, errs.Unsupported(op, "encryption algorithm", method)
	}
	if c.key == nil {
		return nil, errs.Crypto(op, "", "no content encryption key set")
	}
	sk, ok := c.key.(*keys.SymmetricKey)
	if !ok {
		return nil, errs.Crypto(op, c.key.Type().String(), "content encryption needs a symmetric key")
	}
	want, _ := keys.TypeFor(method)
	if sk.Type() != want {
		return nil, errs.Crypto(op, sk.Type().String(), "%s needs a %s key", method, want)
	}
	return sk, nil
}

func (c *Cipher) newEncryptedData(et keyinfo.EncryptedType, el *etree.Element) *EncryptedData {
	return &EncryptedData{EncryptedType: et, el: el, cfg: c.cfg, ids: c.ids, prefixes: c.cfg.Prefixes}
}

// encrypt builds a detached EncryptedData for plaintext.
func (c *Cipher) encrypt(plaintext []byte, method, typ string) (*EncryptedData, error) {
	sk, err := c.contentKey("encrypt", method)
	if err != nil {
		return nil, err
	}
	ct, err := c.cfg.Provider.SymmetricEncrypt(method, sk, nil, plaintext)
	if err != nil {
		return nil, err
	}
	d := c.newEncryptedData(keyinfo.EncryptedType{
		Type:       typ,
		Method:     &keyinfo.EncryptionMethod{Algorithm: method},
		CipherData: keyinfo.CipherData{Value: ct},
	}, nil)
	if c.cfg.NewID != nil {
		d.Id = c.cfg.NewID()
	}
	d.render()
	if d.Id != "" {
		c.ids.Register(d.Id, d.el)
	}
	return d, nil
}

// EncryptElement replaces el with an EncryptedData holding its serialization.
func (c *Cipher) EncryptElement(el *etree.Element, method string) (*EncryptedData, error) {
	parent := el.Parent()
	if parent == nil {
		return nil, errs.Structural("encrypt", "element %s is not part of a document", el.FullTag())
	}
	d, err := c.encrypt(serialize(el), method, algo.TypeElement)
	c.cfg.Metrics.RecordEncrypt(method, err == nil)
	if err != nil {
		return nil, errs.WithContext(err, el.FullTag())
	}
	parent.InsertChildAt(el.Index(), d.el)
	parent.RemoveChild(el)
	c.cfg.Logger.Debug("encrypted element", zap.String("element", el.FullTag()), zap.String("algorithm", method))
	c.data = d
	return d, nil
}

// EncryptElementContent replaces the children of el with an EncryptedData
// holding their serialization. el itself stays.
func (c *Cipher) EncryptElementContent(el *etree.Element, method string) (*EncryptedData, error) {
	d, err := c.encrypt(serialize(el.Child...), method, algo.TypeContent)
	c.cfg.Metrics.RecordEncrypt(method, err == nil)
	if err != nil {
		return nil, errs.WithContext(err, el.FullTag())
	}
	dom.ClearChildren(el)
	el.AddChild(d.el)
	c.cfg.Logger.Debug("encrypted element content", zap.String("element", el.FullTag()), zap.String("algorithm", method))
	c.data = d
	return d, nil
}

// CreateEncryptedData returns a detached EncryptedData for ciphertext held
// elsewhere: uri locates it, and transforms appended to the result turn what
// uri resolves to into the ciphertext octets. The caller places the element.
func (c *Cipher) CreateEncryptedData(method, uri string) (*EncryptedData, error) {
	if algo.ClassOf(method) != algo.ClassEncryption || !c.cfg.Provider.AlgorithmSupported(method) {
		return nil, errs.Unsupported("encrypt", "encryption algorithm", method)
	}
	d := c.newEncryptedData(keyinfo.EncryptedType{
		Method:     &keyinfo.EncryptionMethod{Algorithm: method},
		CipherData: keyinfo.CipherData{Reference: keyinfo.NewCipherReference(uri)},
	}, nil)
	if c.cfg.NewID != nil {
		d.Id = c.cfg.NewID()
	}
	d.render()
	if d.Id != "" {
		c.ids.Register(d.Id, d.el)
	}
	c.data = d
	return d, nil
}

// LoadEncryptedData reads an xenc:EncryptedData element.
func (c *Cipher) LoadEncryptedData(el *etree.Element) (*EncryptedData, error) {
	if !dom.Is(el, algo.NamespaceXMLEnc, "EncryptedData") {
		return nil, errs.Structural("decrypt", "expected EncryptedData, found %s", el.FullTag())
	}
	et, err := keyinfo.ParseEncryptedType(el)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedData")
	}
	d := c.newEncryptedData(et, el)
	d.prefixes.XEnc = el.Space
	if et.KeyInfo != nil {
		d.prefixes.DSig = et.KeyInfo.Element().Space
	}
	if d.Id != "" {
		c.ids.Register(d.Id, el)
	}
	c.data = d
	return d, nil
}

// DecryptElement decrypts the EncryptedData element el and puts the
// plaintext nodes in its place. When the plaintext is a single element that
// element is returned, otherwise the element now holding the restored
// content.
func (c *Cipher) DecryptElement(el *etree.Element) (*etree.Element, error) {
	parent := el.Parent()
	if parent == nil {
		return nil, errs.Structural("decrypt", "EncryptedData is not part of a document")
	}
	d, err := c.LoadEncryptedData(el)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.decrypt(d)
	c.cfg.Metrics.RecordDecrypt(d.Algorithm(), err == nil)
	if err != nil {
		return nil, err
	}
	nodes, err := parseFragment(plaintext, dom.InScope(parent))
	if err != nil {
		return nil, err
	}

	idx := el.Index()
	parent.RemoveChildAt(idx)
	for i, tok := range nodes {
		parent.InsertChildAt(idx+i, tok)
	}
	c.cfg.Logger.Debug("decrypted element", zap.String("algorithm", d.Algorithm()), zap.Int("nodes", len(nodes)))
	if len(nodes) == 1 {
		if e, ok := nodes[0].(*etree.Element); ok {
			return e, nil
		}
	}
	return parent, nil
}

// DecryptToBytes returns the plaintext of the EncryptedData element el
// without changing the tree.
func (c *Cipher) DecryptToBytes(el *etree.Element) ([]byte, error) {
	d, err := c.LoadEncryptedData(el)
	if err != nil {
		return nil, err
	}
	plaintext, err := c.decrypt(d)
	c.cfg.Metrics.RecordDecrypt(d.Algorithm(), err == nil)
	return plaintext, err
}

func (c *Cipher) decrypt(d *EncryptedData) ([]byte, error) {
	method := d.Algorithm()
	if method == "" {
		return nil, errs.Structural("decrypt", "EncryptedData without EncryptionMethod")
	}
	key, err := c.decryptionKey(d, method)
	if err != nil {
		return nil, err
	}
	ct, err := c.cipherValue(&d.EncryptedType, d.el)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedData")
	}
	plaintext, err := c.cfg.Provider.SymmetricDecrypt(method, key, ct)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedData")
	}
	return plaintext, nil
}

// cipherValue returns the inline ciphertext or resolves the CipherReference
// against the document holding el.
func (c *Cipher) cipherValue(t *keyinfo.EncryptedType, el *etree.Element) ([]byte, error) {
	ref := t.CipherData.Reference
	if ref == nil {
		return t.CipherData.Value, nil
	}
	return ref.Resolve(c.resolver(el), c.cfg.Logger)
}

func (c *Cipher) resolver(el *etree.Element) *reference.Resolver {
	return &reference.Resolver{
		Root:     el,
		IDs:      c.ids,
		Policy:   c.cfg.IDs,
		External: c.cfg.External,
		Logger:   c.cfg.Logger,
	}
}

// decryptionKey is the content key, or one unwrapped from an EncryptedKey the
// KeyInfo carries or points to.
func (c *Cipher) decryptionKey(d *EncryptedData, method string) (*keys.SymmetricKey, error) {
	if c.key != nil {
		return c.contentKey("decrypt", method)
	}
	if c.kek == nil {
		return nil, errs.Crypto("decrypt", "", "no key set and no key encryption key to unwrap one")
	}
	candidates, err := c.carriedKeys(d)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errs.Crypto("decrypt", c.kek.Type().String(), "KeyInfo carries no EncryptedKey")
	}
	var first error
	for _, ek := range candidates {
		raw, err := c.DecryptKey(ek)
		if err == nil {
			var sk *keys.SymmetricKey
			if sk, err = keys.SymmetricFor(method, raw); err == nil {
				return sk, nil
			}
		}
		c.cfg.Logger.Debug("carried key did not unwrap", zap.String("algorithm", ek.Algorithm()), zap.Error(err))
		if first == nil {
			first = err
		}
	}
	return nil, first
}

// carriedKeys collects the EncryptedKey items of the KeyInfo and those its
// RetrievalMethods point to.
func (c *Cipher) carriedKeys(d *EncryptedData) ([]*keyinfo.EncryptedKey, error) {
	out := d.EncryptedKeys()
	for _, rm := range keyinfo.FindAll[*keyinfo.RetrievalMethod](d.KeyInfo) {
		if rm.Type != algo.TypeEncryptedKey || !strings.HasPrefix(rm.URI, "#") || strings.HasPrefix(rm.URI, "#xpointer(") {
			continue
		}
		el, err := c.resolver(d.el).FindID(rm.URI[1:])
		if err != nil {
			return nil, errs.WithContext(err, "RetrievalMethod")
		}
		ek, err := keyinfo.ParseEncryptedKey(el)
		if err != nil {
			return nil, err
		}
		out = append(out, ek)
	}
	return out, nil
}

// EncryptKey wraps raw with the key encryption key. The result is rendered
// detached; append it to an EncryptedData or place its Element.
func (c *Cipher) EncryptKey(raw []byte, method string) (*keyinfo.EncryptedKey, error) {
	return c.EncryptKeyWith(raw, method, provider.WrapParams{})
}

// EncryptKeyWith is EncryptKey with explicit RSA-OAEP parameters. Without
// OAEPParams those of the RSA key are used and recorded.
func (c *Cipher) EncryptKeyWith(raw []byte, method string, wp provider.WrapParams) (*keyinfo.EncryptedKey, error) {
	if c.kek == nil {
		return nil, errs.Crypto("wrap", "", "no key encryption key set")
	}
	ek := &keyinfo.EncryptedKey{}
	kek := c.kek
	if x, ok := kek.(*keys.X25519Key); ok {
		sk, am, err := c.agreeForWrap(x, method)
		if err != nil {
			return nil, err
		}
		kek = sk
		ek.KeyInfo = keyinfo.NewList()
		ek.KeyInfo.Append(am)
	}
	if rk, ok := kek.(*keys.RSAKey); ok && method != algo.RSAv15 && len(wp.OAEPParams) == 0 {
		wp.OAEPParams = rk.OAEPParams
	}
	wrapped, err := c.cfg.Provider.WrapKey(method, kek, raw, wp)
	c.cfg.Metrics.RecordEncrypt(method, err == nil)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedKey")
	}
	ek.Method = &keyinfo.EncryptionMethod{
		Algorithm:    method,
		OAEPParams:   bytes.Clone(wp.OAEPParams),
		DigestMethod: wp.DigestMethod,
		MGF:          wp.MGF,
	}
	ek.CipherData.Value = wrapped
	if c.cfg.NewID != nil {
		ek.Id = c.cfg.NewID()
	}
	ek.Marshal(nil, c.cfg.Prefixes)
	if ek.Id != "" {
		c.ids.Register(ek.Id, ek.Element())
	}
	c.cfg.Logger.Debug("wrapped key", zap.String("algorithm", method), zap.String("kek", kek.Type().String()))
	return ek, nil
}

// DecryptKey unwraps the key ek carries with the key encryption key.
func (c *Cipher) DecryptKey(ek *keyinfo.EncryptedKey) ([]byte, error) {
	method := ek.Algorithm()
	if method == "" {
		return nil, errs.Structural("unwrap", "EncryptedKey without EncryptionMethod")
	}
	if c.kek == nil {
		return nil, errs.Crypto("unwrap", "", "no key encryption key set")
	}
	kek := c.kek
	if x, ok := kek.(*keys.X25519Key); ok {
		am, found := keyinfo.Find[*keyinfo.AgreementMethod](ek.KeyInfo)
		if !found {
			return nil, errs.Crypto("unwrap", "x25519", "EncryptedKey carries no AgreementMethod")
		}
		sk, err := c.agreeForUnwrap(x, am, method)
		if err != nil {
			return nil, errs.WithContext(err, "EncryptedKey")
		}
		kek = sk
	}
	wrapped, err := c.cipherValue(&ek.EncryptedType, ek.Element())
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedKey")
	}
	c.cfg.Logger.Debug("unwrapping key", zap.String("algorithm", method), zap.String("kek", kek.Type().String()))
	raw, err := c.cfg.Provider.UnwrapKey(method, kek, wrapped, ek.Method.WrapParams())
	c.cfg.Metrics.RecordDecrypt(method, err == nil)
	if err != nil {
		return nil, errs.WithContext(err, "EncryptedKey")
	}
	return raw, nil
}

// DecryptKeyElement parses the xenc:EncryptedKey element el and unwraps it.
func (c *Cipher) DecryptKeyElement(el *etree.Element) ([]byte, error) {
	ek, err := keyinfo.ParseEncryptedKey(el)
	if err != nil {
		return nil, err
	}
	return c.DecryptKey(ek)
}

// serialize writes toks the way the document would.
func serialize(toks ...etree.Token) []byte {
	var b bytes.Buffer
	ws := etree.NewDocument().WriteSettings
	for _, tok := range toks {
		tok.WriteTo(&b, &ws)
	}
	return b.Bytes()
}

// fragmentTag wraps decrypted plaintext while it is parsed.
const fragmentTag = "xmlsec-fragment"

// parseFragment parses plaintext in the namespace context scope and returns
// its detached top-level nodes.
func parseFragment(plaintext []byte, scope dom.Scope) ([]etree.Token, error) {
	var b bytes.Buffer
	b.WriteString("<" + fragmentTag)
	prefixes := make([]string, 0, len(scope))
	for p := range scope {
		if p != "xml" {
			prefixes = append(prefixes, p)
		}
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if p == "" {
			b.WriteString(` xmlns="`)
		} else {
			b.WriteString(` xmlns:` + p + `="`)
		}
		xml.EscapeText(&b, []byte(scope[p]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	b.Write(plaintext)
	b.WriteString("</" + fragmentTag + ">")

	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	doc.ReadSettings.ValidateInput = true
	if err := doc.ReadFromBytes(b.Bytes()); err != nil {
		return nil, errs.Structural("decrypt", "decrypted data is not XML: %v", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != fragmentTag || len(doc.ChildElements()) != 1 {
		return nil, errs.Structural("decrypt", "decrypted data is not an XML fragment")
	}
	for _, tok := range root.Child {
		if _, ok := tok.(*etree.Directive); ok {
			return nil, errs.Structural("decrypt", "decrypted data holds a document type declaration")
		}
	}
	nodes := append([]etree.Token(nil), root.Child...)
	for _, tok := range nodes {
		root.RemoveChild(tok)
	}
	return nodes, nil
}
