// Package xmlsec creates, signs and verifies XML Signatures.
//
// A Signature is either built up from nothing:
//
//	sig := xmlsec.NewSignature(cfg)
//	el, _ := sig.CreateBlankSignature(c14n.InclusiveWithComments, algo.HMACSHA1)
//	doc.SetRoot(el)
//	obj, _ := sig.AppendObject()
//	obj.SetID("ObjectId")
//	obj.AppendText("A test string")
//	ref, _ := sig.CreateReference("#ObjectId", algo.SHA1)
//	sig.SetSigningKey(keys.NewHMAC([]byte("secret")))
//	err := sig.Sign()
//
// or read from a document and checked:
//
//	sig := xmlsec.LoadSignature(cfg, xmlsec.FindSignature(doc))
//	if err := sig.Load(); err != nil { ... }
//	ok, err := sig.Verify()
//
// A digest or signature value that does not match is reported as false from
// Verify, never as an error. Errors mean the check could not be carried out.
package xmlsec

import (
	"crypto/hmac"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/reference"
	"github.com/leifj/xmlsec/transforms"
)

type state int

const (
	stateBlank state = iota
	stateStructured
	stateUnloaded
	stateLoaded
	stateSigned
	stateVerified
)

func (s state) String() string {
	switch s {
	case stateBlank:
		return "blank"
	case stateStructured:
		return "structured"
	case stateUnloaded:
		return "unloaded"
	case stateLoaded:
		return "loaded"
	case stateSigned:
		return "signed"
	case stateVerified:
		return "verified"
	}
	return "unknown"
}

// Signature is one ds:Signature element and the model built over it. It
// borrows the tree it works on and is not safe for concurrent use.
type Signature struct {
	cfg      *config.Config
	ids      *dom.IDTable
	prefixes dom.Prefixes

	el         *etree.Element
	document   *etree.Element
	signedInfo *etree.Element
	sigValue   *etree.Element

	c14nMethod       c14n.Method
	inclusive        []string
	method           string
	hmacOutputLength int

	refs    []*reference.Reference
	keyInfo *keyinfo.List
	objects []*Object
	value   []byte

	key    keys.Key
	state  state
	report Report
}

// NewSignature returns a blank signature. Use CreateBlankSignature to give
// it structure.
func NewSignature(cfg *config.Config) *Signature {
	cfg = cfg.Normalize()
	return &Signature{cfg: cfg, ids: dom.NewIDTable(), prefixes: cfg.Prefixes}
}

// LoadSignature wraps an existing ds:Signature element. Load must be called
// before the signature can be verified.
func LoadSignature(cfg *config.Config, el *etree.Element) *Signature {
	s := NewSignature(cfg)
	s.el = el
	s.state = stateUnloaded
	return s
}

// FindSignature returns the first ds:Signature element of doc in document
// order, or nil.
func FindSignature(doc *etree.Document) *etree.Element {
	return dom.FindNS(&doc.Element, algo.NamespaceDSig, "Signature")
}

func (s *Signature) logger() *zap.Logger { return s.cfg.Logger }

func (s *Signature) label() string {
	if s.el != nil {
		if id := s.el.SelectAttrValue("Id", ""); id != "" {
			return fmt.Sprintf("signature %q", id)
		}
	}
	return "signature"
}

// Element is the ds:Signature element.
func (s *Signature) Element() *etree.Element { return s.el }

func (s *Signature) SignatureMethod() string { return s.method }

func (s *Signature) CanonicalizationMethod() c14n.Method { return s.c14nMethod }

// InclusivePrefixes returns the InclusiveNamespaces list of the SignedInfo
// canonicalization method.
func (s *Signature) InclusivePrefixes() []string { return s.inclusive }

func (s *Signature) References() []*reference.Reference { return s.refs }

func (s *Signature) Objects() []*Object { return s.objects }

// SignatureValue is the raw value read by Load or written by Sign.
func (s *Signature) SignatureValue() []byte { return s.value }

// HMACOutputLength is the truncation length in bits, 0 for none.
func (s *Signature) HMACOutputLength() int { return s.hmacOutputLength }

// SetSigningKey sets the key used by Sign, and by Verify in place of any key
// found in KeyInfo. The key is borrowed.
func (s *Signature) SetSigningKey(k keys.Key) { s.key = k }

func (s *Signature) SigningKey() keys.Key { return s.key }

// CreateBlankSignature builds an empty ds:Signature with the given SignedInfo
// canonicalization and signature method. The element is returned detached;
// the caller places it in the document.
func (s *Signature) CreateBlankSignature(m c14n.Method, signatureMethod string) (*etree.Element, error) {
	if s.state != stateBlank {
		return nil, errs.Structural("signature", "signature is already %s", s.state)
	}
	if m.URI() == "" {
		return nil, errs.Unsupported("signature", "canonicalization", m.String())
	}
	if err := s.checkMethod(signatureMethod); err != nil {
		return nil, err
	}
	p := s.prefixes
	s.el = dom.NewElement(nil, p.DSig, "Signature", algo.NamespaceDSig)
	if s.cfg.NewID != nil {
		s.el.CreateAttr("Id", s.cfg.NewID())
	}
	s.signedInfo = dom.NewChild(s.el, p.DSig, "SignedInfo")
	cm := dom.NewChild(s.signedInfo, p.DSig, "CanonicalizationMethod")
	cm.CreateAttr("Algorithm", m.URI())
	sm := dom.NewChild(s.signedInfo, p.DSig, "SignatureMethod")
	sm.CreateAttr("Algorithm", signatureMethod)
	s.sigValue = dom.NewChild(s.el, p.DSig, "SignatureValue")

	s.c14nMethod = m
	s.method = signatureMethod
	s.state = stateStructured
	if s.keyInfo != nil {
		s.bindKeyInfo()
	}
	return s.el, nil
}

func (s *Signature) checkMethod(uri string) error {
	if algo.ClassOf(uri) != algo.ClassSignature || !s.cfg.Provider.AlgorithmSupported(uri) {
		return errs.Unsupported("signature", "signature method", uri)
	}
	return nil
}

// SetInclusivePrefixes sets the InclusiveNamespaces list of an exclusive
// SignedInfo canonicalization method.
func (s *Signature) SetInclusivePrefixes(prefixes ...string) error {
	if err := s.requireStructure("set inclusive prefixes"); err != nil {
		return err
	}
	if !s.c14nMethod.IsExclusive() {
		return errs.Structural("signature", "%s takes no inclusive namespace prefixes", s.c14nMethod)
	}
	s.inclusive = prefixes
	cm := dom.FirstChildNS(s.signedInfo, algo.NamespaceDSig, "CanonicalizationMethod")
	dom.ClearChildren(cm)
	if len(prefixes) > 0 {
		in := dom.NewChild(cm, s.prefixes.EC, "InclusiveNamespaces")
		dom.Declare(in, s.prefixes.EC, algo.NamespaceExcC14N)
		in.CreateAttr("PrefixList", strings.Join(prefixes, " "))
	}
	return nil
}

// SetHMACOutputLength truncates an HMAC signature value to bits. It must be a
// multiple of 8, at least 80 and at least half the digest length.
func (s *Signature) SetHMACOutputLength(bits int) error {
	if err := s.requireStructure("set HMACOutputLength"); err != nil {
		return err
	}
	if err := checkHMACOutputLength(s.method, bits); err != nil {
		return err
	}
	s.hmacOutputLength = bits
	sm := dom.FirstChildNS(s.signedInfo, algo.NamespaceDSig, "SignatureMethod")
	dom.ClearChildren(sm)
	dom.NewChild(sm, s.prefixes.DSig, "HMACOutputLength").SetText(strconv.Itoa(bits))
	return nil
}

func checkHMACOutputLength(method string, bits int) error {
	if !algo.IsHMAC(method) {
		return errs.Structural("signature", "HMACOutputLength given for %s", method)
	}
	full := algo.DigestSize(method) * 8
	switch {
	case bits%8 != 0:
		return errs.Structural("signature", "HMACOutputLength %d is not a whole number of bytes", bits)
	case bits < 80 || bits < full/2:
		return errs.Structural("signature", "HMACOutputLength %d is below the minimum for %s", bits, method)
	case bits > full:
		return errs.Structural("signature", "HMACOutputLength %d exceeds the %d bit digest", bits, full)
	}
	return nil
}

func (s *Signature) requireStructure(op string) error {
	switch s.state {
	case stateBlank:
		return errs.Structural("signature", "cannot %s on a blank signature", op)
	case stateUnloaded:
		return errs.Structural("signature", "cannot %s before Load", op)
	}
	return nil
}

// CreateReference adds a Reference to SignedInfo. An empty digestMethod
// picks the digest of the signature method, SHA-256 when it has none.
func (s *Signature) CreateReference(uri, digestMethod string) (*reference.Reference, error) {
	if err := s.requireStructure("create a reference"); err != nil {
		return nil, err
	}
	if digestMethod == "" {
		if digestMethod = algo.SignatureDigest(s.method); digestMethod == "" {
			digestMethod = algo.SHA256
		}
	}
	if algo.ClassOf(digestMethod) != algo.ClassDigest || !s.cfg.Provider.AlgorithmSupported(digestMethod) {
		return nil, errs.Unsupported("signature", "digest method", digestMethod)
	}
	r := reference.New(uri, digestMethod)
	r.Marshal(s.signedInfo, s.prefixes)
	s.refs = append(s.refs, r)
	return r, nil
}

// SetDocument makes same-document references resolve in the tree of root
// instead of the tree holding the signature, for a detached signature kept
// apart from the document it signs.
func (s *Signature) SetDocument(root *etree.Element) { s.document = root }

// ReferenceContext is what the references of s are digested with.
func (s *Signature) ReferenceContext() *reference.Context {
	root := s.el
	if s.document != nil {
		root = s.document
	}
	return &reference.Context{
		Resolver: &reference.Resolver{
			Root:     root,
			IDs:      s.ids,
			Policy:   s.cfg.IDs,
			External: s.cfg.External,
			Logger:   s.cfg.Logger,
		},
		Provider:  s.cfg.Provider,
		Signature: s.el,
		Logger:    s.cfg.Logger,
		Metrics:   s.cfg.Metrics,
	}
}

// KeyInfo returns the KeyInfo list of the signature, adding an empty one on
// first use.
func (s *Signature) KeyInfo() *keyinfo.List {
	if s.keyInfo == nil {
		s.keyInfo = keyinfo.NewList()
	}
	if s.keyInfo.Element() == nil && s.sigValue != nil {
		s.bindKeyInfo()
	}
	return s.keyInfo
}

// bindKeyInfo renders the KeyInfo list right after SignatureValue.
func (s *Signature) bindKeyInfo() {
	ki := s.keyInfo.Marshal(s.el, s.prefixes)
	s.el.InsertChildAt(s.sigValue.Index()+1, ki)
}

func (s *Signature) AppendKeyName(name string) *keyinfo.KeyName {
	k := &keyinfo.KeyName{Name: name}
	s.KeyInfo().Append(k)
	return k
}

func (s *Signature) AppendX509Data(x *keyinfo.X509Data) *keyinfo.X509Data {
	s.KeyInfo().Append(x)
	return x
}

// AppendX509Certificate adds an X509Data item holding cert and its subject.
func (s *Signature) AppendX509Certificate(cert *x509.Certificate) *keyinfo.X509Data {
	return s.AppendX509Data(&keyinfo.X509Data{
		SubjectName:  cert.Subject.String(),
		Certificates: []*x509.Certificate{cert},
	})
}

func (s *Signature) AppendPGPData(keyID, keyPacket string) *keyinfo.PGPData {
	d := &keyinfo.PGPData{KeyID: keyID, KeyPacket: keyPacket}
	s.KeyInfo().Append(d)
	return d
}

func (s *Signature) AppendSPKIData(sexps ...string) *keyinfo.SPKIData {
	d := &keyinfo.SPKIData{Sexps: sexps}
	s.KeyInfo().Append(d)
	return d
}

func (s *Signature) AppendMgmtData(data string) *keyinfo.MgmtData {
	d := &keyinfo.MgmtData{Data: data}
	s.KeyInfo().Append(d)
	return d
}

func (s *Signature) AppendRSAKeyValue(pub *rsa.PublicKey) *keyinfo.KeyValue {
	kv := &keyinfo.KeyValue{RSA: pub}
	s.KeyInfo().Append(kv)
	return kv
}

// AppendObject adds an empty ds:Object at the end of the signature.
func (s *Signature) AppendObject() (*Object, error) {
	if err := s.requireStructure("append an object"); err != nil {
		return nil, err
	}
	o := &Object{sig: s, el: dom.NewChild(s.el, s.prefixes.DSig, "Object")}
	s.objects = append(s.objects, o)
	return o, nil
}

// Load reads the structure of the signature element without checking any
// value.
func (s *Signature) Load() error {
	if err := s.load(false); err != nil {
		return errs.WithContext(err, s.label())
	}
	return nil
}

// LoadTemplate is Load for a signature whose DigestValue and SignatureValue
// elements are placeholders to be filled in by Sign.
func (s *Signature) LoadTemplate() error {
	if err := s.load(true); err != nil {
		return errs.WithContext(err, s.label())
	}
	return nil
}

func (s *Signature) load(template bool) error {
	if !dom.Is(s.el, algo.NamespaceDSig, "Signature") {
		if s.el == nil {
			return errs.Structural("signature", "no Signature element")
		}
		return errs.Structural("signature", "expected Signature, found %s", s.el.FullTag())
	}
	s.prefixes.DSig = s.el.Space
	s.refs, s.objects, s.keyInfo, s.inclusive, s.hmacOutputLength = nil, nil, nil, nil, 0

	s.signedInfo = dom.FirstChildNS(s.el, algo.NamespaceDSig, "SignedInfo")
	if s.signedInfo == nil {
		return errs.Structural("signature", "Signature without SignedInfo")
	}
	if err := s.loadSignedInfo(template); err != nil {
		return err
	}

	s.sigValue = dom.FirstChildNS(s.el, algo.NamespaceDSig, "SignatureValue")
	if s.sigValue == nil {
		return errs.Structural("signature", "Signature without SignatureValue")
	}
	s.value = nil
	if !template {
		v, err := transforms.DecodeBase64(dom.Text(s.sigValue))
		if err != nil {
			return errs.WithContext(err, "SignatureValue")
		}
		s.value = v
	}

	if ki := dom.FirstChildNS(s.el, algo.NamespaceDSig, "KeyInfo"); ki != nil {
		l, err := keyinfo.ParseList(ki)
		if err != nil {
			return err
		}
		s.keyInfo = l
	}
	for _, el := range dom.ChildrenNS(s.el, algo.NamespaceDSig, "Object") {
		o := &Object{sig: s, el: el}
		if id := el.SelectAttrValue("Id", ""); id != "" {
			s.ids.Register(id, el)
		}
		s.objects = append(s.objects, o)
	}
	s.state = stateLoaded
	s.logger().Debug("loaded signature",
		zap.String("method", s.method),
		zap.String("c14n", s.c14nMethod.String()),
		zap.Int("references", len(s.refs)))
	return nil
}

func (s *Signature) loadSignedInfo(template bool) error {
	cm := dom.FirstChildNS(s.signedInfo, algo.NamespaceDSig, "CanonicalizationMethod")
	if cm == nil {
		return errs.Structural("signature", "SignedInfo without CanonicalizationMethod")
	}
	m, err := c14n.MethodFromURI(cm.SelectAttrValue("Algorithm", ""))
	if err != nil {
		return err
	}
	s.c14nMethod = m
	if in := dom.FirstChildNS(cm, algo.NamespaceExcC14N, "InclusiveNamespaces"); in != nil && m.IsExclusive() {
		s.inclusive = strings.Fields(in.SelectAttrValue("PrefixList", ""))
	}

	sm := dom.FirstChildNS(s.signedInfo, algo.NamespaceDSig, "SignatureMethod")
	if sm == nil {
		return errs.Structural("signature", "SignedInfo without SignatureMethod")
	}
	s.method = sm.SelectAttrValue("Algorithm", "")
	if err := s.checkMethod(s.method); err != nil {
		return err
	}
	if ol := dom.FirstChildNS(sm, algo.NamespaceDSig, "HMACOutputLength"); ol != nil {
		bits, err := strconv.Atoi(dom.TrimmedText(ol))
		if err != nil {
			return errs.Structural("signature", "bad HMACOutputLength %q", dom.TrimmedText(ol))
		}
		if err := checkHMACOutputLength(s.method, bits); err != nil {
			return err
		}
		s.hmacOutputLength = bits
	}

	parse := reference.Parse
	if template {
		parse = reference.ParseTemplate
	}
	for _, el := range dom.ChildrenNS(s.signedInfo, algo.NamespaceDSig, "Reference") {
		r, err := parse(el)
		if err != nil {
			return err
		}
		s.refs = append(s.refs, r)
	}
	return nil
}

// Sign digests every reference, then computes the signature value over the
// canonical SignedInfo and writes it.
func (s *Signature) Sign() error {
	if err := s.requireStructure("sign"); err != nil {
		return err
	}
	start := time.Now()
	err := s.sign()
	s.cfg.Metrics.RecordSign(s.method, err == nil, time.Since(start))
	if err != nil {
		return errs.WithContext(err, s.label())
	}
	s.state = stateSigned
	return nil
}

func (s *Signature) sign() error {
	if s.key == nil {
		return errs.Crypto("sign", "", "no signing key set")
	}
	if want, _ := keys.TypeFor(s.method); s.key.Type() != want {
		return errs.Crypto("sign", s.key.Type().String(), "%s key cannot sign with %s", s.key.Type(), s.method)
	}
	// Every digest is computed before any DigestValue changes, and a failure
	// leaves the tree as it was.
	var indented []*etree.CharData
	if s.cfg.PrettyPrint {
		indented = s.prettyPrint()
	}
	ctx := s.ReferenceContext()
	digests := make([][]byte, len(s.refs))
	for i, r := range s.refs {
		d, err := r.Digest(ctx)
		if err != nil {
			dom.Unindent(indented)
			return err
		}
		digests[i] = d
	}
	restore := make([]func(), len(s.refs))
	for i, r := range s.refs {
		restore[i] = r.SaveDigestValue()
		r.SetDigestValue(digests[i])
	}
	v, err := s.signatureValue()
	if err != nil {
		for _, f := range restore {
			f()
		}
		dom.Unindent(indented)
		return err
	}
	s.value = v
	s.sigValue.SetText(base64.StdEncoding.EncodeToString(v))
	return nil
}

func (s *Signature) signatureValue() ([]byte, error) {
	data, err := s.canonicalSignedInfo()
	if err != nil {
		return nil, err
	}
	if hk, ok := s.key.(*keys.HMACKey); ok {
		v, err := s.cfg.Provider.HMAC(s.method, hk, data)
		if err != nil {
			return nil, err
		}
		return s.truncate(v), nil
	}
	return s.cfg.Provider.Sign(s.method, s.key, data)
}

func (s *Signature) truncate(mac []byte) []byte {
	if s.hmacOutputLength == 0 || s.hmacOutputLength/8 >= len(mac) {
		return mac
	}
	return mac[:s.hmacOutputLength/8]
}

func (s *Signature) canonicalSignedInfo() ([]byte, error) {
	return c14n.New(s.c14nMethod, s.inclusive...).CanonicalizeSubtree(s.signedInfo)
}

// verificationKey is the key set with SetSigningKey, else the first usable
// key in KeyInfo.
func (s *Signature) verificationKey() (keys.Key, error) {
	if s.key != nil {
		return s.key, nil
	}
	if k, ok := s.keyInfo.PublicKey(); ok {
		s.logger().Debug("using key from KeyInfo", zap.String("type", k.Type().String()))
		return k, nil
	}
	return nil, errs.Crypto("verify", "", "no verification key set and none found in KeyInfo")
}

func (s *Signature) checkValue() (bool, error) {
	key, err := s.verificationKey()
	if err != nil {
		return false, err
	}
	data, err := s.canonicalSignedInfo()
	if err != nil {
		return false, err
	}
	if !algo.IsHMAC(s.method) {
		return s.cfg.Provider.VerifySignature(s.method, key, data, s.value)
	}
	hk, ok := key.(*keys.HMACKey)
	if !ok {
		return false, errs.Crypto("verify", key.Type().String(), "%s key cannot verify %s", key.Type(), s.method)
	}
	mac, err := s.cfg.Provider.HMAC(s.method, hk, data)
	if err != nil {
		return false, err
	}
	return hmac.Equal(s.truncate(mac), s.value), nil
}

func (s *Signature) requireLoaded(op string) error {
	switch s.state {
	case stateBlank:
		return errs.Structural("signature", "cannot %s a blank signature", op)
	case stateUnloaded:
		return errs.Structural("signature", "Load must be called before %s", op)
	}
	return nil
}

// Verify checks every reference digest and the signature value. All
// references are checked even after a mismatch; Report gives the details.
// The result is false with a nil error when something does not match.
func (s *Signature) Verify() (bool, error) {
	if err := s.requireLoaded("verify"); err != nil {
		return false, err
	}
	start := time.Now()
	report := Report{}
	var firstErr error
	ctx := s.ReferenceContext()
	for _, r := range s.refs {
		ok, err := r.Verify(ctx)
		report.References = append(report.References, ReferenceResult{URI: r.URI, Valid: ok, Err: err})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.checkSignatureInto(&report)
	if report.SignatureErr != nil && firstErr == nil {
		firstErr = report.SignatureErr
	}
	s.report = report
	valid := report.Valid()
	s.cfg.Metrics.RecordVerify(s.method, valid, firstErr != nil, time.Since(start))
	if firstErr != nil {
		return false, errs.WithContext(firstErr, s.label())
	}
	if valid {
		s.state = stateVerified
	}
	return valid, nil
}

// VerifySignatureOnly checks the signature value over SignedInfo and nothing
// else.
func (s *Signature) VerifySignatureOnly() (bool, error) {
	if err := s.requireLoaded("verify"); err != nil {
		return false, err
	}
	start := time.Now()
	report := Report{}
	s.checkSignatureInto(&report)
	s.report = report
	failed := report.SignatureErr != nil
	s.cfg.Metrics.RecordVerify(s.method, report.SignatureValid, failed, time.Since(start))
	if failed {
		return false, errs.WithContext(report.SignatureErr, s.label())
	}
	return report.SignatureValid, nil
}

func (s *Signature) checkSignatureInto(report *Report) {
	ok, err := s.checkValue()
	report.SignatureChecked = true
	report.SignatureValid = ok && err == nil
	report.SignatureErr = err
	if err == nil && !ok {
		s.logger().Debug("signature value mismatch", zap.String("method", s.method))
	}
}

// Report describes the outcome of the last Verify or VerifySignatureOnly.
func (s *Signature) Report() Report { return s.report }
