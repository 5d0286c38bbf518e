package reference

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/metrics"
	"github.com/leifj/xmlsec/provider"
	"github.com/leifj/xmlsec/transforms"
)

// Context is what digesting a reference needs.
type Context struct {
	Resolver *Resolver
	Provider provider.Provider
	// Signature is the enclosing ds:Signature, used by the enveloped-signature
	// transform.
	Signature *etree.Element
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

func (c *Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Context) recorder() metrics.Recorder {
	if c.Metrics == nil {
		return metrics.Noop{}
	}
	return c.Metrics
}

// Reference is a ds:Reference: a URI, the transforms applied to what it
// points at and the digest of the result.
type Reference struct {
	URI          string
	Type         string
	Id           string
	DigestMethod string
	DigestValue  []byte

	chain    *transforms.Chain
	el       *etree.Element
	prefixes dom.Prefixes
}

// New returns an unbound reference. The transform chain starts from a
// node-set for same-document URIs and from octets otherwise.
func New(uri, digestMethod string) *Reference {
	input := transforms.Octets
	if IsSameDocument(uri) {
		input = transforms.NodeSet
	}
	c, _ := transforms.NewChain(input)
	return &Reference{URI: uri, DigestMethod: digestMethod, chain: c, prefixes: dom.DefaultPrefixes}
}

func (r *Reference) Chain() *transforms.Chain { return r.chain }

// Element is the ds:Reference element r is bound to, nil before Marshal.
func (r *Reference) Element() *etree.Element { return r.el }

// AppendTransform adds t to the chain. A bound reference re-renders its
// Transforms element.
func (r *Reference) AppendTransform(t transforms.Transform) error {
	if err := r.chain.Append(t); err != nil {
		return errs.WithContext(err, r.label())
	}
	r.renderTransforms()
	return nil
}

func (r *Reference) AppendEnveloped() error {
	return r.AppendTransform(&transforms.EnvelopedSignature{})
}

func (r *Reference) AppendBase64() error {
	return r.AppendTransform(&transforms.Base64{})
}

func (r *Reference) AppendCanonicalization(m c14n.Method, inclusivePrefixes ...string) (*transforms.Canonicalization, error) {
	t := transforms.NewCanonicalization(m, inclusivePrefixes...)
	return t, r.AppendTransform(t)
}

func (r *Reference) AppendXPath(expression string) (*transforms.XPath, error) {
	t := transforms.NewXPath(expression)
	return t, r.AppendTransform(t)
}

// AppendXPathFilter2 adds an empty XPath Filter 2.0 transform; steps are added
// on the returned value.
func (r *Reference) AppendXPathFilter2() (*transforms.XPathFilter2, error) {
	t := transforms.NewXPathFilter2()
	return t, r.AppendTransform(t)
}

// Marshal appends a ds:Reference element for r to parent and binds r to it.
func (r *Reference) Marshal(parent *etree.Element, p dom.Prefixes) *etree.Element {
	r.prefixes = p
	r.el = dom.NewChild(parent, p.DSig, "Reference")
	if r.Id != "" {
		r.el.CreateAttr("Id", r.Id)
	}
	r.el.CreateAttr("URI", r.URI)
	if r.Type != "" {
		r.el.CreateAttr("Type", r.Type)
	}
	dm := dom.NewChild(r.el, p.DSig, "DigestMethod")
	dm.CreateAttr("Algorithm", r.DigestMethod)
	dv := dom.NewChild(r.el, p.DSig, "DigestValue")
	dv.SetText(base64.StdEncoding.EncodeToString(r.DigestValue))
	r.renderTransforms()
	return r.el
}

// renderTransforms rebuilds the Transforms element, which precedes
// DigestMethod.
func (r *Reference) renderTransforms() {
	if r.el == nil {
		return
	}
	if old := dom.FirstChildNS(r.el, algo.NamespaceDSig, "Transforms"); old != nil {
		r.el.RemoveChild(old)
	}
	if r.chain.Len() == 0 {
		return
	}
	ts := etree.NewElement(dom.QName(r.prefixes.DSig, "Transforms"))
	r.el.InsertChildAt(0, ts)
	r.chain.Marshal(ts, r.prefixes)
}

// SetDigestValue stores d in r and its DigestValue element.
func (r *Reference) SetDigestValue(d []byte) {
	r.DigestValue = d
	if r.el == nil {
		return
	}
	if dv := dom.FirstChildNS(r.el, algo.NamespaceDSig, "DigestValue"); dv != nil {
		dv.SetText(base64.StdEncoding.EncodeToString(d))
	}
}

// Parse reads a ds:Reference element.
func Parse(el *etree.Element) (*Reference, error) {
	return parse(el, true)
}

// ParseTemplate reads a ds:Reference whose DigestValue is still to be
// computed; its content is ignored.
func ParseTemplate(el *etree.Element) (*Reference, error) {
	return parse(el, false)
}

func parse(el *etree.Element, withDigest bool) (*Reference, error) {
	uriAttr := el.SelectAttr("URI")
	if uriAttr == nil {
		return nil, errs.Structural("reference", "Reference without a URI attribute")
	}
	r := New(uriAttr.Value, "")
	r.el = el
	r.prefixes = dom.DefaultPrefixes
	r.prefixes.DSig = el.Space
	r.Id = el.SelectAttrValue("Id", "")
	r.Type = el.SelectAttrValue("Type", "")

	chain, err := transforms.ParseChain(r.chain.Input(), dom.FirstChildNS(el, algo.NamespaceDSig, "Transforms"))
	if err != nil {
		return nil, errs.WithContext(err, r.label())
	}
	r.chain = chain

	dm := dom.FirstChildNS(el, algo.NamespaceDSig, "DigestMethod")
	if dm == nil {
		return nil, errs.Structural("reference", "%s has no DigestMethod", r.label())
	}
	if r.DigestMethod = dm.SelectAttrValue("Algorithm", ""); r.DigestMethod == "" {
		return nil, errs.Structural("reference", "%s has a DigestMethod without Algorithm", r.label())
	}
	dv := dom.FirstChildNS(el, algo.NamespaceDSig, "DigestValue")
	if dv == nil {
		return nil, errs.Structural("reference", "%s has no DigestValue", r.label())
	}
	if !withDigest {
		return r, nil
	}
	if r.DigestValue, err = transforms.DecodeBase64(dom.Text(dv)); err != nil {
		return nil, errs.WithContext(err, r.label())
	}
	if n := algo.DigestSize(r.DigestMethod); n != 0 && len(r.DigestValue) != n {
		return nil, errs.Structural("reference", "%s carries a %d byte digest, %s produces %d",
			r.label(), len(r.DigestValue), r.DigestMethod, n)
	}
	return r, nil
}

func (r *Reference) label() string {
	return fmt.Sprintf("reference %q", r.URI)
}

// Digest resolves the URI, runs the transforms and digests the result. A
// node-set left at the end of the chain is canonicalized with inclusive C14N.
func (r *Reference) Digest(ctx *Context) ([]byte, error) {
	d, err := r.digest(ctx)
	if err != nil {
		return nil, errs.WithContext(err, r.label())
	}
	return d, nil
}

func (r *Reference) digest(ctx *Context) ([]byte, error) {
	if algo.ClassOf(r.DigestMethod) != algo.ClassDigest || !ctx.Provider.AlgorithmSupported(r.DigestMethod) {
		return nil, errs.Unsupported("digest", "digest", r.DigestMethod)
	}
	octets, err := r.octets(ctx)
	if err != nil {
		return nil, err
	}
	return ctx.Provider.Digest(r.DigestMethod, octets)
}

// Content returns the octets the digest is computed over: the referenced
// data after every transform.
func (r *Reference) Content(ctx *Context) ([]byte, error) {
	b, err := r.octets(ctx)
	if err != nil {
		return nil, errs.WithContext(err, r.label())
	}
	return b, nil
}

func (r *Reference) octets(ctx *Context) ([]byte, error) {
	if ctx.Resolver == nil {
		return nil, errs.Structural("reference", "no resolver")
	}
	in, err := ctx.Resolver.Resolve(r.URI)
	if err != nil {
		return nil, err
	}
	if in.Kind() != r.chain.Input() {
		return nil, errs.Structural("reference", "resolved %s, transforms expect %s", in.Kind(), r.chain.Input())
	}
	out, err := r.chain.Apply(&transforms.Context{Signature: ctx.Signature, Logger: ctx.Logger}, in)
	if err != nil {
		return nil, err
	}
	if out.Kind() == transforms.NodeSet {
		return c14n.New(c14n.Inclusive).CanonicalizeNodeSet(out.Nodes())
	}
	return out.Octets(), nil
}

// Update computes the digest and stores it in r and its DigestValue element.
func (r *Reference) Update(ctx *Context) error {
	d, err := r.Digest(ctx)
	if err != nil {
		return err
	}
	r.SetDigestValue(d)
	return nil
}

// SaveDigestValue returns a function that puts the DigestValue back as it is
// now, in r and in its element.
func (r *Reference) SaveDigestValue() (restore func()) {
	saved := r.DigestValue
	var dv *etree.Element
	var text string
	if r.el != nil {
		if dv = dom.FirstChildNS(r.el, algo.NamespaceDSig, "DigestValue"); dv != nil {
			text = dv.Text()
		}
	}
	return func() {
		r.DigestValue = saved
		if dv != nil {
			dv.SetText(text)
		}
	}
}

// CalculateHash writes the digest into buf and returns its length. buf must
// be large enough for the digest method.
func (r *Reference) CalculateHash(ctx *Context, buf []byte) (int, error) {
	if n := algo.DigestSize(r.DigestMethod); n > len(buf) {
		return 0, errs.WithContext(
			errs.Crypto("digest", "", "buffer of %d bytes cannot hold a %d byte digest", len(buf), n), r.label())
	}
	d, err := r.Digest(ctx)
	if err != nil {
		return 0, err
	}
	if len(d) > len(buf) {
		return 0, errs.WithContext(
			errs.Crypto("digest", "", "buffer of %d bytes cannot hold a %d byte digest", len(buf), len(d)), r.label())
	}
	return copy(buf, d), nil
}

// Verify recomputes the digest and compares it with the stored one. A
// mismatch is reported as false; errors mean the digest could not be computed.
func (r *Reference) Verify(ctx *Context) (bool, error) {
	d, err := r.Digest(ctx)
	if err != nil {
		return false, err
	}
	ok := subtle.ConstantTimeCompare(d, r.DigestValue) == 1
	ctx.recorder().RecordReference(r.DigestMethod, ok)
	if !ok {
		ctx.logger().Debug("reference digest mismatch",
			zap.String("uri", r.URI), zap.String("digest", r.DigestMethod))
	}
	return ok, nil
}
