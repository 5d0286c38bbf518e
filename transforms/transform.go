package transforms

import (
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
)

// Transform is one stage of a chain. The set of implementations is closed:
// *Canonicalization, *XPath, *XPathFilter2, *EnvelopedSignature and *Base64.
type Transform interface {
	Algorithm() string
	// Accepts reports whether the transform takes input of kind k.
	Accepts(k Kind) bool
	// Output is the kind produced for input of kind in.
	Output(in Kind) Kind
	Apply(ctx *Context, in Data) (Data, error)
	// Element is the ds:Transform element the transform is bound to, nil if
	// it has not been marshalled or parsed.
	Element() *etree.Element

	bind(el *etree.Element, p dom.Prefixes)
	render()
}

// base holds the element binding shared by every transform.
type base struct {
	el       *etree.Element
	prefixes dom.Prefixes
}

func (b *base) Element() *etree.Element { return b.el }

func (b *base) bind(el *etree.Element, p dom.Prefixes) {
	b.el = el
	b.prefixes = p
}

// Marshal appends a Transform element for t to parent and binds t to it.
func Marshal(parent *etree.Element, t Transform, p dom.Prefixes) *etree.Element {
	el := dom.NewChild(parent, p.DSig, "Transform")
	el.CreateAttr("Algorithm", t.Algorithm())
	t.bind(el, p)
	t.render()
	return el
}

// Parse reads a ds:Transform element.
func Parse(el *etree.Element) (Transform, error) {
	uri := el.SelectAttrValue("Algorithm", "")
	if uri == "" {
		return nil, errs.Structural("transform", "Transform element without Algorithm")
	}
	var (
		t   Transform
		err error
	)
	switch uri {
	case algo.C14N, algo.C14NWithComments, algo.ExcC14N, algo.ExcC14NWithComments:
		t, err = parseCanonicalization(el, uri)
	case algo.TransformXPath:
		t, err = parseXPath(el)
	case algo.TransformXPath2:
		t, err = parseXPathFilter2(el)
	case algo.TransformEnveloped:
		t = &EnvelopedSignature{}
	case algo.TransformBase64:
		t = &Base64{}
	default:
		return nil, errs.Unsupported("transform", "transform", uri)
	}
	if err != nil {
		return nil, err
	}
	t.bind(el, prefixesOf(el))
	return t, nil
}

// prefixesOf guesses the prefixes in use from a parsed element, so that later
// mutations render with the same ones.
func prefixesOf(el *etree.Element) dom.Prefixes {
	p := dom.DefaultPrefixes
	p.DSig = el.Space
	return p
}

// namespacesFor returns the prefix bindings an XPath expression found in el
// can use. The default namespace never applies to XPath 1.0 name tests.
func namespacesFor(el *etree.Element) map[string]string {
	out := map[string]string{}
	for p, u := range dom.InScope(el) {
		if p != "" && p != "xml" {
			out[p] = u
		}
	}
	return out
}

func declareAll(el *etree.Element, ns map[string]string) {
	prefixes := make([]string, 0, len(ns))
	for p := range ns {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		dom.Declare(el, p, ns[p])
	}
}

// Canonicalization is a canonicalization transform. InclusivePrefixes is used
// by the exclusive methods only.
type Canonicalization struct {
	base
	Method            c14n.Method
	InclusivePrefixes []string
}

func NewCanonicalization(m c14n.Method, inclusivePrefixes ...string) *Canonicalization {
	return &Canonicalization{Method: m, InclusivePrefixes: inclusivePrefixes}
}

func (t *Canonicalization) Algorithm() string { return t.Method.URI() }
func (t *Canonicalization) Accepts(Kind) bool { return true }
func (t *Canonicalization) Output(Kind) Kind  { return Octets }

func (t *Canonicalization) Canonicalizer() *c14n.Canonicalizer {
	return c14n.New(t.Method, t.InclusivePrefixes...)
}

// AddInclusiveNamespace appends prefix to the InclusiveNamespaces list.
func (t *Canonicalization) AddInclusiveNamespace(prefix string) {
	t.InclusivePrefixes = append(t.InclusivePrefixes, prefix)
	t.render()
}

func (t *Canonicalization) Apply(ctx *Context, in Data) (Data, error) {
	var (
		out []byte
		err error
	)
	c := t.Canonicalizer()
	switch in.kind {
	case NodeSet:
		out, err = c.CanonicalizeNodeSet(in.nodes)
	case Octets:
		out, err = c.CanonicalizeBytes(in.octets)
	default:
		return Data{}, errs.Structural("transform", "canonicalization given no input")
	}
	if err != nil {
		return Data{}, err
	}
	return OctetData(out), nil
}

func (t *Canonicalization) render() {
	if t.el == nil {
		return
	}
	dom.ClearChildren(t.el)
	if !t.Method.IsExclusive() || len(t.InclusivePrefixes) == 0 {
		return
	}
	in := dom.NewChild(t.el, t.prefixes.EC, "InclusiveNamespaces")
	dom.Declare(in, t.prefixes.EC, algo.NamespaceExcC14N)
	in.CreateAttr("PrefixList", strings.Join(t.InclusivePrefixes, " "))
}

func parseCanonicalization(el *etree.Element, uri string) (*Canonicalization, error) {
	m, err := c14n.MethodFromURI(uri)
	if err != nil {
		return nil, err
	}
	t := &Canonicalization{Method: m}
	if in := dom.FirstChildNS(el, algo.NamespaceExcC14N, "InclusiveNamespaces"); in != nil && m.IsExclusive() {
		t.InclusivePrefixes = strings.Fields(in.SelectAttrValue("PrefixList", ""))
	}
	return t, nil
}

// EnvelopedSignature removes the enclosing Signature element from a node-set.
type EnvelopedSignature struct {
	base
}

func (t *EnvelopedSignature) Algorithm() string   { return algo.TransformEnveloped }
func (t *EnvelopedSignature) Accepts(k Kind) bool { return k == NodeSet }
func (t *EnvelopedSignature) Output(Kind) Kind    { return NodeSet }
func (t *EnvelopedSignature) render()             {}

func (t *EnvelopedSignature) Apply(ctx *Context, in Data) (Data, error) {
	if in.kind != NodeSet {
		return Data{}, errs.Structural("transform", "enveloped-signature needs a node-set, got %s", in.kind)
	}
	if ctx == nil || ctx.Signature == nil {
		return Data{}, errs.Structural("transform", "enveloped-signature outside of a signature")
	}
	out := in.nodes.Clone()
	if dom.Root(ctx.Signature) == out.Root() {
		out.RemoveSubtree(ctx.Signature)
	}
	return NodeSetData(out), nil
}
