package transforms

import (
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
)

// XPath is the XPath filtering transform: a node of the input is kept when the
// expression, evaluated with that node as context, is true.
type XPath struct {
	base
	Expression string
	// Namespaces binds the prefixes the expression uses.
	Namespaces map[string]string

	xpathEl *etree.Element
}

func NewXPath(expression string) *XPath {
	return &XPath{Expression: expression, Namespaces: map[string]string{}}
}

func (t *XPath) Algorithm() string   { return algo.TransformXPath }
func (t *XPath) Accepts(k Kind) bool { return k == NodeSet }
func (t *XPath) Output(Kind) Kind    { return NodeSet }

// SetNamespace binds prefix to uri for the expression and declares it on the
// XPath element.
func (t *XPath) SetNamespace(prefix, uri string) {
	if t.Namespaces == nil {
		t.Namespaces = map[string]string{}
	}
	t.Namespaces[prefix] = uri
	t.render()
}

func (t *XPath) render() {
	if t.el == nil {
		return
	}
	dom.ClearChildren(t.el)
	t.xpathEl = dom.NewChild(t.el, t.prefixes.DSig, "XPath")
	declareAll(t.xpathEl, t.Namespaces)
	t.xpathEl.SetText(t.Expression)
}

func (t *XPath) Apply(ctx *Context, in Data) (Data, error) {
	if in.kind != NodeSet {
		return Data{}, errs.Structural("transform", "XPath needs a node-set, got %s", in.kind)
	}
	if !dom.IsDocument(in.nodes.Root()) {
		return Data{}, errs.Structural("transform", "XPath needs nodes that belong to a document")
	}
	x, err := dom.CompileXPath(t.Expression, t.Namespaces, t.xpathEl)
	if err != nil {
		return Data{}, errs.WrapStructural("transform", err)
	}
	parents := map[*etree.Element]bool{}
	out := in.nodes.Filter(func(n dom.Node) bool {
		if n.Kind != dom.ProcInstNode {
			return x.Bool(n)
		}
		keep, ok := parents[n.Elem]
		if !ok {
			keep = x.Bool(dom.ElementOf(n.Elem))
			parents[n.Elem] = keep
		}
		return keep
	})
	ctx.logger().Debug("xpath transform", zap.String("expression", t.Expression),
		zap.Int("in", in.nodes.Len()), zap.Int("out", out.Len()))
	return NodeSetData(out), nil
}

func parseXPath(el *etree.Element) (*XPath, error) {
	x := dom.FirstChildNS(el, algo.NamespaceDSig, "XPath")
	if x == nil {
		return nil, errs.Structural("transform", "XPath transform without an XPath element")
	}
	return &XPath{Expression: dom.Text(x), Namespaces: namespacesFor(x), xpathEl: x}, nil
}

// FilterOp is the set operation of one XPath Filter 2.0 step.
type FilterOp string

const (
	Intersect FilterOp = "intersect"
	Subtract  FilterOp = "subtract"
	Union     FilterOp = "union"
)

// Filter is one step of an XPath Filter 2.0 transform.
type Filter struct {
	Op         FilterOp
	Expression string
	Namespaces map[string]string

	el *etree.Element
}

// XPathFilter2 is the XPath Filter 2.0 transform. Each step intersects,
// subtracts or unions the subtrees its expression selects into the filter,
// left to right. The filter starts empty when the first step is a union and
// as every node of the input document otherwise. The result is intersected
// with the input.
type XPathFilter2 struct {
	base
	Filters []*Filter
}

func NewXPathFilter2() *XPathFilter2 { return &XPathFilter2{} }

func (t *XPathFilter2) Algorithm() string   { return algo.TransformXPath2 }
func (t *XPathFilter2) Accepts(k Kind) bool { return k == NodeSet }
func (t *XPathFilter2) Output(Kind) Kind    { return NodeSet }

// AppendFilter adds a step. namespaces may be nil.
func (t *XPathFilter2) AppendFilter(op FilterOp, expression string, namespaces map[string]string) (*Filter, error) {
	switch op {
	case Intersect, Subtract, Union:
	default:
		return nil, errs.Structural("transform", "unknown XPath filter operation %q", op)
	}
	if namespaces == nil {
		namespaces = map[string]string{}
	}
	f := &Filter{Op: op, Expression: expression, Namespaces: namespaces}
	t.Filters = append(t.Filters, f)
	t.render()
	return f, nil
}

func (t *XPathFilter2) render() {
	if t.el == nil {
		return
	}
	dom.ClearChildren(t.el)
	for _, f := range t.Filters {
		f.el = dom.NewChild(t.el, t.prefixes.XPF, "XPath")
		dom.Declare(f.el, t.prefixes.XPF, algo.NamespaceFilter2)
		declareAll(f.el, f.Namespaces)
		f.el.CreateAttr("Filter", string(f.Op))
		f.el.SetText(f.Expression)
	}
}

func (t *XPathFilter2) Apply(ctx *Context, in Data) (Data, error) {
	if in.kind != NodeSet {
		return Data{}, errs.Structural("transform", "XPath Filter 2.0 needs a node-set, got %s", in.kind)
	}
	if len(t.Filters) == 0 {
		return Data{}, errs.Structural("transform", "XPath Filter 2.0 without filters")
	}
	doc := in.nodes.Root()
	if !dom.IsDocument(doc) {
		return Data{}, errs.Structural("transform", "XPath Filter 2.0 needs nodes that belong to a document")
	}
	filter := dom.Subtree(doc, true)
	if t.Filters[0].Op == Union {
		filter = dom.NewNodeSet(doc)
	}
	for _, f := range t.Filters {
		x, err := dom.CompileXPath(f.Expression, f.Namespaces, f.el)
		if err != nil {
			return Data{}, errs.WrapStructural("transform", err)
		}
		selected, err := x.Select(dom.ElementOf(doc))
		if err != nil {
			return Data{}, errs.WrapStructural("transform", err)
		}
		s := dom.NewNodeSet(doc)
		for _, n := range selected {
			s.AddNodeSubtree(n, true)
		}
		switch f.Op {
		case Intersect:
			filter = filter.Intersect(s)
		case Subtract:
			filter = filter.Subtract(s)
		case Union:
			filter = filter.Union(s)
		}
		ctx.logger().Debug("xpath filter 2.0 step", zap.String("op", string(f.Op)),
			zap.String("expression", f.Expression), zap.Int("selected", len(selected)))
	}
	return NodeSetData(in.nodes.Intersect(filter)), nil
}

func parseXPathFilter2(el *etree.Element) (*XPathFilter2, error) {
	t := &XPathFilter2{}
	for _, x := range dom.ChildrenNS(el, algo.NamespaceFilter2, "XPath") {
		op := FilterOp(x.SelectAttrValue("Filter", ""))
		switch op {
		case Intersect, Subtract, Union:
		default:
			return nil, errs.Structural("transform", "unknown XPath filter operation %q", op)
		}
		t.Filters = append(t.Filters, &Filter{Op: op, Expression: dom.Text(x), Namespaces: namespacesFor(x), el: x})
	}
	if len(t.Filters) == 0 {
		return nil, errs.Structural("transform", "XPath Filter 2.0 transform without XPath elements")
	}
	return t, nil
}

// Base64 decodes base64 text. A node-set input contributes the text of its
// text nodes in document order.
type Base64 struct {
	base
}

func (t *Base64) Algorithm() string { return algo.TransformBase64 }
func (t *Base64) Accepts(Kind) bool { return true }
func (t *Base64) Output(Kind) Kind  { return Octets }
func (t *Base64) render()           {}

func (t *Base64) Apply(ctx *Context, in Data) (Data, error) {
	var text string
	switch in.kind {
	case Octets:
		text = string(in.octets)
	case NodeSet:
		var b strings.Builder
		for _, n := range in.nodes.Nodes() {
			if n.Kind != dom.TextNode {
				continue
			}
			if cd, ok := n.Tok.(*etree.CharData); ok {
				b.WriteString(cd.Data)
			}
		}
		text = b.String()
	default:
		return Data{}, errs.Structural("transform", "base64 given no input")
	}
	out, err := DecodeBase64(text)
	if err != nil {
		return Data{}, err
	}
	return OctetData(out), nil
}

// DecodeBase64 decodes s after removing whitespace.
func DecodeBase64(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	out, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, errs.WrapStructural("base64", err)
	}
	return out, nil
}
