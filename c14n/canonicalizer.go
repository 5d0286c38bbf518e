package c14n

import (
	"bytes"
	"sort"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
)

// Canonicalizer serializes node-sets with one Method. For the exclusive
// methods it carries the InclusiveNamespaces prefix list; "#default" in that
// list stands for the default namespace.
type Canonicalizer struct {
	method    Method
	inclusive []string
}

var _ dsig.Canonicalizer = (*Canonicalizer)(nil)

// New returns a Canonicalizer for m. Inclusive prefixes are ignored by the
// inclusive methods.
func New(m Method, inclusivePrefixes ...string) *Canonicalizer {
	c := &Canonicalizer{method: m}
	for _, p := range inclusivePrefixes {
		if p == "#default" {
			p = ""
		}
		c.inclusive = append(c.inclusive, p)
	}
	return c
}

func (c *Canonicalizer) Method() Method { return c.method }

// InclusivePrefixes returns the prefix list in its wire form.
func (c *Canonicalizer) InclusivePrefixes() []string {
	out := make([]string, len(c.inclusive))
	for i, p := range c.inclusive {
		if p == "" {
			p = "#default"
		}
		out[i] = p
	}
	return out
}

// Algorithm implements dsig.Canonicalizer.
func (c *Canonicalizer) Algorithm() dsig.AlgorithmID {
	return dsig.AlgorithmID(c.method.URI())
}

// Canonicalize implements dsig.Canonicalizer: the subtree rooted at el, in the
// namespace context of its ancestors.
func (c *Canonicalizer) Canonicalize(el *etree.Element) ([]byte, error) {
	return c.CanonicalizeSubtree(el)
}

// CanonicalizeSubtree canonicalizes e and everything below it. Comments are
// kept only by the with-comments methods.
func (c *Canonicalizer) CanonicalizeSubtree(e *etree.Element) ([]byte, error) {
	return c.CanonicalizeNodeSet(dom.Subtree(e, c.method.WithComments()))
}

// CanonicalizeBytes parses data as a document and canonicalizes all of it.
func (c *Canonicalizer) CanonicalizeBytes(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errs.WrapStructural("c14n", err)
	}
	return c.CanonicalizeSubtree(&doc.Element)
}

// CanonicalizeNodeSet serializes the nodes of set in document order.
func (c *Canonicalizer) CanonicalizeNodeSet(set *dom.NodeSet) ([]byte, error) {
	w := &writer{
		set:       set,
		comments:  c.method.WithComments(),
		exclusive: c.method.IsExclusive(),
		inclusive: c.inclusive,
	}
	root := set.Root()
	if dom.IsDocument(root) {
		w.document(root)
	} else {
		w.element(root, dom.Scope{}, dom.Scope{})
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type writer struct {
	set       *dom.NodeSet
	comments  bool
	exclusive bool
	inclusive []string
	buf       bytes.Buffer
	err       error
}

func (w *writer) document(doc *etree.Element) {
	afterRoot := false
	for _, tok := range doc.Child {
		if w.err != nil {
			return
		}
		if e, ok := tok.(*etree.Element); ok {
			w.element(e, dom.Scope{}, dom.Scope{})
			afterRoot = true
			continue
		}
		n, ok := dom.TokenOf(doc, tok)
		if !ok || !w.set.Contains(n) || (n.Kind == dom.CommentNode && !w.comments) {
			continue
		}
		if afterRoot {
			w.buf.WriteByte('\n')
		}
		w.token(tok)
		if !afterRoot {
			w.buf.WriteByte('\n')
		}
	}
}

// element writes e and its descendants. rendered holds the namespace context
// established by the nearest output ancestor.
func (w *writer) element(e *etree.Element, parentScope, rendered dom.Scope) {
	scope := parentScope.With(e)
	in := w.set.ContainsElement(e)
	childRendered := rendered
	if in {
		if err := checkPrefixes(e, scope, w.set); err != nil {
			w.err = err
			return
		}
		childRendered = w.startTag(e, scope, rendered)
	}
	for _, tok := range e.Child {
		if w.err != nil {
			return
		}
		if child, ok := tok.(*etree.Element); ok {
			w.element(child, scope, childRendered)
			continue
		}
		n, ok := dom.TokenOf(e, tok)
		if !ok || !w.set.Contains(n) || (n.Kind == dom.CommentNode && !w.comments) {
			continue
		}
		w.token(tok)
	}
	if in {
		w.buf.WriteString("</")
		w.buf.WriteString(e.FullTag())
		w.buf.WriteByte('>')
	}
}

func (w *writer) token(tok etree.Token) {
	switch t := tok.(type) {
	case *etree.CharData:
		w.buf.WriteString(escapeText(t.Data))
	case *etree.Comment:
		w.buf.WriteString("<!--")
		w.buf.WriteString(t.Data)
		w.buf.WriteString("-->")
	case *etree.ProcInst:
		w.buf.WriteString("<?")
		w.buf.WriteString(t.Target)
		if t.Inst != "" {
			w.buf.WriteByte(' ')
			w.buf.WriteString(t.Inst)
		}
		w.buf.WriteString("?>")
	}
}

type nsDecl struct {
	prefix, uri string
}

type attr struct {
	qname, uri, local, value string
}

func (w *writer) startTag(e *etree.Element, scope, rendered dom.Scope) dom.Scope {
	var (
		decls []nsDecl
		next  dom.Scope
	)
	if w.exclusive {
		decls, next = w.exclusiveNamespaces(e, scope, rendered)
	} else {
		decls, next = inclusiveNamespaces(scope, rendered)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].prefix < decls[j].prefix })

	attrs := w.attributes(e, scope)
	sort.SliceStable(attrs, func(i, j int) bool {
		if attrs[i].uri != attrs[j].uri {
			return attrs[i].uri < attrs[j].uri
		}
		return attrs[i].local < attrs[j].local
	})

	w.buf.WriteByte('<')
	w.buf.WriteString(e.FullTag())
	for _, d := range decls {
		if d.prefix == "" {
			w.buf.WriteString(` xmlns="`)
		} else {
			w.buf.WriteString(" xmlns:")
			w.buf.WriteString(d.prefix)
			w.buf.WriteString(`="`)
		}
		w.buf.WriteString(escapeAttr(d.uri))
		w.buf.WriteByte('"')
	}
	for _, a := range attrs {
		w.buf.WriteByte(' ')
		w.buf.WriteString(a.qname)
		w.buf.WriteString(`="`)
		w.buf.WriteString(escapeAttr(a.value))
		w.buf.WriteByte('"')
	}
	w.buf.WriteByte('>')
	return next
}

// inclusiveNamespaces renders every in-scope namespace that the nearest output
// ancestor does not already have with the same value.
func inclusiveNamespaces(scope, rendered dom.Scope) ([]nsDecl, dom.Scope) {
	var decls []nsDecl
	for p, u := range scope {
		if p == "xml" {
			continue
		}
		if r, ok := rendered[p]; !ok || r != u {
			decls = append(decls, nsDecl{p, u})
		}
	}
	if _, ok := scope[""]; !ok && rendered[""] != "" {
		decls = append(decls, nsDecl{"", ""})
	}
	return decls, scope
}

// exclusiveNamespaces renders the visibly utilized prefixes and those on the
// inclusive list, unless already rendered with the same value.
func (w *writer) exclusiveNamespaces(e *etree.Element, scope, rendered dom.Scope) ([]nsDecl, dom.Scope) {
	wanted := map[string]bool{e.Space: true}
	for _, a := range e.Attr {
		if dom.IsNamespaceDecl(a) || a.Space == "" || a.Space == "xml" {
			continue
		}
		if w.set.Contains(dom.AttrOf(e, &a)) {
			wanted[a.Space] = true
		}
	}
	for _, p := range w.inclusive {
		if _, ok := scope[p]; ok {
			wanted[p] = true
		}
	}
	delete(wanted, "xml")

	var decls []nsDecl
	next := rendered
	copied := false
	set := func(p, u string) {
		if !copied {
			next = make(dom.Scope, len(rendered)+1)
			for k, v := range rendered {
				next[k] = v
			}
			copied = true
		}
		if u == "" {
			delete(next, p)
		} else {
			next[p] = u
		}
	}
	for p := range wanted {
		u := scope[p]
		r, ok := rendered[p]
		if u == "" {
			// only the default namespace can be empty here
			if ok && r != "" {
				decls = append(decls, nsDecl{"", ""})
				set("", "")
			}
			continue
		}
		if !ok || r != u {
			decls = append(decls, nsDecl{p, u})
			set(p, u)
		}
	}
	return decls, next
}

func (w *writer) attributes(e *etree.Element, scope dom.Scope) []attr {
	var out []attr
	seen := map[string]bool{}
	for i := range e.Attr {
		a := &e.Attr[i]
		if dom.IsNamespaceDecl(*a) || !w.set.Contains(dom.AttrOf(e, a)) {
			continue
		}
		uri := ""
		if a.Space != "" {
			uri, _ = scope.Lookup(a.Space)
		}
		out = append(out, attr{qname: a.FullKey(), uri: uri, local: a.Key, value: a.Value})
		if a.Space == "xml" {
			seen[a.Key] = true
		}
	}
	if w.exclusive {
		return out
	}
	// xml:* attributes of omitted ancestors are inherited by an element whose
	// parent is not in the node-set.
	for p := e.Parent(); p != nil && !dom.IsDocument(p) && !w.set.ContainsElement(p); p = p.Parent() {
		for _, a := range p.Attr {
			if a.Space != "xml" || seen[a.Key] {
				continue
			}
			seen[a.Key] = true
			out = append(out, attr{qname: a.FullKey(), uri: algo.NamespaceXML, local: a.Key, value: a.Value})
		}
	}
	return out
}

// checkPrefixes fails on element or attribute prefixes with no declaration in scope.
func checkPrefixes(e *etree.Element, scope dom.Scope, set *dom.NodeSet) error {
	if e.Space != "" {
		if _, ok := scope.Lookup(e.Space); !ok {
			return errs.Structural("c14n", "element <%s> uses undeclared namespace prefix %q", e.FullTag(), e.Space)
		}
	}
	for i := range e.Attr {
		a := &e.Attr[i]
		if a.Space == "" || dom.IsNamespaceDecl(*a) || !set.Contains(dom.AttrOf(e, a)) {
			continue
		}
		if _, ok := scope.Lookup(a.Space); !ok {
			return errs.Structural("c14n", "attribute %s on <%s> uses undeclared namespace prefix %q", a.FullKey(), e.FullTag(), a.Space)
		}
	}
	return nil
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;", "\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
