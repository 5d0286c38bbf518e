package dom

import (
	"github.com/antchfx/xpath"
	"github.com/beevik/etree"
)

// navigator walks an etree document for github.com/antchfx/xpath. Processing
// instructions, directives and namespace declarations are invisible to it.
type navigator struct {
	root *etree.Element
	elem *etree.Element // current element, or the parent of tok
	tok  etree.Token    // current text or comment, nil on an element
	attr int            // index into elem.Attr when on an attribute, else -1
}

var _ xpath.NodeNavigator = (*navigator)(nil)

// newNavigator returns a navigator positioned on n.
func newNavigator(n Node) *navigator {
	nav := &navigator{root: Root(n.Elem), elem: n.Elem, attr: -1}
	switch n.Kind {
	case AttributeNode:
		for i, a := range n.Elem.Attr {
			if a.FullKey() == n.Attr {
				nav.attr = i
				break
			}
		}
	case TextNode, CommentNode:
		nav.tok = n.Tok
	}
	return nav
}

// node converts the current position back into a Node.
func (n *navigator) node() Node {
	switch {
	case n.attr >= 0:
		return AttrOf(n.elem, &n.elem.Attr[n.attr])
	case n.tok != nil:
		nd, _ := TokenOf(n.elem, n.tok)
		return nd
	}
	return ElementOf(n.elem)
}

func (n *navigator) NodeType() xpath.NodeType {
	switch {
	case n.attr >= 0:
		return xpath.AttributeNode
	case n.tok != nil:
		if _, ok := n.tok.(*etree.Comment); ok {
			return xpath.CommentNode
		}
		return xpath.TextNode
	case IsDocument(n.elem):
		return xpath.RootNode
	}
	return xpath.ElementNode
}

func (n *navigator) LocalName() string {
	switch {
	case n.attr >= 0:
		return n.elem.Attr[n.attr].Key
	case n.tok != nil:
		return ""
	}
	return n.elem.Tag
}

func (n *navigator) Prefix() string {
	switch {
	case n.attr >= 0:
		return n.elem.Attr[n.attr].Space
	case n.tok != nil:
		return ""
	}
	return n.elem.Space
}

// NamespaceURL lets prefixed name tests compiled with CompileWithNS match on
// namespace URI rather than on the literal prefix.
func (n *navigator) NamespaceURL() string {
	switch {
	case n.attr >= 0:
		a := n.elem.Attr[n.attr]
		if a.Space == "" {
			return ""
		}
		uri, _ := InScope(n.elem).Lookup(a.Space)
		return uri
	case n.tok != nil:
		return ""
	}
	return n.elem.NamespaceURI()
}

func (n *navigator) Value() string {
	switch {
	case n.attr >= 0:
		return n.elem.Attr[n.attr].Value
	case n.tok != nil:
		switch t := n.tok.(type) {
		case *etree.CharData:
			return t.Data
		case *etree.Comment:
			return t.Data
		}
		return ""
	}
	return StringValue(n.elem)
}

func (n *navigator) Copy() xpath.NodeNavigator {
	c := *n
	return &c
}

func (n *navigator) MoveToRoot() {
	n.elem, n.tok, n.attr = n.root, nil, -1
}

func (n *navigator) MoveToParent() bool {
	switch {
	case n.attr >= 0:
		n.attr = -1
		return true
	case n.tok != nil:
		n.tok = nil
		return true
	case n.elem == n.root:
		return false
	}
	p := n.elem.Parent()
	if p == nil {
		return false
	}
	n.elem = p
	return true
}

func (n *navigator) MoveToNextAttribute() bool {
	if n.tok != nil || IsDocument(n.elem) {
		return false
	}
	for i := n.attr + 1; i < len(n.elem.Attr); i++ {
		if !IsNamespaceDecl(n.elem.Attr[i]) {
			n.attr = i
			return true
		}
	}
	return false
}

func (n *navigator) MoveToChild() bool {
	if n.attr >= 0 || n.tok != nil {
		return false
	}
	for _, c := range n.elem.Child {
		if visible(n.elem, c) {
			n.moveTo(n.elem, c)
			return true
		}
	}
	return false
}

func (n *navigator) MoveToFirst() bool {
	p, _, ok := n.siblings()
	if !ok {
		return false
	}
	for _, c := range p.Child {
		if visible(p, c) {
			n.moveTo(p, c)
			return true
		}
	}
	return false
}

func (n *navigator) MoveToNext() bool {
	p, i, ok := n.siblings()
	if !ok {
		return false
	}
	for j := i + 1; j < len(p.Child); j++ {
		if visible(p, p.Child[j]) {
			n.moveTo(p, p.Child[j])
			return true
		}
	}
	return false
}

func (n *navigator) MoveToPrevious() bool {
	p, i, ok := n.siblings()
	if !ok {
		return false
	}
	for j := i - 1; j >= 0; j-- {
		if visible(p, p.Child[j]) {
			n.moveTo(p, p.Child[j])
			return true
		}
	}
	return false
}

func (n *navigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*navigator)
	if !ok || o.root != n.root {
		return false
	}
	*n = *o
	return true
}

// siblings returns the parent of the current node and its index there.
func (n *navigator) siblings() (*etree.Element, int, bool) {
	switch {
	case n.attr >= 0:
		return nil, 0, false
	case n.tok != nil:
		return n.elem, n.tok.Index(), true
	case n.elem == n.root:
		return nil, 0, false
	}
	p := n.elem.Parent()
	if p == nil {
		return nil, 0, false
	}
	return p, n.elem.Index(), true
}

func (n *navigator) moveTo(parent *etree.Element, tok etree.Token) {
	n.attr = -1
	if e, ok := tok.(*etree.Element); ok {
		n.elem, n.tok = e, nil
		return
	}
	n.elem, n.tok = parent, tok
}

func visible(parent *etree.Element, tok etree.Token) bool {
	switch tok.(type) {
	case *etree.Element, *etree.Comment:
		return true
	case *etree.CharData:
		return !IsDocument(parent)
	}
	return false
}
