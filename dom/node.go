// Package dom adapts an etree document to the XPath data model used by the
// canonicalizer and the transforms: node identity, node-sets in document order,
// namespace scopes and ID lookup.
package dom

import (
	"github.com/beevik/etree"
)

// Kind is the type of a Node.
type Kind int

const (
	DocumentNode Kind = iota + 1
	ElementNode
	AttributeNode
	TextNode
	CommentNode
	ProcInstNode
)

func (k Kind) String() string {
	switch k {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case AttributeNode:
		return "attribute"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case ProcInstNode:
		return "processing-instruction"
	}
	return "unknown"
}

// Node identifies one node of an etree tree. Node values are comparable and
// serve as node-set keys.
//
// Elem is the element itself for element nodes, the owner for attributes, the
// parent for text, comment and processing-instruction tokens and the
// document's pseudo element for the document node.
type Node struct {
	Kind Kind
	Elem *etree.Element
	Tok  etree.Token
	Attr string
}

// ElementOf returns the node for e, or the document node when e is a document's
// pseudo element.
func ElementOf(e *etree.Element) Node {
	if IsDocument(e) {
		return Node{Kind: DocumentNode, Elem: e}
	}
	return Node{Kind: ElementNode, Elem: e}
}

// AttrOf returns the node for the attribute a of e.
func AttrOf(e *etree.Element, a *etree.Attr) Node {
	return Node{Kind: AttributeNode, Elem: e, Attr: a.FullKey()}
}

// TokenOf returns the node for a child token of parent. ok is false for tokens
// that have no place in the data model (directives, the XML declaration).
func TokenOf(parent *etree.Element, tok etree.Token) (Node, bool) {
	switch t := tok.(type) {
	case *etree.Element:
		return Node{Kind: ElementNode, Elem: t}, true
	case *etree.CharData:
		if IsDocument(parent) {
			return Node{}, false
		}
		return Node{Kind: TextNode, Elem: parent, Tok: t}, true
	case *etree.Comment:
		return Node{Kind: CommentNode, Elem: parent, Tok: t}, true
	case *etree.ProcInst:
		if t.Target == "xml" {
			return Node{}, false
		}
		return Node{Kind: ProcInstNode, Elem: parent, Tok: t}, true
	}
	return Node{}, false
}

// Attribute returns the attribute a node refers to, nil for other kinds or when
// the attribute has been removed.
func (n Node) Attribute() *etree.Attr {
	if n.Kind != AttributeNode {
		return nil
	}
	return n.Elem.SelectAttr(n.Attr)
}

// IsDocument reports whether e is the pseudo element etree uses for a document.
func IsDocument(e *etree.Element) bool {
	return e != nil && e.Tag == "" && e.Space == "" && e.Parent() == nil
}

// Root returns the topmost ancestor of e: the document pseudo element when e is
// part of a document.
func Root(e *etree.Element) *etree.Element {
	for e.Parent() != nil {
		e = e.Parent()
	}
	return e
}

// IsNamespaceDecl reports whether a is an xmlns or xmlns:p declaration.
func IsNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// Walk visits every node below and including e in document order: an element,
// then its attributes, then its children. Namespace declarations are not
// visited; they travel with their element.
func Walk(e *etree.Element, fn func(Node)) {
	fn(ElementOf(e))
	if !IsDocument(e) {
		for i := range e.Attr {
			if !IsNamespaceDecl(e.Attr[i]) {
				fn(AttrOf(e, &e.Attr[i]))
			}
		}
	}
	for _, tok := range e.Child {
		if child, ok := tok.(*etree.Element); ok {
			Walk(child, fn)
			continue
		}
		if n, ok := TokenOf(e, tok); ok {
			fn(n)
		}
	}
}
