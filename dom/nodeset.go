package dom

import "github.com/beevik/etree"

// NodeSet is an unordered set of nodes from one tree. Nodes returns them in
// document order.
type NodeSet struct {
	root  *etree.Element
	nodes map[Node]struct{}
}

// NewNodeSet returns an empty set over the tree rooted at root.
func NewNodeSet(root *etree.Element) *NodeSet {
	return &NodeSet{root: Root(root), nodes: make(map[Node]struct{})}
}

// Subtree returns the set holding e and everything below it. Comments are
// included only when comments is true.
func Subtree(e *etree.Element, comments bool) *NodeSet {
	s := NewNodeSet(e)
	s.AddSubtree(e, comments)
	return s
}

// Root is the topmost element of the tree the set draws from.
func (s *NodeSet) Root() *etree.Element { return s.root }

func (s *NodeSet) Len() int { return len(s.nodes) }

func (s *NodeSet) Add(n Node) { s.nodes[n] = struct{}{} }

func (s *NodeSet) Remove(n Node) { delete(s.nodes, n) }

func (s *NodeSet) Contains(n Node) bool {
	_, ok := s.nodes[n]
	return ok
}

// ContainsElement reports whether the element (or document) e is in the set.
func (s *NodeSet) ContainsElement(e *etree.Element) bool {
	return s.Contains(ElementOf(e))
}

// AddSubtree adds e with its attributes and descendants.
func (s *NodeSet) AddSubtree(e *etree.Element, comments bool) {
	Walk(e, func(n Node) {
		if n.Kind == CommentNode && !comments {
			return
		}
		s.Add(n)
	})
}

// AddNodeSubtree adds n and, for elements and the document, everything below it.
func (s *NodeSet) AddNodeSubtree(n Node, comments bool) {
	switch n.Kind {
	case ElementNode, DocumentNode:
		s.AddSubtree(n.Elem, comments)
	default:
		s.Add(n)
	}
}

// RemoveSubtree removes e with its attributes and descendants.
func (s *NodeSet) RemoveSubtree(e *etree.Element) {
	Walk(e, s.Remove)
}

func (s *NodeSet) Clone() *NodeSet {
	c := &NodeSet{root: s.root, nodes: make(map[Node]struct{}, len(s.nodes))}
	for n := range s.nodes {
		c.nodes[n] = struct{}{}
	}
	return c
}

// Intersect returns the nodes present in both sets.
func (s *NodeSet) Intersect(o *NodeSet) *NodeSet {
	out := &NodeSet{root: s.root, nodes: make(map[Node]struct{})}
	for n := range s.nodes {
		if o.Contains(n) {
			out.nodes[n] = struct{}{}
		}
	}
	return out
}

// Union returns the nodes present in either set.
func (s *NodeSet) Union(o *NodeSet) *NodeSet {
	out := s.Clone()
	for n := range o.nodes {
		out.nodes[n] = struct{}{}
	}
	return out
}

// Subtract returns the nodes of s not present in o.
func (s *NodeSet) Subtract(o *NodeSet) *NodeSet {
	out := &NodeSet{root: s.root, nodes: make(map[Node]struct{})}
	for n := range s.nodes {
		if !o.Contains(n) {
			out.nodes[n] = struct{}{}
		}
	}
	return out
}

// Filter returns the nodes of s for which keep returns true.
func (s *NodeSet) Filter(keep func(Node) bool) *NodeSet {
	out := &NodeSet{root: s.root, nodes: make(map[Node]struct{})}
	for n := range s.nodes {
		if keep(n) {
			out.nodes[n] = struct{}{}
		}
	}
	return out
}

// Nodes returns the members in document order.
func (s *NodeSet) Nodes() []Node {
	out := make([]Node, 0, len(s.nodes))
	Walk(s.root, func(n Node) {
		if s.Contains(n) {
			out = append(out, n)
		}
	})
	return out
}
