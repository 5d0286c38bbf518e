// Package reference resolves XMLDSig URI references and computes and checks
// their digests.
package reference

import (
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/transforms"
)

// IDPolicy controls how "#id" references find their element. Identifiers
// declared through the engines (and xml:id) are always honoured first; the
// attribute scan runs only when ByAttributeName is set.
type IDPolicy struct {
	ByAttributeName bool     `yaml:"byAttributeName" toml:"byAttributeName"`
	AttributeNames  []string `yaml:"attributeNames" toml:"attributeNames"`
}

// DefaultIDPolicy scans Id, ID and id attributes.
func DefaultIDPolicy() IDPolicy {
	return IDPolicy{ByAttributeName: true, AttributeNames: []string{"Id", "ID", "id"}}
}

// ExternalResolver fetches the octets of a reference outside the document.
type ExternalResolver interface {
	Resolve(uri string) ([]byte, error)
}

// ExternalResolverFunc adapts a function to ExternalResolver.
type ExternalResolverFunc func(uri string) ([]byte, error)

func (f ExternalResolverFunc) Resolve(uri string) ([]byte, error) { return f(uri) }

// Resolver turns a reference URI into the data the transform chain starts
// from.
type Resolver struct {
	// Root is any element of the document; the whole tree is searched.
	Root     *etree.Element
	IDs      *dom.IDTable
	Policy   IDPolicy
	External ExternalResolver
	Logger   *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// IsSameDocument reports whether uri points into the document holding the
// reference.
func IsSameDocument(uri string) bool {
	return uri == "" || strings.HasPrefix(uri, "#")
}

// Resolve returns the node-set or octets uri refers to.
//
//	""                     the document without comments
//	#xpointer(/)           the document with comments
//	#xpointer(id('X'))     element X with comments
//	#X                     element X without comments
//
// Other URIs are handed to the external resolver.
func (r *Resolver) Resolve(uri string) (transforms.Data, error) {
	if !IsSameDocument(uri) {
		if r.External == nil {
			return transforms.Data{}, errs.Structural("resolve", "no resolver for external reference %q", uri)
		}
		b, err := r.External.Resolve(uri)
		if err != nil {
			return transforms.Data{}, errs.WrapStructural("resolve", err)
		}
		r.logger().Debug("resolved external reference", zap.String("uri", uri), zap.Int("octets", len(b)))
		return transforms.OctetData(b), nil
	}
	if r.Root == nil {
		return transforms.Data{}, errs.Structural("resolve", "no document to resolve %q in", uri)
	}
	root := dom.Root(r.Root)
	if uri == "" {
		return transforms.NodeSetData(dom.Subtree(root, false)), nil
	}

	frag := uri[1:]
	if rest, ok := strings.CutPrefix(frag, "xpointer("); ok {
		expr, ok := strings.CutSuffix(rest, ")")
		if !ok {
			return transforms.Data{}, errs.Structural("resolve", "malformed XPointer %q", uri)
		}
		if expr == "/" {
			return transforms.NodeSetData(dom.Subtree(root, true)), nil
		}
		id, ok := xpointerID(expr)
		if !ok {
			return transforms.Data{}, errs.Structural("resolve", "unsupported XPointer %q", uri)
		}
		e, err := r.FindID(id)
		if err != nil {
			return transforms.Data{}, err
		}
		return transforms.NodeSetData(subtreeIn(root, e, true)), nil
	}

	if !validID(frag) {
		return transforms.Data{}, errs.Structural("resolve", "malformed fragment identifier %q", uri)
	}
	e, err := r.FindID(frag)
	if err != nil {
		return transforms.Data{}, err
	}
	return transforms.NodeSetData(subtreeIn(root, e, false)), nil
}

// subtreeIn returns the subtree of e as a set over the whole document, so
// that later XPath transforms can see the rest of it.
func subtreeIn(root, e *etree.Element, comments bool) *dom.NodeSet {
	s := dom.NewNodeSet(root)
	s.AddSubtree(e, comments)
	return s
}

// xpointerID extracts X from id('X') or id("X").
func xpointerID(expr string) (string, bool) {
	inner, ok := strings.CutPrefix(expr, "id(")
	if !ok {
		return "", false
	}
	inner, ok = strings.CutSuffix(inner, ")")
	if !ok || len(inner) < 2 {
		return "", false
	}
	q := inner[0]
	if (q != '\'' && q != '"') || inner[len(inner)-1] != q {
		return "", false
	}
	id := inner[1 : len(inner)-1]
	return id, validID(id)
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, " \t\r\n()'\"#")
}

// FindID returns the element identified by id. Registered identifiers win;
// otherwise xml:id and, if enabled, the configured attribute names are
// scanned. Two elements claiming the same identifier is an error.
func (r *Resolver) FindID(id string) (*etree.Element, error) {
	if e := r.IDs.Lookup(id); e != nil {
		return e, nil
	}
	var found []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		if r.hasID(e, id) {
			found = append(found, e)
		}
		for _, c := range e.ChildElements() {
			walk(c)
		}
	}
	walk(dom.Root(r.Root))

	switch len(found) {
	case 0:
		return nil, errs.Structural("resolve", "no element with identifier %q", id)
	case 1:
		r.logger().Debug("resolved identifier", zap.String("id", id), zap.String("element", found[0].FullTag()))
		return found[0], nil
	}
	return nil, errs.Structural("resolve", "%d elements carry identifier %q", len(found), id)
}

func (r *Resolver) hasID(e *etree.Element, id string) bool {
	for _, a := range e.Attr {
		if a.Value != id || a.Space == "xmlns" {
			continue
		}
		if a.Space == "xml" && a.Key == "id" {
			return true
		}
		if !r.Policy.ByAttributeName {
			continue
		}
		for _, name := range r.Policy.AttributeNames {
			if a.Key == name {
				return true
			}
		}
	}
	return false
}
