package dom

import (
	"strings"

	"github.com/beevik/etree"
)

const (
	xmlNamespace = "http://www.w3.org/XML/1998/namespace"
)

// Scope maps namespace prefixes to URIs. The empty prefix is the default
// namespace; an undeclared default is simply absent.
type Scope map[string]string

// InScope returns the namespaces in scope at e, collected from the root down.
func InScope(e *etree.Element) Scope {
	var chain []*etree.Element
	for p := e; p != nil; p = p.Parent() {
		chain = append(chain, p)
	}
	s := Scope{}
	for i := len(chain) - 1; i >= 0; i-- {
		s = s.With(chain[i])
	}
	return s
}

// With returns s extended by the declarations on e. s itself is not modified;
// when e declares nothing s is returned as is.
func (s Scope) With(e *etree.Element) Scope {
	declares := false
	for _, a := range e.Attr {
		if IsNamespaceDecl(a) {
			declares = true
			break
		}
	}
	if !declares {
		return s
	}
	out := make(Scope, len(s)+2)
	for k, v := range s {
		out[k] = v
	}
	for _, a := range e.Attr {
		switch {
		case a.Space == "xmlns":
			if a.Value == "" {
				delete(out, a.Key)
			} else {
				out[a.Key] = a.Value
			}
		case a.Space == "" && a.Key == "xmlns":
			if a.Value == "" {
				delete(out, "")
			} else {
				out[""] = a.Value
			}
		}
	}
	return out
}

// Lookup resolves prefix. The xml prefix is always bound.
func (s Scope) Lookup(prefix string) (string, bool) {
	if prefix == "xml" {
		return xmlNamespace, true
	}
	uri, ok := s[prefix]
	return uri, ok
}

// Prefixes holds the namespace prefixes used when the engines create elements.
// An empty prefix puts the vocabulary in the default namespace.
type Prefixes struct {
	DSig string `yaml:"dsig" toml:"dsig"`
	XEnc string `yaml:"xenc" toml:"xenc"`
	EC   string `yaml:"ec" toml:"ec"`
	XPF  string `yaml:"xpf" toml:"xpf"`
}

// DefaultPrefixes are the conventional prefixes.
var DefaultPrefixes = Prefixes{DSig: "ds", XEnc: "xenc", EC: "ec", XPF: "xpf"}

// QName joins prefix and local name.
func QName(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// Declare adds a namespace declaration for prefix on e.
func Declare(e *etree.Element, prefix, uri string) {
	if prefix == "" {
		e.CreateAttr("xmlns", uri)
		return
	}
	e.CreateAttr("xmlns:"+prefix, uri)
}

// EnsureDeclared declares prefix on e unless it is already bound to uri at e.
func EnsureDeclared(e *etree.Element, prefix, uri string) {
	if got, ok := InScope(e).Lookup(prefix); ok && got == uri {
		return
	}
	Declare(e, prefix, uri)
}

// NewElement creates prefix:local under parent, or detached when parent is
// nil, and makes sure prefix is bound to ns.
func NewElement(parent *etree.Element, prefix, local, ns string) *etree.Element {
	var e *etree.Element
	if parent == nil {
		e = etree.NewElement(QName(prefix, local))
	} else {
		e = NewChild(parent, prefix, local)
	}
	EnsureDeclared(e, prefix, ns)
	return e
}

// NamespaceOf returns the namespace URI of e's name.
func NamespaceOf(e *etree.Element) string {
	return e.NamespaceURI()
}

// Is reports whether e has the given namespace and local name.
func Is(e *etree.Element, ns, local string) bool {
	return e != nil && e.Tag == local && e.NamespaceURI() == ns
}

// ChildrenNS returns the child elements of e with the given name.
func ChildrenNS(e *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if Is(c, ns, local) {
			out = append(out, c)
		}
	}
	return out
}

// FirstChildNS returns the first child element of e with the given name.
func FirstChildNS(e *etree.Element, ns, local string) *etree.Element {
	for _, c := range e.ChildElements() {
		if Is(c, ns, local) {
			return c
		}
	}
	return nil
}

// FindNS returns the first element at or below e, in document order, with the
// given name.
func FindNS(e *etree.Element, ns, local string) *etree.Element {
	if !IsDocument(e) && Is(e, ns, local) {
		return e
	}
	for _, c := range e.ChildElements() {
		if found := FindNS(c, ns, local); found != nil {
			return found
		}
	}
	return nil
}

// Text returns the concatenated character data directly below e.
func Text(e *etree.Element) string {
	var b strings.Builder
	for _, tok := range e.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return b.String()
}

// TrimmedText is Text with surrounding whitespace removed.
func TrimmedText(e *etree.Element) string {
	return strings.TrimSpace(Text(e))
}

// StringValue is the XPath string-value of e: all descendant character data.
func StringValue(e *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				if !IsDocument(e) {
					b.WriteString(t.Data)
				}
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(e)
	return b.String()
}

// NewChild creates an element named prefix:local and appends it to parent.
func NewChild(parent *etree.Element, prefix, local string) *etree.Element {
	return parent.CreateElement(QName(prefix, local))
}

// ClearChildren removes every child token of e.
func ClearChildren(e *etree.Element) {
	for len(e.Child) > 0 {
		e.RemoveChildAt(len(e.Child) - 1)
	}
}

// CloneToken copies tok without attaching it anywhere.
func CloneToken(tok etree.Token) etree.Token {
	switch t := tok.(type) {
	case *etree.Element:
		return t.Copy()
	case *etree.CharData:
		if t.IsCData() {
			return etree.NewCData(t.Data)
		}
		return etree.NewText(t.Data)
	case *etree.Comment:
		return etree.NewComment(t.Data)
	case *etree.ProcInst:
		return etree.NewProcInst(t.Target, t.Inst)
	case *etree.Directive:
		return etree.NewDirective(t.Data)
	}
	return nil
}
