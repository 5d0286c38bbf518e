package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/xpath"
	"github.com/beevik/etree"
)

// XPath is a compiled XPath 1.0 expression bound to a set of namespace
// prefixes and, optionally, to the element here() refers to.
type XPath struct {
	src  string
	expr *xpath.Expr
	test operand
}

// CompileXPath compiles src. Calls to here() are replaced by an absolute path
// to the element here, which must belong to a document.
func CompileXPath(src string, namespaces map[string]string, here *etree.Element) (*XPath, error) {
	expanded := src
	if strings.Contains(src, "here()") {
		if here == nil {
			return nil, fmt.Errorf("here() used outside of a transform")
		}
		path, err := AbsolutePath(here)
		if err != nil {
			return nil, err
		}
		expanded = replaceOutsideLiterals(src, "here()", "("+path+")")
	}
	expr, err := compileExpr(expanded, namespaces)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}
	test, err := compileOperands(expanded, namespaces)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}
	return &XPath{src: src, expr: expr, test: test}, nil
}

func (x *XPath) String() string { return x.src }

// Bool evaluates the expression with n as context node and converts the
// result with the XPath boolean() rules.
func (x *XPath) Bool(n Node) bool {
	return x.test.truth(n)
}

// Select evaluates the expression with n as context node. The expression must
// produce a node-set.
func (x *XPath) Select(n Node) ([]Node, error) {
	it, ok := x.expr.Evaluate(newNavigator(n)).(*xpath.NodeIterator)
	if !ok {
		return nil, fmt.Errorf("expression %q does not select a node-set", x.src)
	}
	var out []Node
	for it.MoveNext() {
		nav, ok := it.Current().(*navigator)
		if !ok {
			continue
		}
		out = append(out, nav.node())
	}
	return out, nil
}

// AbsolutePath returns a positional path such as /*[1]/*[3] that selects e.
func AbsolutePath(e *etree.Element) (string, error) {
	var steps []string
	for cur := e; !IsDocument(cur); cur = cur.Parent() {
		p := cur.Parent()
		if p == nil {
			return "", fmt.Errorf("element <%s> is not part of a document", e.FullTag())
		}
		pos := 0
		for _, c := range p.ChildElements() {
			pos++
			if c == cur {
				break
			}
		}
		steps = append(steps, fmt.Sprintf("*[%d]", pos))
	}
	if len(steps) == 0 {
		return "/", nil
	}
	var b strings.Builder
	for i := len(steps) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(steps[i])
	}
	return b.String(), nil
}

// replaceOutsideLiterals replaces old with repl except inside quoted strings.
func replaceOutsideLiterals(s, old, repl string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case strings.HasPrefix(s[i:], old):
			b.WriteString(repl)
			i += len(old)
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}
