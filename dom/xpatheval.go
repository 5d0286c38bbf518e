package dom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/antchfx/xpath"
)

// operand is one piece of a boolean XPath expression. Comparisons and the
// boolean connectives are evaluated here so that every operand starts from a
// fresh navigator: antchfx/xpath moves the shared context navigator while it
// filters a predicate and leaves it there, which would shift the context of
// every operand to the right of one containing a predicate.
type operand interface {
	value(n Node) interface{}
	truth(n Node) bool
}

// nodeValues is an evaluated node-set, reduced to the string-values that the
// comparison rules need.
type nodeValues []string

type leafOperand struct{ expr *xpath.Expr }

func (l *leafOperand) value(n Node) interface{} {
	v := l.expr.Evaluate(newNavigator(n))
	it, ok := v.(*xpath.NodeIterator)
	if !ok {
		return v
	}
	set := nodeValues{}
	for it.MoveNext() {
		set = append(set, it.Current().Value())
	}
	return set
}

func (l *leafOperand) truth(n Node) bool {
	if it, ok := l.expr.Evaluate(newNavigator(n)).(*xpath.NodeIterator); ok {
		return it.MoveNext()
	}
	return toBoolean(l.value(n))
}

type notOperand struct{ inner operand }

func (o *notOperand) value(n Node) interface{} { return o.truth(n) }
func (o *notOperand) truth(n Node) bool        { return !o.inner.truth(n) }

type binaryOperand struct {
	op          string
	left, right operand
}

func (b *binaryOperand) value(n Node) interface{} { return b.truth(n) }

func (b *binaryOperand) truth(n Node) bool {
	switch b.op {
	case "or":
		return b.left.truth(n) || b.right.truth(n)
	case "and":
		return b.left.truth(n) && b.right.truth(n)
	}
	return compareValues(b.op, b.left.value(n), b.right.value(n))
}

// compileOperands splits src at its outermost or, and, equality and
// relational operators and compiles what remains with antchfx/xpath.
func compileOperands(src string, namespaces map[string]string) (operand, error) {
	s := strings.TrimSpace(src)
	if op, left, right, ok := splitOperator(s); ok {
		l, err := compileOperands(left, namespaces)
		if err != nil {
			return nil, err
		}
		r, err := compileOperands(right, namespaces)
		if err != nil {
			return nil, err
		}
		return &binaryOperand{op: op, left: l, right: r}, nil
	}
	if enclosed(s, 0) {
		return compileOperands(s[1:len(s)-1], namespaces)
	}
	if rest := strings.TrimSpace(strings.TrimPrefix(s, "not")); rest != s && strings.HasPrefix(rest, "(") {
		if offset := len(s) - len(rest); enclosed(s, offset) {
			inner, err := compileOperands(s[offset+1:len(s)-1], namespaces)
			if err != nil {
				return nil, err
			}
			return &notOperand{inner: inner}, nil
		}
	}
	expr, err := compileExpr(s, namespaces)
	if err != nil {
		return nil, err
	}
	return &leafOperand{expr: expr}, nil
}

func compileExpr(s string, namespaces map[string]string) (expr *xpath.Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			expr, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return xpath.CompileWithNS(s, namespaces)
}

// enclosed reports whether the parenthesis at s[open] is closed by the last
// byte of s.
func enclosed(s string, open int) bool {
	if open >= len(s) || s[open] != '(' || !strings.HasSuffix(s, ")") {
		return false
	}
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i == len(s)-1
			}
		}
	}
	return false
}

type operatorAt struct {
	pos, width int
	op         string
}

// operator precedence, lowest first
var operatorLevels = [][]string{
	{"or"},
	{"and"},
	{"=", "!="},
	{"<", "<=", ">", ">="},
}

// splitOperator finds the rightmost operator of the lowest precedence level
// outside of literals, parentheses and predicates.
func splitOperator(s string) (op, left, right string, ok bool) {
	var found []operatorAt
	depth := 0
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
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case depth != 0:
		case c == '!' && i+1 < len(s) && s[i+1] == '=':
			found = append(found, operatorAt{i, 2, "!="})
			i += 2
			continue
		case c == '=':
			found = append(found, operatorAt{i, 1, "="})
		case c == '<' || c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				found = append(found, operatorAt{i, 2, s[i : i+2]})
				i += 2
				continue
			}
			found = append(found, operatorAt{i, 1, s[i : i+1]})
		case isNameStart(c):
			j := i
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			if name := s[i:j]; (name == "and" || name == "or") && followsOperand(s[:i]) {
				found = append(found, operatorAt{i, j - i, name})
			}
			i = j
			continue
		}
		i++
	}
	for _, level := range operatorLevels {
		for k := len(found) - 1; k >= 0; k-- {
			f := found[k]
			for _, candidate := range level {
				if f.op == candidate {
					return f.op, s[:f.pos], s[f.pos+f.width:], true
				}
			}
		}
	}
	return "", "", "", false
}

// followsOperand reports whether a name after prefix is in operator position.
func followsOperand(prefix string) bool {
	p := strings.TrimRight(prefix, " \t\r\n")
	if p == "" {
		return false
	}
	return !strings.ContainsRune("@:([,/|+-=<>!*", rune(p[len(p)-1]))
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9' || c == '-' || c == '.' || c == ':'
}

// compareValues applies the XPath 1.0 comparison rules.
func compareValues(op string, a, b interface{}) bool {
	as, aSet := a.(nodeValues)
	bs, bSet := b.(nodeValues)
	switch {
	case aSet && bSet:
		for _, x := range as {
			for _, y := range bs {
				if compareAtoms(op, x, y) {
					return true
				}
			}
		}
		return false
	case aSet:
		if v, ok := b.(bool); ok {
			return compareAtoms(op, len(as) > 0, v)
		}
		for _, x := range as {
			if compareAtoms(op, x, b) {
				return true
			}
		}
		return false
	case bSet:
		if v, ok := a.(bool); ok {
			return compareAtoms(op, v, len(bs) > 0)
		}
		for _, y := range bs {
			if compareAtoms(op, a, y) {
				return true
			}
		}
		return false
	}
	return compareAtoms(op, a, b)
}

func compareAtoms(op string, a, b interface{}) bool {
	if op == "=" || op == "!=" {
		var eq bool
		_, aBool := a.(bool)
		_, bBool := b.(bool)
		_, aNum := a.(float64)
		_, bNum := b.(float64)
		switch {
		case aBool || bBool:
			eq = toBoolean(a) == toBoolean(b)
		case aNum || bNum:
			eq = toNumber(a) == toNumber(b)
		default:
			eq = fmt.Sprint(a) == fmt.Sprint(b)
		}
		return eq == (op == "=")
	}
	x, y := toNumber(a), toNumber(b)
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	case ">=":
		return x >= y
	}
	return false
}

func toBoolean(v interface{}) bool {
	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	case nodeValues:
		return len(v) > 0
	}
	return false
}

func toNumber(v interface{}) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}
