package dom

import "github.com/beevik/etree"

// Indent inserts newline text between the children of e, and below them when
// deep is set. Elements with text content, or that already carry whitespace,
// keep their children as they are. The inserted text nodes are returned.
func Indent(e *etree.Element, deep bool) []*etree.CharData {
	if e == nil || len(e.ChildElements()) == 0 {
		return nil
	}
	var inserted []*etree.CharData
	formatted := false
	for _, tok := range e.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			if !cd.IsWhitespace() {
				return nil
			}
			formatted = true
		}
	}
	if !formatted {
		for i := len(e.Child); i >= 0; i-- {
			nl := etree.NewText("\n")
			e.InsertChildAt(i, nl)
			inserted = append(inserted, nl)
		}
	}
	if deep {
		for _, c := range e.ChildElements() {
			inserted = append(inserted, Indent(c, true)...)
		}
	}
	return inserted
}

// Unindent removes text nodes returned by Indent.
func Unindent(inserted []*etree.CharData) {
	for i := len(inserted) - 1; i >= 0; i-- {
		if p := inserted[i].Parent(); p != nil {
			p.RemoveChild(inserted[i])
		}
	}
}
