package xmlsec

import (
	"github.com/beevik/etree"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
)

// prettyPrint puts a newline around each child of the signature, and
// throughout SignedInfo and KeyInfo. Object content is left alone. It returns
// the text it inserted.
func (s *Signature) prettyPrint() []*etree.CharData {
	inserted := dom.Indent(s.el, false)
	inserted = append(inserted, dom.Indent(s.signedInfo, true)...)
	if ki := dom.FirstChildNS(s.el, algo.NamespaceDSig, "KeyInfo"); ki != nil {
		inserted = append(inserted, dom.Indent(ki, true)...)
	}
	return inserted
}
