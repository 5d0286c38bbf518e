package xmlsec

import (
	"github.com/beevik/etree"
)

// Object is a ds:Object of a signature. Content added to it can be signed by
// a same-document reference to its Id.
type Object struct {
	sig *Signature
	el  *etree.Element
}

func (o *Object) Element() *etree.Element { return o.el }

func (o *Object) ID() string { return o.el.SelectAttrValue("Id", "") }

// SetID sets the Id attribute and makes the object resolvable by it.
func (o *Object) SetID(id string) {
	o.el.CreateAttr("Id", id)
	o.sig.ids.Register(id, o.el)
}

func (o *Object) MimeType() string { return o.el.SelectAttrValue("MimeType", "") }

func (o *Object) SetMimeType(mimeType string) { o.el.CreateAttr("MimeType", mimeType) }

func (o *Object) Encoding() string { return o.el.SelectAttrValue("Encoding", "") }

func (o *Object) SetEncoding(encoding string) { o.el.CreateAttr("Encoding", encoding) }

// AppendText adds a text node to the object.
func (o *Object) AppendText(text string) *etree.CharData {
	return o.el.CreateText(text)
}

// AppendChild moves child, with its subtree, to the end of the object.
func (o *Object) AppendChild(child *etree.Element) {
	o.el.AddChild(child)
}
