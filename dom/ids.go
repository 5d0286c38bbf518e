package dom

import "github.com/beevik/etree"

// IDTable records identifiers declared by the engines themselves, the
// equivalent of a DOM's declared ID attributes.
type IDTable struct {
	ids map[string]*etree.Element
}

func NewIDTable() *IDTable {
	return &IDTable{ids: make(map[string]*etree.Element)}
}

// Register declares id as identifying e, replacing an earlier registration.
func (t *IDTable) Register(id string, e *etree.Element) {
	t.ids[id] = e
}

// Lookup returns the element registered for id, or nil.
func (t *IDTable) Lookup(id string) *etree.Element {
	if t == nil {
		return nil
	}
	return t.ids[id]
}
