// Package transforms implements the XMLDSig transform chain: canonicalization,
// XPath filtering, XPath Filter 2.0, enveloped-signature removal and base64
// decoding over node-sets and octet streams.
package transforms

import (
	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/dom"
)

// Kind is the representation of the data passed between transforms.
type Kind int

const (
	NodeSet Kind = iota + 1
	Octets
)

func (k Kind) String() string {
	switch k {
	case NodeSet:
		return "node-set"
	case Octets:
		return "octets"
	}
	return "unknown"
}

// Data is the value flowing through a chain: either a node-set or octets.
type Data struct {
	kind   Kind
	nodes  *dom.NodeSet
	octets []byte
}

func NodeSetData(s *dom.NodeSet) Data { return Data{kind: NodeSet, nodes: s} }

func OctetData(b []byte) Data { return Data{kind: Octets, octets: b} }

func (d Data) Kind() Kind { return d.kind }

// Nodes returns the node-set, nil for octet data.
func (d Data) Nodes() *dom.NodeSet { return d.nodes }

// Octets returns the octets, nil for node-set data.
func (d Data) Octets() []byte { return d.octets }

// Context carries what a transform may need beyond its input.
type Context struct {
	// Signature is the ds:Signature element enclosing the reference being
	// processed; the enveloped-signature transform removes it.
	Signature *etree.Element
	Logger    *zap.Logger
}

func (c *Context) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
