package transforms

import (
	"fmt"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
)

// Chain is an ordered list of transforms over input of a fixed kind. Kinds are
// checked whenever a transform is appended, so a chain that exists is one that
// can run.
type Chain struct {
	input      Kind
	transforms []Transform
}

// NewChain returns a chain for input of kind input holding ts.
func NewChain(input Kind, ts ...Transform) (*Chain, error) {
	c := &Chain{input: input}
	for _, t := range ts {
		if err := c.Append(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Input is the kind the chain expects.
func (c *Chain) Input() Kind { return c.input }

// Output is the kind the chain produces.
func (c *Chain) Output() Kind {
	k := c.input
	for _, t := range c.transforms {
		k = t.Output(k)
	}
	return k
}

// Append adds t, failing when t cannot take the output of the current last stage.
func (c *Chain) Append(t Transform) error {
	k := c.Output()
	if !t.Accepts(k) {
		return errs.Structural("transform", "transform %d (%s) cannot take %s input", len(c.transforms)+1, t.Algorithm(), k)
	}
	c.transforms = append(c.transforms, t)
	return nil
}

func (c *Chain) Transforms() []Transform { return c.transforms }

func (c *Chain) Len() int { return len(c.transforms) }

// Apply runs every transform in order. The first failure aborts the chain.
func (c *Chain) Apply(ctx *Context, in Data) (Data, error) {
	if in.kind != c.input {
		return Data{}, errs.Structural("transform", "chain expects %s input, got %s", c.input, in.kind)
	}
	cur := in
	for i, t := range c.transforms {
		out, err := t.Apply(ctx, cur)
		if err != nil {
			return Data{}, errs.WithContext(err, fmt.Sprintf("transform %d (%s)", i+1, t.Algorithm()))
		}
		ctx.logger().Debug("transform applied", zap.Int("index", i+1),
			zap.String("algorithm", t.Algorithm()), zap.Stringer("output", out.kind))
		cur = out
	}
	return cur, nil
}

// Marshal appends a Transform element for each transform to container, which
// is a ds:Transforms or xenc:Transforms element.
func (c *Chain) Marshal(container *etree.Element, p dom.Prefixes) {
	for _, t := range c.transforms {
		Marshal(container, t, p)
	}
}

// ParseChain reads the ds:Transform children of container. container may be
// nil for a reference without transforms.
func ParseChain(input Kind, container *etree.Element) (*Chain, error) {
	c := &Chain{input: input}
	if container == nil {
		return c, nil
	}
	for _, el := range dom.ChildrenNS(container, algo.NamespaceDSig, "Transform") {
		t, err := Parse(el)
		if err != nil {
			return nil, err
		}
		if err := c.Append(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}
