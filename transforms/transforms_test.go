package transforms

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
)

func parse(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func canonical(t *testing.T, d Data) string {
	t.Helper()
	require.Equal(t, NodeSet, d.Kind())
	out, err := c14n.New(c14n.Inclusive).CanonicalizeNodeSet(d.Nodes())
	require.NoError(t, err)
	return string(out)
}

func wholeDocument(doc *etree.Document) Data {
	return NodeSetData(dom.Subtree(&doc.Element, false))
}

func TestChainChecksKinds(t *testing.T) {
	_, err := NewChain(Octets, NewXPath("true()"))
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err))

	_, err = NewChain(NodeSet, NewCanonicalization(c14n.Exclusive), &EnvelopedSignature{})
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err))

	c, err := NewChain(NodeSet, &EnvelopedSignature{}, &Base64{}, NewCanonicalization(c14n.Inclusive))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, Octets, c.Output())

	_, err = c.Apply(nil, OctetData([]byte("x")))
	assert.True(t, errs.IsStructural(err))
}

func TestCanonicalizationOfOctets(t *testing.T) {
	c, err := NewChain(Octets, NewCanonicalization(c14n.Inclusive))
	require.NoError(t, err)
	out, err := c.Apply(nil, OctetData([]byte(`<a  b="1"/>`)))
	require.NoError(t, err)
	assert.Equal(t, `<a b="1"></a>`, string(out.Octets()))

	_, err = c.Apply(nil, OctetData([]byte(`<a>`)))
	assert.True(t, errs.IsStructural(err))
}

func TestEnvelopedSignature(t *testing.T) {
	doc := parse(t, `<r><d/><Signature><v/></Signature></r>`)
	sig := doc.FindElement("//Signature")

	out, err := (&EnvelopedSignature{}).Apply(&Context{Signature: sig}, wholeDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, `<r><d></d></r>`, canonical(t, out))

	_, err = (&EnvelopedSignature{}).Apply(&Context{}, wholeDocument(doc))
	assert.True(t, errs.IsStructural(err))
}

func TestXPathWithHere(t *testing.T) {
	doc := parse(t, `<r xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><data>x</data><ds:Signature><ds:SignedInfo>`+
		`<ds:Reference URI=""><ds:Transforms><ds:Transform Algorithm="http://www.w3.org/TR/1999/REC-xpath-19991116">`+
		`<ds:XPath>count(ancestor-or-self::ds:Signature | here()/ancestor::ds:Signature[1]) &gt; count(ancestor-or-self::ds:Signature)</ds:XPath>`+
		`</ds:Transform></ds:Transforms></ds:Reference></ds:SignedInfo></ds:Signature></r>`)

	chain, err := ParseChain(NodeSet, doc.FindElement("//Transforms"))
	require.NoError(t, err)
	require.Equal(t, 1, chain.Len())
	_, ok := chain.Transforms()[0].(*XPath)
	require.True(t, ok)

	out, err := chain.Apply(nil, wholeDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, `<r xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><data>x</data></r>`, canonical(t, out))
}

func TestXPathNeedsDocument(t *testing.T) {
	e := etree.NewElement("r")
	_, err := NewXPath("true()").Apply(nil, NodeSetData(dom.Subtree(e, false)))
	assert.True(t, errs.IsStructural(err))
}

func TestXPathThenBase64(t *testing.T) {
	doc := parse(t, `<r><MyCipherValue Id="CipherText">YmNkZWZnaGlqa2xtbm9wcRrPXjQ1hvhDFT+EdesMAPE4F6vlT+y0HPXe0+nAGLQ8</MyCipherValue></r>`)
	chain, err := NewChain(NodeSet, NewXPath(`self::text()[parent::MyCipherValue[@Id="CipherText"]]`), &Base64{})
	require.NoError(t, err)

	out, err := chain.Apply(nil, wholeDocument(doc))
	require.NoError(t, err)
	require.Len(t, out.Octets(), 48)
	assert.Equal(t, "bcdefghijklmnopq", string(out.Octets()[:16]))
}

func TestBase64(t *testing.T) {
	out, err := (&Base64{}).Apply(nil, OctetData([]byte("SGVs\n bG8=")))
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(out.Octets()))

	_, err = DecodeBase64("not base64!")
	assert.True(t, errs.IsStructural(err))
}

func TestXPathFilter2(t *testing.T) {
	const src = `<r><a><c/></a><b/></r>`

	tests := []struct {
		name    string
		filters [][2]string
		want    string
	}{
		{name: "subtract", filters: [][2]string{{"subtract", "//a"}}, want: `<r><b></b></r>`},
		{name: "intersect", filters: [][2]string{{"intersect", "//a"}}, want: `<a><c></c></a>`},
		{name: "intersect then union", filters: [][2]string{{"intersect", "//a"}, {"union", "//b"}}, want: `<a><c></c></a><b></b>`},
		{name: "subtract everything", filters: [][2]string{{"subtract", "/"}}, want: ``},
		{name: "union only", filters: [][2]string{{"union", "//b"}}, want: `<b></b>`},
		{name: "unions", filters: [][2]string{{"union", "//c"}, {"union", "//b"}}, want: `<c></c><b></b>`},
		{name: "subtract then union", filters: [][2]string{{"subtract", "//a"}, {"union", "//c"}}, want: `<r><c></c><b></b></r>`},
		{name: "union then subtract", filters: [][2]string{{"union", "//a"}, {"subtract", "//c"}}, want: `<a></a>`},
		{name: "union then intersect", filters: [][2]string{{"union", "//a"}, {"intersect", "//c"}}, want: `<c></c>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, src)
			f := NewXPathFilter2()
			for _, step := range tt.filters {
				_, err := f.AppendFilter(FilterOp(step[0]), step[1], nil)
				require.NoError(t, err)
			}
			out, err := f.Apply(nil, wholeDocument(doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, canonical(t, out))
		})
	}

	_, err := NewXPathFilter2().AppendFilter("xor", "//a", nil)
	assert.True(t, errs.IsStructural(err))
}

func TestMarshalAndParse(t *testing.T) {
	doc := parse(t, `<ds:Transforms xmlns:ds="http://www.w3.org/2000/09/xmldsig#"/>`)
	container := doc.Root()

	canon := NewCanonicalization(c14n.Exclusive)
	filter := NewXPathFilter2()
	xp := NewXPath("not(self::p:secret)")
	chain, err := NewChain(NodeSet, &EnvelopedSignature{}, filter, xp, canon)
	require.NoError(t, err)
	chain.Marshal(container, dom.DefaultPrefixes)

	// mutations after marshalling re-render the elements
	canon.AddInclusiveNamespace("foo")
	_, err = filter.AppendFilter(Subtract, "//p:skip", map[string]string{"p": "urn:p"})
	require.NoError(t, err)
	xp.SetNamespace("p", "urn:p")

	s, err := doc.WriteToString()
	require.NoError(t, err)
	reread := parse(t, s)

	parsed, err := ParseChain(NodeSet, reread.Root())
	require.NoError(t, err)
	require.Equal(t, 4, parsed.Len())

	ts := parsed.Transforms()
	assert.Equal(t, algo.TransformEnveloped, ts[0].Algorithm())

	f2, ok := ts[1].(*XPathFilter2)
	require.True(t, ok)
	require.Len(t, f2.Filters, 1)
	assert.Equal(t, Subtract, f2.Filters[0].Op)
	assert.Equal(t, "//p:skip", f2.Filters[0].Expression)
	assert.Equal(t, "urn:p", f2.Filters[0].Namespaces["p"])

	x, ok := ts[2].(*XPath)
	require.True(t, ok)
	assert.Equal(t, "not(self::p:secret)", x.Expression)
	assert.Equal(t, "urn:p", x.Namespaces["p"])

	c, ok := ts[3].(*Canonicalization)
	require.True(t, ok)
	assert.Equal(t, c14n.Exclusive, c.Method)
	assert.Equal(t, []string{"foo"}, c.InclusivePrefixes)
}

func TestParseUnknownTransform(t *testing.T) {
	doc := parse(t, `<Transform Algorithm="urn:unknown"/>`)
	_, err := Parse(doc.Root())
	assert.True(t, errs.IsUnsupported(err))

	doc = parse(t, `<Transform/>`)
	_, err = Parse(doc.Root())
	assert.True(t, errs.IsStructural(err))
}
