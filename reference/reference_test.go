package reference

import (
	"crypto/sha1"
	"errors"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/provider"
	"github.com/leifj/xmlsec/transforms"
)

const sample = `<root><a Id="x">hello<!--c--></a><b id="y">world</b></root>`

func parseDoc(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func sha1Of(s string) []byte {
	d := sha1.Sum([]byte(s))
	return d[:]
}

func canon(t *testing.T, m c14n.Method, d transforms.Data) string {
	t.Helper()
	out, err := transforms.NewCanonicalization(m).Apply(nil, d)
	require.NoError(t, err)
	return string(out.Octets())
}

func TestResolveForms(t *testing.T) {
	doc := parseDoc(t, sample)
	r := &Resolver{Root: doc.Root(), Policy: DefaultIDPolicy()}

	tests := []struct {
		uri  string
		want string
	}{
		{"", `<root><a Id="x">hello</a><b id="y">world</b></root>`},
		{"#xpointer(/)", `<root><a Id="x">hello<!--c--></a><b id="y">world</b></root>`},
		{"#x", `<a Id="x">hello</a>`},
		{"#xpointer(id('x'))", `<a Id="x">hello<!--c--></a>`},
		{`#xpointer(id("y"))`, `<b id="y">world</b>`},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			d, err := r.Resolve(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, transforms.NodeSet, d.Kind())
			assert.Equal(t, tt.want, canon(t, c14n.InclusiveWithComments, d))
		})
	}
}

func TestResolveErrors(t *testing.T) {
	doc := parseDoc(t, `<root><a Id="x"/><b ID="x"/><c Id="z"/></root>`)
	r := &Resolver{Root: doc.Root(), Policy: DefaultIDPolicy()}

	for _, uri := range []string{"#missing", "#x", "#xpointer(foo)", "#xpointer(id(x))", "#a b", "#", "http://example.com/"} {
		t.Run(uri, func(t *testing.T) {
			_, err := r.Resolve(uri)
			require.Error(t, err)
			assert.True(t, errs.IsStructural(err), err.Error())
		})
	}
}

func TestFindIDPrecedence(t *testing.T) {
	doc := parseDoc(t, `<root><a Id="x"/><b Id="x"/><c xml:id="q"/><d Id="q"/></root>`)
	a := doc.Root().ChildElements()[0]

	ids := dom.NewIDTable()
	ids.Register("x", a)
	r := &Resolver{Root: doc.Root(), IDs: ids, Policy: DefaultIDPolicy()}
	e, err := r.FindID("x")
	require.NoError(t, err)
	assert.Same(t, a, e)

	// xml:id and an Id attribute with the same value are two claims.
	_, err = r.FindID("q")
	assert.True(t, errs.IsStructural(err))

	r.IDs = nil
	r.Policy = IDPolicy{}
	e, err = r.FindID("q")
	require.NoError(t, err)
	assert.Equal(t, "c", e.Tag)
	_, err = r.FindID("x")
	assert.True(t, errs.IsStructural(err))
}

func TestFindIDAnyPrefix(t *testing.T) {
	doc := parseDoc(t, `<root xmlns:w="urn:w"><a w:Id="p"/></root>`)
	r := &Resolver{Root: doc.Root(), Policy: DefaultIDPolicy()}
	e, err := r.FindID("p")
	require.NoError(t, err)
	assert.Equal(t, "a", e.Tag)
}

func TestResolveExternal(t *testing.T) {
	r := &Resolver{External: ExternalResolverFunc(func(uri string) ([]byte, error) {
		if uri == "http://example.com/data" {
			return []byte("hello"), nil
		}
		return nil, errors.New("not found")
	})}
	d, err := r.Resolve("http://example.com/data")
	require.NoError(t, err)
	assert.Equal(t, transforms.Octets, d.Kind())
	assert.Equal(t, "hello", string(d.Octets()))

	_, err = r.Resolve("http://example.com/other")
	assert.True(t, errs.IsStructural(err))

	ref := New("http://example.com/data", algo.SHA1)
	assert.Equal(t, transforms.Octets, ref.Chain().Input())
	got, err := ref.Digest(&Context{Resolver: r, Provider: provider.Default()})
	require.NoError(t, err)
	assert.Equal(t, sha1Of("hello"), got)
}

func TestDigest(t *testing.T) {
	doc := parseDoc(t, sample)
	ctx := &Context{Resolver: &Resolver{Root: doc.Root(), Policy: DefaultIDPolicy()}, Provider: provider.Default()}

	ref := New("", algo.SHA1)
	d, err := ref.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, sha1Of(`<root><a Id="x">hello</a><b id="y">world</b></root>`), d)

	ref = New("#xpointer(id('x'))", algo.SHA1)
	_, err = ref.AppendCanonicalization(c14n.ExclusiveWithComments)
	require.NoError(t, err)
	d, err = ref.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, sha1Of(`<a Id="x">hello<!--c--></a>`), d)

	buf := make([]byte, 20)
	n, err := ref.CalculateHash(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, d, buf)

	_, err = ref.CalculateHash(ctx, make([]byte, 10))
	assert.True(t, errs.IsCrypto(err))

	_, err = New("", "urn:unknown-digest").Digest(ctx)
	assert.True(t, errs.IsUnsupported(err))

	_, err = New("#nope", algo.SHA1).Digest(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err))
	assert.Contains(t, err.Error(), `reference "#nope"`)
}

func TestEnvelopedDigest(t *testing.T) {
	doc := parseDoc(t, `<root><data>v</data><ds:Signature xmlns:ds="`+algo.NamespaceDSig+`"><ds:SignedInfo/></ds:Signature></root>`)
	sig := dom.FindNS(doc.Root(), algo.NamespaceDSig, "Signature")
	ctx := &Context{
		Resolver:  &Resolver{Root: doc.Root()},
		Provider:  provider.Default(),
		Signature: sig,
	}
	ref := New("", algo.SHA1)
	require.NoError(t, ref.AppendEnveloped())
	d, err := ref.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, sha1Of(`<root><data>v</data></root>`), d)
}

func TestAppendTransformKinds(t *testing.T) {
	ref := New("", algo.SHA1)
	require.NoError(t, ref.AppendBase64())
	err := ref.AppendEnveloped()
	assert.True(t, errs.IsStructural(err))
	assert.Equal(t, 1, ref.Chain().Len())
}

func TestMarshalParseVerify(t *testing.T) {
	doc := parseDoc(t, `<root><a Id="x">hello</a><ds:SignedInfo xmlns:ds="`+algo.NamespaceDSig+`"/></root>`)
	si := dom.FindNS(doc.Root(), algo.NamespaceDSig, "SignedInfo")
	ctx := &Context{Resolver: &Resolver{Root: doc.Root(), Policy: DefaultIDPolicy()}, Provider: provider.Default()}

	ref := New("#x", algo.SHA256)
	ref.Id = "ref-1"
	el := ref.Marshal(si, dom.DefaultPrefixes)
	_, err := ref.AppendCanonicalization(c14n.Exclusive)
	require.NoError(t, err)
	require.NoError(t, ref.Update(ctx))
	assert.Len(t, ref.DigestValue, 32)

	kids := el.ChildElements()
	require.Len(t, kids, 3)
	assert.Equal(t, "ds:Transforms", kids[0].FullTag())
	assert.Equal(t, "ds:DigestMethod", kids[1].FullTag())
	assert.Equal(t, "ds:DigestValue", kids[2].FullTag())

	s, err := doc.WriteToString()
	require.NoError(t, err)
	doc2 := parseDoc(t, s)
	el2 := dom.FindNS(doc2.Root(), algo.NamespaceDSig, "Reference")
	parsed, err := Parse(el2)
	require.NoError(t, err)
	assert.Equal(t, "#x", parsed.URI)
	assert.Equal(t, "ref-1", parsed.Id)
	assert.Equal(t, algo.SHA256, parsed.DigestMethod)
	assert.Equal(t, ref.DigestValue, parsed.DigestValue)
	require.Equal(t, 1, parsed.Chain().Len())

	ctx2 := &Context{Resolver: &Resolver{Root: doc2.Root(), Policy: DefaultIDPolicy()}, Provider: provider.Default()}
	ok, err := parsed.Verify(ctx2)
	require.NoError(t, err)
	assert.True(t, ok)

	a := doc2.Root().ChildElements()[0]
	a.SetText("tampered")
	ok, err = parsed.Verify(ctx2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	const ns = `xmlns:ds="` + algo.NamespaceDSig + `"`
	tests := []struct {
		name string
		xml  string
	}{
		{"no uri", `<ds:Reference ` + ns + `><ds:DigestMethod Algorithm="` + algo.SHA1 + `"/><ds:DigestValue>AAAA</ds:DigestValue></ds:Reference>`},
		{"no digest method", `<ds:Reference ` + ns + ` URI=""><ds:DigestValue>AAAA</ds:DigestValue></ds:Reference>`},
		{"no algorithm", `<ds:Reference ` + ns + ` URI=""><ds:DigestMethod/><ds:DigestValue>AAAA</ds:DigestValue></ds:Reference>`},
		{"no digest value", `<ds:Reference ` + ns + ` URI=""><ds:DigestMethod Algorithm="` + algo.SHA1 + `"/></ds:Reference>`},
		{"short digest", `<ds:Reference ` + ns + ` URI=""><ds:DigestMethod Algorithm="` + algo.SHA1 + `"/><ds:DigestValue>AAAA</ds:DigestValue></ds:Reference>`},
		{"bad base64", `<ds:Reference ` + ns + ` URI=""><ds:DigestMethod Algorithm="` + algo.SHA1 + `"/><ds:DigestValue>!!</ds:DigestValue></ds:Reference>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.xml)
			_, err := Parse(doc.Root())
			require.Error(t, err)
			assert.True(t, errs.IsStructural(err), err.Error())
		})
	}
}
