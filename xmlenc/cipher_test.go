package xmlenc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/errs"
	"github.com/leifj/xmlsec/keyinfo"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/metrics"
	"github.com/leifj/xmlsec/provider"
)

const testDoc = `<ADoc xmlns:foo="http://www.foo.org"><product>XMLSecurityC</product><category idea="great">XML Security Tools</category><foo:note>kept &amp; restored</foo:note></ADoc>`

var keyStr = []byte("abcdefghijklmnopqrstuvwxyzabcdef")

func parseDoc(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func docString(t *testing.T, doc *etree.Document) string {
	t.Helper()
	s, err := doc.WriteToString()
	require.NoError(t, err)
	return s
}

func symKey(t *testing.T, uri string) *keys.SymmetricKey {
	t.Helper()
	k, err := keys.SymmetricFor(uri, keyStr[:algo.KeySize(uri)])
	require.NoError(t, err)
	return k
}

func encryptedDataOf(t *testing.T, doc *etree.Document) *etree.Element {
	t.Helper()
	el := dom.FindNS(doc.Root(), algo.NamespaceXMLEnc, "EncryptedData")
	require.NotNil(t, el)
	return el
}

var contentMethods = []string{
	algo.AES128CBC, algo.AES192CBC, algo.AES256CBC, algo.TripleDES,
	algo.AES128GCM, algo.AES192GCM, algo.AES256GCM,
}

func TestEncryptElementRoundTrip(t *testing.T) {
	for _, m := range contentMethods {
		t.Run(m, func(t *testing.T) {
			doc := parseDoc(t, testDoc)
			before := docString(t, doc)

			c := NewCipher(nil)
			c.SetKey(symKey(t, m))
			ed, err := c.EncryptElement(doc.FindElement("//category"), m)
			require.NoError(t, err)
			assert.Equal(t, algo.TypeElement, ed.Type)
			assert.Equal(t, m, ed.Algorithm())
			assert.Same(t, ed, c.EncryptedData())
			assert.Nil(t, doc.FindElement("//category"))
			encrypted := docString(t, doc)
			assert.NotContains(t, encrypted, "XML Security Tools")

			doc2 := parseDoc(t, encrypted)
			d := NewCipher(nil)
			d.SetKey(symKey(t, m))
			restored, err := d.DecryptElement(encryptedDataOf(t, doc2))
			require.NoError(t, err)
			assert.Equal(t, "category", restored.Tag)
			assert.Equal(t, "great", restored.SelectAttrValue("idea", ""))
			assert.Equal(t, before, docString(t, doc2))
		})
	}
}

func TestEncryptElementContentRoundTrip(t *testing.T) {
	for _, m := range contentMethods {
		t.Run(m, func(t *testing.T) {
			doc := parseDoc(t, testDoc)
			before := docString(t, doc)

			c := NewCipher(nil)
			c.SetKey(symKey(t, m))
			ed, err := c.EncryptElementContent(doc.Root(), m)
			require.NoError(t, err)
			assert.Equal(t, algo.TypeContent, ed.Type)
			require.Len(t, doc.Root().Child, 1)
			assert.Same(t, ed.Element(), doc.Root().Child[0])

			doc2 := parseDoc(t, docString(t, doc))
			d := NewCipher(nil)
			d.SetKey(symKey(t, m))
			holder, err := d.DecryptElement(encryptedDataOf(t, doc2))
			require.NoError(t, err)
			assert.Equal(t, "ADoc", holder.Tag)
			assert.Equal(t, before, docString(t, doc2))
		})
	}
}

func TestEncryptPrefixedElement(t *testing.T) {
	doc := parseDoc(t, testDoc)
	before := docString(t, doc)
	note := doc.FindElement("//foo:note")
	require.NotNil(t, note)

	c := NewCipher(nil)
	c.SetKey(symKey(t, algo.AES256CBC))
	_, err := c.EncryptElement(note, algo.AES256CBC)
	require.NoError(t, err)

	doc2 := parseDoc(t, docString(t, doc))
	restored, err := c.DecryptElement(encryptedDataOf(t, doc2))
	require.NoError(t, err)
	assert.Equal(t, "http://www.foo.org", restored.NamespaceURI())
	assert.Equal(t, "kept & restored", restored.Text())
	assert.Equal(t, before, docString(t, doc2))
}

func TestDecryptToBytes(t *testing.T) {
	doc := parseDoc(t, testDoc)
	c := NewCipher(nil)
	c.SetKey(symKey(t, algo.AES128GCM))
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128GCM)
	require.NoError(t, err)
	encrypted := docString(t, doc)

	plaintext, err := c.DecryptToBytes(ed.Element())
	require.NoError(t, err)
	assert.Equal(t, `<category idea="great">XML Security Tools</category>`, string(plaintext))
	assert.Equal(t, encrypted, docString(t, doc))
}

func TestEncryptFailureLeavesTree(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *config.Config
		key    keys.Key
		method string
		check  func(error) bool
	}{
		{"no key", nil, nil, algo.AES128CBC, errs.IsCrypto},
		{"key size mismatch", nil, symKey(t, algo.AES128CBC), algo.AES256CBC, errs.IsCrypto},
		{"3des key for aes", nil, symKey(t, algo.TripleDES), algo.AES192CBC, errs.IsCrypto},
		{"hmac key", nil, keys.NewHMAC([]byte("secret")), algo.AES128CBC, errs.IsCrypto},
		{"not an encryption method", nil, symKey(t, algo.AES128CBC), algo.KWAES128, errs.IsUnsupported},
		{"aes switched off", &config.Config{Provider: provider.New(provider.Options{DisableAES: true})},
			symKey(t, algo.AES128CBC), algo.AES128CBC, errs.IsUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, testDoc)
			before := docString(t, doc)
			c := NewCipher(tt.cfg)
			c.SetKey(tt.key)

			_, err := c.EncryptElement(doc.FindElement("//category"), tt.method)
			assert.True(t, tt.check(err), "got %v", err)
			_, err = c.EncryptElementContent(doc.Root(), tt.method)
			assert.True(t, tt.check(err), "got %v", err)
			assert.Equal(t, before, docString(t, doc))
		})
	}

	t.Run("3des still works with aes switched off", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		c := NewCipher(&config.Config{Provider: provider.New(provider.Options{DisableAES: true})})
		c.SetKey(symKey(t, algo.TripleDES))
		_, err := c.EncryptElement(doc.FindElement("//category"), algo.TripleDES)
		assert.NoError(t, err)
	})

	t.Run("detached element", func(t *testing.T) {
		c := NewCipher(nil)
		c.SetKey(symKey(t, algo.AES128CBC))
		_, err := c.EncryptElement(etree.NewElement("loose"), algo.AES128CBC)
		assert.True(t, errs.IsStructural(err))
	})
}

// tamper flips one byte of the CipherValue of ed.
func tamper(t *testing.T, ed *etree.Element) {
	t.Helper()
	cv := ed.FindElement("./xenc:CipherData/xenc:CipherValue")
	require.NotNil(t, cv)
	b, err := base64.StdEncoding.DecodeString(cv.Text())
	require.NoError(t, err)
	b[len(b)-1] ^= 0x01
	cv.SetText(base64.StdEncoding.EncodeToString(b))
}

func TestDecryptFailureLeavesTree(t *testing.T) {
	t.Run("tampered GCM ciphertext", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		c := NewCipher(nil)
		c.SetKey(symKey(t, algo.AES256GCM))
		ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES256GCM)
		require.NoError(t, err)
		tamper(t, ed.Element())
		before := docString(t, doc)

		_, err = c.DecryptElement(ed.Element())
		assert.True(t, errs.IsCrypto(err), "got %v", err)
		assert.Equal(t, before, docString(t, doc))
	})

	t.Run("wrong key", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		c := NewCipher(nil)
		c.SetKey(symKey(t, algo.AES128CBC))
		ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
		require.NoError(t, err)
		before := docString(t, doc)

		other, err := keys.NewSymmetric(keys.AES128, []byte("ponmlkjihgfedcba"))
		require.NoError(t, err)
		c.SetKey(other)
		_, err = c.DecryptElement(ed.Element())
		assert.Error(t, err)
		assert.Equal(t, before, docString(t, doc))
	})

	t.Run("no key at all", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		c := NewCipher(nil)
		c.SetKey(symKey(t, algo.AES128CBC))
		ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
		require.NoError(t, err)

		_, err = NewCipher(nil).DecryptElement(ed.Element())
		assert.True(t, errs.IsCrypto(err))
	})

	t.Run("not EncryptedData", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		_, err := NewCipher(nil).DecryptElement(doc.FindElement("//category"))
		assert.True(t, errs.IsStructural(err))
	})
}

func TestScenarioWrappedKeyMetadata(t *testing.T) {
	doc := parseDoc(t, testDoc)
	before := docString(t, doc)

	raw := make([]byte, 24)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key, err := keys.NewSymmetric(keys.TripleDES, raw)
	require.NoError(t, err)

	c := NewCipher(nil)
	c.SetKey(key)
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.TripleDES)
	require.NoError(t, err)
	ed.AppendKeyName("Fred's name")
	ed.SetEncoding("Base64")
	ed.SetMimeType("image/png")
	require.NoError(t, ed.SetKeySize(192))

	c.SetKEK(symKey(t, algo.KWAES128))
	ek, err := c.EncryptKey(key.Raw(), algo.KWAES128)
	require.NoError(t, err)
	ek.CarriedKeyName = "Dummy Carry"
	ek.Recipient = "Dummy Recipient"
	ed.AppendEncryptedKey(ek)

	encrypted := docString(t, doc)
	assert.NotContains(t, encrypted, "XML Security Tools")

	doc2 := parseDoc(t, encrypted)
	d := NewCipher(nil)
	d.SetKEK(symKey(t, algo.KWAES128))
	restored, err := d.DecryptElement(encryptedDataOf(t, doc2))
	require.NoError(t, err)
	assert.Equal(t, "XML Security Tools", restored.Text())
	assert.Equal(t, before, docString(t, doc2))

	got := d.EncryptedData()
	require.NotNil(t, got)
	name, ok := got.KeyName()
	assert.True(t, ok)
	assert.Equal(t, "Fred's name", name)
	assert.Equal(t, "Base64", got.Encoding)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, 192, got.KeySize())
	require.Len(t, got.EncryptedKeys(), 1)
	carried := got.EncryptedKeys()[0]
	assert.Equal(t, "Dummy Carry", carried.CarriedKeyName)
	assert.Equal(t, "Dummy Recipient", carried.Recipient)
	assert.Equal(t, algo.KWAES128, carried.Algorithm())
}

func TestCipherReferenceVector(t *testing.T) {
	doc := etree.NewDocument()
	root := doc.CreateElement("ADoc")

	c := NewCipher(nil)
	ed, err := c.CreateEncryptedData(algo.AES128CBC, "#CipherText")
	require.NoError(t, err)
	_, err = ed.AppendXPathTransform(`self::text()[parent::MyCipherValue[@Id="CipherText"]]`)
	require.NoError(t, err)
	require.NoError(t, ed.AppendBase64Transform())
	root.AddChild(ed.Element())

	value := root.CreateElement("MyCipherValue")
	value.CreateAttr("Id", "CipherText")
	value.SetText("YmNkZWZnaGlqa2xtbm9wcRrPXjQ1hvhDFT+EdesMAPE4F6vlT+y0HPXe0+nAGLQ8")

	key, err := keys.NewSymmetric(keys.AES128, keyStr[:16])
	require.NoError(t, err)
	c.SetKey(key)
	plaintext, err := c.DecryptToBytes(ed.Element())
	require.NoError(t, err)
	assert.Equal(t, "A test encrypted secret", string(plaintext))

	t.Run("after a reparse", func(t *testing.T) {
		doc2 := parseDoc(t, docString(t, doc))
		d := NewCipher(nil)
		d.SetKey(key)
		loaded, err := d.LoadEncryptedData(encryptedDataOf(t, doc2))
		require.NoError(t, err)
		require.NotNil(t, loaded.CipherReference())
		assert.Equal(t, "#CipherText", loaded.CipherReference().URI)
		assert.Equal(t, 2, loaded.CipherReference().Chain().Len())

		plaintext, err := d.DecryptToBytes(loaded.Element())
		require.NoError(t, err)
		assert.Equal(t, "A test encrypted secret", string(plaintext))
	})

	t.Run("inline ciphertext has no reference to transform", func(t *testing.T) {
		doc := parseDoc(t, testDoc)
		c := NewCipher(nil)
		c.SetKey(symKey(t, algo.AES128CBC))
		ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
		require.NoError(t, err)
		assert.Nil(t, ed.CipherReference())
		assert.True(t, errs.IsStructural(ed.AppendBase64Transform()))
	})
}

// reparseKey serializes ek and parses it back, as a recipient would see it.
func reparseKey(t *testing.T, ek *keyinfo.EncryptedKey) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	doc.SetRoot(ek.Element().Copy())
	return parseDoc(t, docString(t, doc)).Root()
}

func TestEncryptKeyMatrix(t *testing.T) {
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaKey, err := keys.FromSigner(rk)
	require.NoError(t, err)
	withParams := rsaKey.Clone().(*keys.RSAKey)
	withParams.SetOAEPParams([]byte("12345678"))

	tests := []struct {
		name   string
		method string
		kek    keys.Key
	}{
		{"rsa-1_5", algo.RSAv15, rsaKey},
		{"rsa-oaep-mgf1p", algo.RSAOAEP, rsaKey},
		{"rsa-oaep-mgf1p with params", algo.RSAOAEP, withParams},
		{"kw-aes128", algo.KWAES128, symKey(t, algo.KWAES128)},
		{"kw-aes192", algo.KWAES192, symKey(t, algo.KWAES192)},
		{"kw-aes256", algo.KWAES256, symKey(t, algo.KWAES256)},
		{"kw-tripledes", algo.KWTripleDES, symKey(t, algo.KWTripleDES)},
	}
	raw := []byte("A test key to use for da")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCipher(nil)
			c.SetKEK(tt.kek)
			ek, err := c.EncryptKey(raw, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.method, ek.Algorithm())

			back, err := c.DecryptKey(ek)
			require.NoError(t, err)
			assert.Equal(t, raw, back)

			back, err = c.DecryptKeyElement(reparseKey(t, ek))
			require.NoError(t, err)
			assert.Equal(t, raw, back)
		})
	}

	t.Run("OAEP params travel in the EncryptionMethod", func(t *testing.T) {
		c := NewCipher(nil)
		c.SetKEK(withParams)
		ek, err := c.EncryptKey(raw, algo.RSAOAEP)
		require.NoError(t, err)
		assert.Equal(t, []byte("12345678"), ek.Method.OAEPParams)

		d := NewCipher(nil)
		d.SetKEK(rsaKey)
		el := reparseKey(t, ek)
		back, err := d.DecryptKeyElement(el)
		require.NoError(t, err)
		assert.Equal(t, raw, back)

		op := el.FindElement(".//xenc:OAEPparams")
		require.NotNil(t, op)
		op.SetText(base64.StdEncoding.EncodeToString([]byte("87654321")))
		_, err = d.DecryptKeyElement(el)
		assert.True(t, errs.IsCrypto(err), "got %v", err)
	})

	t.Run("xmlenc11 OAEP with SHA-256", func(t *testing.T) {
		c := NewCipher(nil)
		c.SetKEK(rsaKey)
		ek, err := c.EncryptKeyWith(raw, algo.RSAOAEP11, provider.WrapParams{DigestMethod: algo.SHA256, MGF: algo.MGF1SHA256})
		require.NoError(t, err)
		back, err := c.DecryptKeyElement(reparseKey(t, ek))
		require.NoError(t, err)
		assert.Equal(t, raw, back)
	})

	t.Run("wrong key encryption key", func(t *testing.T) {
		c := NewCipher(nil)
		c.SetKEK(symKey(t, algo.KWAES128))
		ek, err := c.EncryptKey(raw, algo.KWAES128)
		require.NoError(t, err)
		other, err := keys.NewSymmetric(keys.AES128, []byte("ponmlkjihgfedcba"))
		require.NoError(t, err)
		c.SetKEK(other)
		_, err = c.DecryptKey(ek)
		assert.True(t, errs.IsCrypto(err))
	})

	t.Run("kek type must fit the method", func(t *testing.T) {
		c := NewCipher(nil)
		c.SetKEK(symKey(t, algo.KWAES128))
		_, err := c.EncryptKey(raw, algo.KWAES256)
		assert.True(t, errs.IsCrypto(err))
		_, err = c.EncryptKey(raw, algo.AES128CBC)
		assert.True(t, errs.IsUnsupported(err))
		_, err = NewCipher(nil).EncryptKey(raw, algo.KWAES128)
		assert.True(t, errs.IsCrypto(err))
	})
}

func TestMultipleRecipients(t *testing.T) {
	doc := parseDoc(t, testDoc)
	before := docString(t, doc)
	content := symKey(t, algo.AES256GCM)

	alice := symKey(t, algo.KWAES128)
	bob, err := keys.NewSymmetric(keys.AES256, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	c := NewCipher(nil)
	c.SetKey(content)
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES256GCM)
	require.NoError(t, err)
	for _, r := range []struct {
		kek    keys.Key
		method string
	}{{alice, algo.KWAES128}, {bob, algo.KWAES256}} {
		c.SetKEK(r.kek)
		ek, err := c.EncryptKey(content.Raw(), r.method)
		require.NoError(t, err)
		ed.AppendEncryptedKey(ek)
	}
	encrypted := docString(t, doc)

	for name, kek := range map[string]keys.Key{"alice": alice, "bob": bob} {
		t.Run(name, func(t *testing.T) {
			doc2 := parseDoc(t, encrypted)
			d := NewCipher(nil)
			d.SetKEK(kek)
			_, err := d.DecryptElement(encryptedDataOf(t, doc2))
			require.NoError(t, err)
			assert.Equal(t, before, docString(t, doc2))
		})
	}

	t.Run("a stranger", func(t *testing.T) {
		doc2 := parseDoc(t, encrypted)
		stranger, err := keys.NewSymmetric(keys.AES128, []byte("ponmlkjihgfedcba"))
		require.NoError(t, err)
		d := NewCipher(nil)
		d.SetKEK(stranger)
		_, err = d.DecryptElement(encryptedDataOf(t, doc2))
		assert.True(t, errs.IsCrypto(err))
		assert.Equal(t, encrypted, docString(t, doc2))
	})
}

func TestEncryptedKeyByRetrievalMethod(t *testing.T) {
	doc := parseDoc(t, testDoc)
	before := docString(t, doc)
	content := symKey(t, algo.AES128CBC)
	kek := symKey(t, algo.KWAES256)

	c := NewCipher(nil)
	c.SetKey(content)
	c.SetKEK(kek)
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
	require.NoError(t, err)
	ek, err := c.EncryptKey(content.Raw(), algo.KWAES256)
	require.NoError(t, err)
	ek.Id = "ek-1"
	ek.ReferenceList = []keyinfo.DataReference{{URI: "#ed-1"}}
	ed.SetID("ed-1")
	ed.AppendKeyInfo(&keyinfo.RetrievalMethod{URI: "#ek-1", Type: algo.TypeEncryptedKey})
	ek.Marshal(doc.Root(), dom.DefaultPrefixes)

	doc2 := parseDoc(t, docString(t, doc))
	d := NewCipher(nil)
	d.SetKEK(kek)
	_, err = d.DecryptElement(encryptedDataOf(t, doc2))
	require.NoError(t, err)

	leftover := dom.FindNS(doc2.Root(), algo.NamespaceXMLEnc, "EncryptedKey")
	require.NotNil(t, leftover)
	doc2.Root().RemoveChild(leftover)
	assert.Equal(t, before, docString(t, doc2))
}

func TestPrettyPrintAndIDs(t *testing.T) {
	n := 0
	cfg := &config.Config{
		PrettyPrint: true,
		NewID: func() string {
			n++
			return "enc-" + string(rune('0'+n))
		},
	}
	doc := parseDoc(t, testDoc)
	before := docString(t, doc)
	c := NewCipher(cfg)
	c.SetKey(symKey(t, algo.AES128CBC))
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
	require.NoError(t, err)
	assert.Equal(t, "enc-1", ed.Id)
	assert.Equal(t, "enc-1", ed.Element().SelectAttrValue("Id", ""))
	assert.True(t, strings.HasPrefix(ed.Element().Text(), "\n"))

	c.SetKEK(symKey(t, algo.KWAES128))
	ek, err := c.EncryptKey(symKey(t, algo.AES128CBC).Raw(), algo.KWAES128)
	require.NoError(t, err)
	assert.Equal(t, "enc-2", ek.Id)
	ed.AppendEncryptedKey(ek)

	d := NewCipher(nil)
	d.SetKEK(symKey(t, algo.KWAES128))
	doc2 := parseDoc(t, docString(t, doc))
	_, err = d.DecryptElement(encryptedDataOf(t, doc2))
	require.NoError(t, err)
	assert.Equal(t, before, docString(t, doc2))
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := &config.Config{Metrics: metrics.NewPrometheus(reg, "xmlsec")}
	doc := parseDoc(t, testDoc)

	c := NewCipher(cfg)
	c.SetKey(symKey(t, algo.AES128CBC))
	ed, err := c.EncryptElement(doc.FindElement("//category"), algo.AES128CBC)
	require.NoError(t, err)
	_, err = c.DecryptElement(ed.Element())
	require.NoError(t, err)

	expected := `
# HELP xmlsec_encryptions_total Encryptions, by encryption method and result
# TYPE xmlsec_encryptions_total counter
xmlsec_encryptions_total{algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc",result="success"} 1
# HELP xmlsec_decryptions_total Decryptions, by encryption method and result
# TYPE xmlsec_decryptions_total counter
xmlsec_decryptions_total{algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc",result="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "xmlsec_encryptions_total", "xmlsec_decryptions_total"))
}
