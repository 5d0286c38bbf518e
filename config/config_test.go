package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/metrics"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.NotNil(t, c.Provider)
	assert.NotNil(t, c.Logger)
	assert.IsType(t, metrics.Noop{}, c.Metrics)
	assert.Equal(t, dom.DefaultPrefixes, c.Prefixes)
	assert.True(t, c.IDs.ByAttributeName)
	assert.Nil(t, c.NewID)
}

func TestNormalize(t *testing.T) {
	var nilConfig *Config
	assert.NotNil(t, nilConfig.Normalize().Provider)

	c := &Config{PrettyPrint: true}
	n := c.Normalize()
	assert.NotNil(t, n.Provider)
	assert.NotNil(t, n.Logger)
	assert.NotNil(t, n.Metrics)
	assert.True(t, n.PrettyPrint)
	assert.Equal(t, dom.DefaultPrefixes, n.Prefixes)
	assert.Nil(t, c.Provider, "the receiver is left alone")
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("XMLSEC_TEST_LEVEL", "debug")
	path := writeFile(t, "xmlsec.yaml", `
log:
  level: ${XMLSEC_TEST_LEVEL}
  encoding: console
provider:
  disableAES: true
ids:
  byAttributeName: false
prefixes:
  dsig: dsig
prettyPrint: true
autoIds: true
`)
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", f.Log.Level)
	assert.Equal(t, "console", f.Log.Encoding)
	assert.True(t, f.Provider.DisableAES)
	assert.False(t, f.IDs.ByAttributeName)
	assert.Equal(t, "dsig", f.Prefixes.DSig)
	assert.Equal(t, "xenc", f.Prefixes.XEnc, "unset keys keep their defaults")
	assert.True(t, f.PrettyPrint)

	c, err := f.Build(prometheus.NewRegistry())
	require.NoError(t, err)
	assert.False(t, c.Provider.AlgorithmSupported(algo.AES128CBC))
	assert.True(t, c.Provider.AlgorithmSupported(algo.TripleDES))
	require.NotNil(t, c.NewID)
	assert.True(t, strings.HasPrefix(c.NewID(), "id-"))
	assert.NotEqual(t, c.NewID(), c.NewID())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "xmlsec.toml", `
prettyPrint = true

[metrics]
enabled = true
namespace = "test"

[ids]
byAttributeName = true
attributeNames = ["ID"]
`)
	f, err := Load(path)
	require.NoError(t, err)
	assert.True(t, f.Metrics.Enabled)
	assert.Equal(t, []string{"ID"}, f.IDs.AttributeNames)

	reg := prometheus.NewRegistry()
	c, err := f.Build(reg)
	require.NoError(t, err)
	c.Metrics.RecordSign(algo.HMACSHA1, true, 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "test_signatures_created_total")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeFile(t, "xmlsec.json", "{}"))
	assert.ErrorContains(t, err, "unknown format")

	_, err = Load(writeFile(t, "bad.yaml", "log: [unterminated"))
	assert.ErrorContains(t, err, "parsing config file")

	_, err = Load(writeFile(t, "level.yaml", "log:\n  level: chatty\n"))
	assert.ErrorContains(t, err, "validating config")

	_, err = Load(writeFile(t, "enc.yaml", "log:\n  encoding: xml\n"))
	assert.ErrorContains(t, err, "neither json nor console")

	_, err = Load(writeFile(t, "ids.yaml", "ids:\n  attributeNames: []\n"))
	assert.ErrorContains(t, err, "attributeNames")
}

func TestBuildWithoutLogging(t *testing.T) {
	f := DefaultFile()
	c, err := f.Build(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.Noop{}, c.Metrics)
	assert.Nil(t, c.NewID)
	c.Logger.Info("discarded")
}
