// Package config holds the configuration object the xmlsec engines are built
// with, and its file form.
//
// Files are YAML or TOML, chosen by extension, with ${VAR} expansion applied
// before decoding:
//
//	log:
//	  level: debug
//	  encoding: console
//	metrics:
//	  enabled: true
//	  namespace: xmlsec
//	provider:
//	  disableAES: false
//	ids:
//	  byAttributeName: true
//	  attributeNames: [Id, ID, id]
//	prefixes:
//	  dsig: ds
//	  xenc: xenc
//	prettyPrint: true
//	autoIds: true
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/metrics"
	"github.com/leifj/xmlsec/provider"
	"github.com/leifj/xmlsec/reference"
)

// Config is passed to every engine constructor. Nil fields fall back to the
// values of Default.
type Config struct {
	Provider provider.Provider
	Logger   *zap.Logger
	Metrics  metrics.Recorder
	IDs      reference.IDPolicy
	Prefixes dom.Prefixes
	// PrettyPrint puts newlines between the elements of generated structures.
	PrettyPrint bool
	// NewID generates Id values for generated elements; nil leaves them
	// without one unless the caller sets it.
	NewID func() string
	// External resolves references outside the document.
	External reference.ExternalResolver
}

// Default returns a configuration with every algorithm enabled, no logging,
// no metrics, the default ID policy and the conventional prefixes.
func Default() *Config {
	return &Config{
		Provider: provider.Default(),
		Logger:   zap.NewNop(),
		Metrics:  metrics.Noop{},
		IDs:      reference.DefaultIDPolicy(),
		Prefixes: dom.DefaultPrefixes,
	}
}

// Normalize returns a copy of c with unset collaborators and prefixes filled
// in. A nil c gives Default.
func (c *Config) Normalize() *Config {
	if c == nil {
		return Default()
	}
	out := *c
	if out.Provider == nil {
		out.Provider = provider.Default()
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.Metrics == nil {
		out.Metrics = metrics.Noop{}
	}
	if out.Prefixes == (dom.Prefixes{}) {
		out.Prefixes = dom.DefaultPrefixes
	}
	return &out
}

// UUIDs generates identifiers of the form id-<uuid>, valid as XML IDs.
func UUIDs() string {
	return "id-" + uuid.NewString()
}

// File is the on-disk configuration.
type File struct {
	Log         LogConfig          `yaml:"log" toml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics" toml:"metrics"`
	Provider    provider.Options   `yaml:"provider" toml:"provider"`
	IDs         reference.IDPolicy `yaml:"ids" toml:"ids"`
	Prefixes    dom.Prefixes       `yaml:"prefixes" toml:"prefixes"`
	PrettyPrint bool               `yaml:"prettyPrint" toml:"prettyPrint"`
	AutoIDs     bool               `yaml:"autoIds" toml:"autoIds"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is a zap level name; empty disables logging.
	Level    string   `yaml:"level" toml:"level"`
	Encoding string   `yaml:"encoding" toml:"encoding"` // json or console
	Output   []string `yaml:"output" toml:"output"`
}

// MetricsConfig switches on the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// DefaultFile is the configuration a file is decoded over.
func DefaultFile() File {
	return File{
		Log:      LogConfig{Encoding: "json", Output: []string{"stderr"}},
		Metrics:  MetricsConfig{Namespace: "xmlsec"},
		IDs:      reference.DefaultIDPolicy(),
		Prefixes: dom.DefaultPrefixes,
	}
}

// Load reads a configuration file. The format follows the extension: .yaml,
// .yml or .toml.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	f := DefaultFile()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(expanded), &f)
	case ".toml":
		_, err = toml.Decode(expanded, &f)
	default:
		return nil, fmt.Errorf("config file %s: unknown format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Log.Level != "" {
		if _, err := parseLevel(f.Log.Level); err != nil {
			return err
		}
	}
	switch f.Log.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("log encoding %q is neither json nor console", f.Log.Encoding)
	}
	if f.IDs.ByAttributeName && len(f.IDs.AttributeNames) == 0 {
		return fmt.Errorf("ids: byAttributeName set without attributeNames")
	}
	return nil
}

// Build turns the file into a Config. Metrics are registered on reg, the
// default registerer when reg is nil.
func (f *File) Build(reg prometheus.Registerer) (*Config, error) {
	logger, err := f.Log.build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	c := &Config{
		Provider:    provider.New(f.Provider),
		Logger:      logger,
		Metrics:     metrics.Noop{},
		IDs:         f.IDs,
		Prefixes:    f.Prefixes,
		PrettyPrint: f.PrettyPrint,
	}
	if f.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		c.Metrics = metrics.NewPrometheus(reg, f.Metrics.Namespace)
	}
	if f.AutoIDs {
		c.NewID = UUIDs
	}
	return c, nil
}

func (l LogConfig) build() (*zap.Logger, error) {
	if l.Level == "" {
		return zap.NewNop(), nil
	}
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	enc := zap.NewProductionEncoderConfig()
	if l.Encoding == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
	}
	output := l.Output
	if len(output) == 0 {
		output = []string{"stderr"}
	}
	cfg := zap.Config{
		Encoding:         l.Encoding,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    enc,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      output,
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "json"
	}
	return cfg.Build()
}

func parseLevel(s string) (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
