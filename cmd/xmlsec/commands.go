package main

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leifj/xmlsec"
	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/c14n"
	"github.com/leifj/xmlsec/config"
	"github.com/leifj/xmlsec/dom"
	"github.com/leifj/xmlsec/keys"
	"github.com/leifj/xmlsec/keystore"
	"github.com/leifj/xmlsec/xmlenc"
)

// exit codes
const (
	exitOK      = 0
	exitInvalid = 1
	exitError   = 2
)

var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	run   func(env *env, args []string) (int, error)
}

var commands = []command{
	{"c14n", "c14n [-method m] [-prefixes p,q] <file>", runC14N},
	{"digest", "digest [-method m] [-digest uri|name] <file>", runDigest},
	{"verify", "verify [-cert file] <file>", runVerify},
	{"decrypt", "decrypt [-key file] [-secret hex] [-kek-secret hex] <file>", runDecrypt},
}

type env struct {
	cfg    *config.Config
	log    *zap.Logger
	stdin  io.Reader
	stdout io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xmlsec", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "configuration file (.yaml, .yml or .toml)")
	logLevel := fs.String("log-level", "", "zap log level, overrides the configuration file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: xmlsec [-config file] [-log-level level] <command> [flags] <file|->")
		for _, c := range commands {
			fmt.Fprintln(stderr, "  xmlsec", c.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitError
	}

	file := config.DefaultFile()
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, "xmlsec:", err)
			return exitError
		}
		file = *f
	}
	if *logLevel != "" {
		file.Log.Level = *logLevel
		file.Log.Encoding = "console"
	}
	cfg, err := file.Build(prometheus.NewRegistry())
	if err != nil {
		fmt.Fprintln(stderr, "xmlsec:", err)
		return exitError
	}
	defer cfg.Logger.Sync()

	name := fs.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		e := &env{cfg: cfg, log: cfg.Logger.Named(name), stdin: stdin, stdout: stdout}
		code, err := c.run(e, fs.Args()[1:])
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, "usage: xmlsec", c.usage)
			return exitError
		}
		if err != nil {
			fmt.Fprintf(stderr, "xmlsec %s: %v\n", name, err)
			return exitError
		}
		return code
	}
	fmt.Fprintf(stderr, "xmlsec: unknown command %q\n", name)
	fs.Usage()
	return exitError
}

func parseFlags(fs *flag.FlagSet, args []string) (string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return "", errUsage
	}
	return fs.Arg(0), nil
}

func (e *env) read(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(e.stdin)
	}
	return os.ReadFile(path)
}

func (e *env) readDocument(path string) (*etree.Document, error) {
	data, err := e.read(path)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

func canonicalizer(method, prefixes string) (*c14n.Canonicalizer, error) {
	m, err := c14n.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	var inclusive []string
	if prefixes != "" {
		inclusive = strings.Split(prefixes, ",")
	}
	return c14n.New(m, inclusive...), nil
}

func runC14N(e *env, args []string) (int, error) {
	fs := flag.NewFlagSet("c14n", flag.ContinueOnError)
	method := fs.String("method", c14n.Inclusive.String(), "canonicalization method, name or URI")
	prefixes := fs.String("prefixes", "", "comma separated InclusiveNamespaces prefixes")
	path, err := parseFlags(fs, args)
	if err != nil {
		return exitError, err
	}
	c, err := canonicalizer(*method, *prefixes)
	if err != nil {
		return exitError, err
	}
	data, err := e.read(path)
	if err != nil {
		return exitError, err
	}
	out, err := c.CanonicalizeBytes(data)
	if err != nil {
		return exitError, err
	}
	_, err = e.stdout.Write(out)
	return exitOK, err
}

var digestNames = map[string]string{
	"sha1":      algo.SHA1,
	"sha224":    algo.SHA224,
	"sha256":    algo.SHA256,
	"sha384":    algo.SHA384,
	"sha512":    algo.SHA512,
	"ripemd160": algo.RIPEMD160,
}

func runDigest(e *env, args []string) (int, error) {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	method := fs.String("method", c14n.Inclusive.String(), "canonicalization method, name or URI")
	prefixes := fs.String("prefixes", "", "comma separated InclusiveNamespaces prefixes")
	digest := fs.String("digest", "sha256", "digest method, name or URI")
	path, err := parseFlags(fs, args)
	if err != nil {
		return exitError, err
	}
	uri := *digest
	if u, ok := digestNames[strings.ToLower(uri)]; ok {
		uri = u
	}
	c, err := canonicalizer(*method, *prefixes)
	if err != nil {
		return exitError, err
	}
	data, err := e.read(path)
	if err != nil {
		return exitError, err
	}
	canonical, err := c.CanonicalizeBytes(data)
	if err != nil {
		return exitError, err
	}
	sum, err := e.cfg.Provider.Digest(uri, canonical)
	if err != nil {
		return exitError, err
	}
	_, err = fmt.Fprintln(e.stdout, base64.StdEncoding.EncodeToString(sum))
	return exitOK, err
}

func runVerify(e *env, args []string) (int, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	certPath := fs.String("cert", "", "PEM certificate or public key; KeyInfo is used when absent")
	path, err := parseFlags(fs, args)
	if err != nil {
		return exitError, err
	}
	doc, err := e.readDocument(path)
	if err != nil {
		return exitError, err
	}
	el := xmlsec.FindSignature(doc)
	if el == nil {
		return exitError, errors.New("no ds:Signature in document")
	}
	sig := xmlsec.LoadSignature(e.cfg, el)
	if err := sig.Load(); err != nil {
		return exitError, err
	}
	if *certPath != "" {
		k, err := keystore.LoadPublicKey(*certPath)
		if err != nil {
			return exitError, err
		}
		sig.SetSigningKey(k)
	}

	valid, err := sig.Verify()
	report := sig.Report()
	for _, r := range report.References {
		status := "ok"
		switch {
		case r.Err != nil:
			status = "error: " + r.Err.Error()
		case !r.Valid:
			status = "digest mismatch"
		}
		fmt.Fprintf(e.stdout, "reference %q: %s\n", r.URI, status)
	}
	if err != nil {
		return exitError, err
	}
	if !valid {
		fmt.Fprintln(e.stdout, "signature: INVALID")
		return exitInvalid, nil
	}
	fmt.Fprintln(e.stdout, "signature: OK")
	return exitOK, nil
}

func runDecrypt(e *env, args []string) (int, error) {
	fs := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	keyPath := fs.String("key", "", "PEM private key (RSA or X25519) unwrapping carried keys")
	secret := fs.String("secret", "", "content key, hex")
	kekSecret := fs.String("kek-secret", "", "AES key wrap key, hex")
	path, err := parseFlags(fs, args)
	if err != nil {
		return exitError, err
	}
	c := xmlenc.NewCipher(e.cfg)
	switch {
	case *keyPath != "":
		k, err := keystore.LoadKeyPair(*keyPath, "")
		if err != nil {
			return exitError, err
		}
		c.SetKEK(k)
	case *kekSecret != "":
		raw, err := hex.DecodeString(*kekSecret)
		if err != nil {
			return exitError, fmt.Errorf("kek-secret: %w", err)
		}
		k, err := keys.AESForSize(raw)
		if err != nil {
			return exitError, err
		}
		c.SetKEK(k)
	}
	var content []byte
	if *secret != "" {
		if content, err = hex.DecodeString(*secret); err != nil {
			return exitError, fmt.Errorf("secret: %w", err)
		}
	}

	doc, err := e.readDocument(path)
	if err != nil {
		return exitError, err
	}
	n := 0
	for {
		el := dom.FindNS(&doc.Element, algo.NamespaceXMLEnc, "EncryptedData")
		if el == nil {
			break
		}
		if content != nil {
			k, err := contentKey(el, content)
			if err != nil {
				return exitError, err
			}
			c.SetKey(k)
		}
		if _, err := c.DecryptElement(el); err != nil {
			return exitError, err
		}
		n++
	}
	if n == 0 {
		return exitError, errors.New("no xenc:EncryptedData in document")
	}
	e.log.Debug("decrypted", zap.Int("count", n))
	_, err = doc.WriteTo(e.stdout)
	return exitOK, err
}

// contentKey types the raw content key by the EncryptionMethod of el.
func contentKey(el *etree.Element, raw []byte) (*keys.SymmetricKey, error) {
	method := dom.FirstChildNS(el, algo.NamespaceXMLEnc, "EncryptionMethod")
	if method == nil {
		return nil, errors.New("EncryptedData without EncryptionMethod")
	}
	return keys.SymmetricFor(method.SelectAttrValue("Algorithm", ""), raw)
}
