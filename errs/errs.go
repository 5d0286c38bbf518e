// Package errs defines the error kinds surfaced by the xmlsec engines.
//
// Three kinds exist and callers tell them apart with errors.As:
//
//   - *StructuralError: malformed or schema-violating XML, bad URIs, duplicate IDs.
//   - *UnsupportedAlgorithmError: an identifier that is unknown or disabled.
//   - *CryptoError: key/algorithm mismatches and primitive failures.
//
// A digest or signature mismatch is not an error. Verification returns false instead.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// StructuralError reports malformed or schema-violating XML structure.
type StructuralError struct {
	Op      string
	Context string
	Err     error
}

func (e *StructuralError) Error() string {
	return format(e.Op, e.Context, e.Err.Error())
}

func (e *StructuralError) Unwrap() error { return e.Err }

// UnsupportedAlgorithmError reports an algorithm identifier that is not implemented
// or has been disabled through configuration.
type UnsupportedAlgorithmError struct {
	Op        string
	Context   string
	Kind      string // digest, signature, canonicalization, transform, encryption, keywrap
	Algorithm string
}

func (e *UnsupportedAlgorithmError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "algorithm"
	}
	return format(e.Op, e.Context, fmt.Sprintf("unsupported %s algorithm %q", kind, e.Algorithm))
}

// CryptoError reports a key/algorithm mismatch or a failing primitive.
type CryptoError struct {
	Op      string
	Context string
	Key     string
	Err     error
}

func (e *CryptoError) Error() string {
	msg := e.Err.Error()
	if e.Key != "" {
		msg = "key " + e.Key + ": " + msg
	}
	return format(e.Op, e.Context, msg)
}

func (e *CryptoError) Unwrap() error { return e.Err }

func format(op, context, msg string) string {
	var b strings.Builder
	b.WriteString("xmlsec")
	if op != "" {
		b.WriteString(": ")
		b.WriteString(op)
	}
	if context != "" {
		b.WriteString(": ")
		b.WriteString(context)
	}
	b.WriteString(": ")
	b.WriteString(msg)
	return b.String()
}

// Structural returns a *StructuralError for op with a formatted message.
func Structural(op, format string, args ...any) error {
	return &StructuralError{Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapStructural wraps err as a *StructuralError.
func WrapStructural(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StructuralError{Op: op, Err: err}
}

// Unsupported returns an *UnsupportedAlgorithmError for the identifier uri.
func Unsupported(op, kind, uri string) error {
	return &UnsupportedAlgorithmError{Op: op, Kind: kind, Algorithm: uri}
}

// Crypto returns a *CryptoError for op with a formatted message.
func Crypto(op, key, format string, args ...any) error {
	return &CryptoError{Op: op, Key: key, Err: fmt.Errorf(format, args...)}
}

// WrapCrypto wraps err as a *CryptoError unless it already carries a kind.
func WrapCrypto(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &CryptoError{Op: op, Key: key, Err: err}
}

// WithContext attaches context (a reference URI, an element name) to err while
// keeping its kind. Errors without a kind are wrapped with fmt.Errorf.
func WithContext(err error, context string) error {
	if err == nil || context == "" {
		return err
	}
	var (
		se *StructuralError
		ue *UnsupportedAlgorithmError
		ce *CryptoError
	)
	switch {
	case errors.As(err, &se):
		c := *se
		c.Context = join(context, se.Context)
		return &c
	case errors.As(err, &ue):
		c := *ue
		c.Context = join(context, ue.Context)
		return &c
	case errors.As(err, &ce):
		c := *ce
		c.Context = join(context, ce.Context)
		return &c
	}
	return fmt.Errorf("%s: %w", context, err)
}

func join(outer, inner string) string {
	if inner == "" {
		return outer
	}
	return outer + ": " + inner
}

// Classified reports whether err carries one of the three kinds.
func Classified(err error) bool {
	return IsStructural(err) || IsUnsupported(err) || IsCrypto(err)
}

func IsStructural(err error) bool {
	var e *StructuralError
	return errors.As(err, &e)
}

func IsUnsupported(err error) bool {
	var e *UnsupportedAlgorithmError
	return errors.As(err, &e)
}

func IsCrypto(err error) bool {
	var e *CryptoError
	return errors.As(err, &e)
}
