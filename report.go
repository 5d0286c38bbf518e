package xmlsec

import (
	"fmt"
	"strings"
)

// ReferenceResult is the outcome for one Reference, in SignedInfo order.
type ReferenceResult struct {
	URI   string
	Valid bool
	// Err is set when the digest could not be computed at all.
	Err error
}

// Report collects everything a verification checked, so that callers can see
// which reference failed rather than just that one did.
type Report struct {
	References       []ReferenceResult
	SignatureChecked bool
	SignatureValid   bool
	SignatureErr     error
}

// Valid reports whether the signature value and every reference checked out.
func (r Report) Valid() bool {
	if !r.SignatureChecked || !r.SignatureValid {
		return false
	}
	for _, ref := range r.References {
		if !ref.Valid {
			return false
		}
	}
	return true
}

// Err returns the first error met, references before the signature value.
func (r Report) Err() error {
	for _, ref := range r.References {
		if ref.Err != nil {
			return ref.Err
		}
	}
	return r.SignatureErr
}

// Failed returns the URIs of the references that did not verify.
func (r Report) Failed() []string {
	var out []string
	for _, ref := range r.References {
		if !ref.Valid {
			out = append(out, ref.URI)
		}
	}
	return out
}

func (r Report) String() string {
	var b strings.Builder
	for i, ref := range r.References {
		fmt.Fprintf(&b, "reference %d %q: %s\n", i, ref.URI, outcome(ref.Valid, ref.Err))
	}
	if r.SignatureChecked {
		fmt.Fprintf(&b, "signature value: %s\n", outcome(r.SignatureValid, r.SignatureErr))
	}
	return b.String()
}

func outcome(valid bool, err error) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case valid:
		return "ok"
	}
	return "mismatch"
}
