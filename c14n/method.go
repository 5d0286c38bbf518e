// Package c14n implements Canonical XML 1.0 and Exclusive XML Canonicalization
// 1.0, with and without comments, over etree node-sets.
package c14n

import (
	"github.com/leifj/xmlsec/algo"
	"github.com/leifj/xmlsec/errs"
)

// Method selects one of the four canonicalization algorithms.
type Method int

const (
	Inclusive Method = iota + 1
	InclusiveWithComments
	Exclusive
	ExclusiveWithComments
)

// URI returns the algorithm identifier of m.
func (m Method) URI() string {
	switch m {
	case Inclusive:
		return algo.C14N
	case InclusiveWithComments:
		return algo.C14NWithComments
	case Exclusive:
		return algo.ExcC14N
	case ExclusiveWithComments:
		return algo.ExcC14NWithComments
	}
	return ""
}

func (m Method) String() string {
	switch m {
	case Inclusive:
		return "c14n"
	case InclusiveWithComments:
		return "c14n-with-comments"
	case Exclusive:
		return "exc-c14n"
	case ExclusiveWithComments:
		return "exc-c14n-with-comments"
	}
	return "unknown"
}

func (m Method) IsExclusive() bool {
	return m == Exclusive || m == ExclusiveWithComments
}

func (m Method) WithComments() bool {
	return m == InclusiveWithComments || m == ExclusiveWithComments
}

// MethodFromURI maps an algorithm identifier to a Method.
func MethodFromURI(uri string) (Method, error) {
	switch uri {
	case algo.C14N:
		return Inclusive, nil
	case algo.C14NWithComments:
		return InclusiveWithComments, nil
	case algo.ExcC14N:
		return Exclusive, nil
	case algo.ExcC14NWithComments:
		return ExclusiveWithComments, nil
	}
	return 0, errs.Unsupported("c14n", "canonicalization", uri)
}

// ParseMethod accepts the short names used on the command line as well as URIs.
func ParseMethod(s string) (Method, error) {
	for _, m := range []Method{Inclusive, InclusiveWithComments, Exclusive, ExclusiveWithComments} {
		if s == m.String() {
			return m, nil
		}
	}
	return MethodFromURI(s)
}
