package keyinfo

import (
	"encoding/hex"
	"strings"
)

// EncodeDName escapes a distinguished name for an X509SubjectName or
// X509IssuerName element. Commas are left alone since they separate RDNs;
// other RFC 4514 specials are backslash escaped, and trailing spaces become
// \20 so they survive whitespace handling.
func EncodeDName(dn string) string {
	var b strings.Builder
	trimmed := strings.TrimRight(dn, " ")
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case i == 0 && (c == '#' || c == ' '):
			b.WriteByte('\\')
		case strings.IndexByte(`+"\<>;`, c) >= 0:
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	for range len(dn) - len(trimmed) {
		b.WriteString(`\20`)
	}
	return b.String()
}

// DecodeDName reverses EncodeDName. Both \c and \XX hex escapes are accepted.
func DecodeDName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		if i+2 < len(s) {
			if v, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				b.Write(v)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}
