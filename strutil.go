package aptcore

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ParseQuoteWord extracts the next whitespace-delimited word from s,
// honoring "…" and […] groups and decoding %xx escapes. It returns the
// word and the remainder, or ok=false on an unterminated quote or
// bracket or when no word remains.
func ParseQuoteWord(s string) (word, rest string, ok bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i == len(s) {
		return "", "", false
	}
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"' || c == '[':
			close := byte('"')
			if c == '[' {
				close = ']'
			}
			end := strings.IndexByte(s[i+1:], close)
			if end == -1 {
				return "", "", false
			}
			b.WriteString(s[i+1 : i+1+end])
			i += end + 2
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unHex(s[i+1])<<4 | unHex(s[i+2]))
			i += 3
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			return b.String(), s[i:], true
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), "", true
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// QuoteString %xx-escapes every byte in bad, every control byte, '%',
// and anything outside the printable ASCII range.
func QuoteString(s, bad string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(bad, c) != -1 || c == '%' || c < 0x21 || c > 0x7e {
			fmt.Fprintf(&b, "%%%02x", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DeQuoteString undoes QuoteString. A malformed escape reports ok=false
// and the partially decoded string.
func DeQuoteString(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
				return b.String(), false
			}
			b.WriteByte(unHex(s[i+1])<<4 | unHex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), true
}

// Base64Encode encodes s with standard padding. Used for HTTP Basic
// credentials and FTP proxy login scripts.
func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// SizeToStr renders a byte count with SI-1000 units up to YB, keeping
// four significant digits at most.
func SizeToStr(n int64) string {
	f := float64(n)
	ext := []string{"", "k", "M", "G", "T", "P", "E", "Z", "Y"}
	i := 0
	for f > 10000 && i < len(ext)-1 {
		f /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f", f)
	}
	if f < 100 {
		return fmt.Sprintf("%.1f%s", f, ext[i])
	}
	return fmt.Sprintf("%.0f%s", f, ext[i])
}

// TimeToStr renders a duration in seconds as the two largest nonzero
// components of days/hours/minutes/seconds.
func TimeToStr(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	d := secs / 86400
	h := (secs % 86400) / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	switch {
	case d > 0:
		return fmt.Sprintf("%dd %dh", d, h)
	case h > 0:
		return fmt.Sprintf("%dh %dmin", h, m)
	case m > 0:
		return fmt.Sprintf("%dmin %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// SubstVar replaces every occurrence of subst in s with contents.
// Used by the FTP proxy login script and rsh command templates.
func SubstVar(s, subst, contents string) string {
	return strings.ReplaceAll(s, subst, contents)
}

// SubstVars applies a map of substitutions in one pass over the keys.
func SubstVars(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, k, v)
	}
	return s
}
