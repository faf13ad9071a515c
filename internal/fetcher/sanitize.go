package fetcher

import (
	"bytes"
	"unicode/utf8"
)

// sanitize repairs the most common well-formedness errors found in the wild:
// invalid UTF-8, control characters XML does not allow, and bare ampersands.
func sanitize(body []byte) []byte {
	body = bytes.ToValidUTF8(body, []byte("�"))
	out := make([]byte, 0, len(body)+64)
	for i := 0; i < len(body); {
		r, size := utf8.DecodeRune(body[i:])
		switch {
		case r == '&' && !entityAt(body[i+1:]):
			out = append(out, "&amp;"...)
		case !xmlChar(r):
		default:
			out = append(out, body[i:i+size]...)
		}
		i += size
	}
	return out
}

// entityAt reports whether b starts with the rest of a character or entity
// reference, e.g. "amp;" or "#x2014;".
func entityAt(b []byte) bool {
	n := 0
	if len(b) > 0 && b[0] == '#' {
		n = 1
	}
	for i := n; i < len(b) && i < 32; i++ {
		c := b[i]
		switch {
		case c == ';':
			return i > n
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return false
}

func xmlChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
