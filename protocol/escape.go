package protocol

import (
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// shouldKeepURI reports whether c is left untouched by EscapeURI.
// The set matches ECMAScript encodeURI: unreserved marks plus the
// reserved characters ;,/?:@&=+$ and #.
func shouldKeepURI(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')',
		';', ',', '/', '?', ':', '@', '&', '=', '+', '$', '#':
		return true
	}
	return false
}

// EscapeURI percent-encodes s with the encodeURI character set.
// Multi-byte UTF-8 sequences are encoded byte by byte with uppercase hex.
func EscapeURI(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !shouldKeepURI(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldKeepURI(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// UnescapeURI reverses EscapeURI. A literal '+' stays a '+'.
func UnescapeURI(s string) (string, error) {
	return url.PathUnescape(s)
}
