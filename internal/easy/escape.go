package easy

import (
	"net/url"
	"strings"

	"github.com/italolelis/transferkit/internal/transfer"
)

const upperhex = "0123456789ABCDEF"

// Escape percent-encodes every byte of s except the RFC 3986 unreserved characters.
func (h *Handle) Escape(s string) (string, error) {
	if h.Closed() {
		return "", errClosed("escape")
	}

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}

		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}

	return b.String(), nil
}

// Unescape decodes %XX sequences. A '+' is kept as is.
func (h *Handle) Unescape(s string) (string, error) {
	if h.Closed() {
		return "", errClosed("unescape")
	}

	out, err := url.PathUnescape(s)
	if err != nil {
		return "", transfer.NewError("unescape", transfer.CodeURLMalformat, err.Error(), err)
	}

	return out, nil
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	return c == '-' || c == '.' || c == '_' || c == '~'
}
