package transport

import (
	"strings"
	"unicode/utf8"
)

// DecodeText converts a raw byte chunk to text, tolerating encoding damage:
// invalid UTF-8 sequences become the replacement character, and
// non-printable control bytes other than newline and carriage return are
// stripped. Serial lines pick up noise on connect and this keeps one bad
// byte from poisoning a whole chunk.
func DecodeText(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(len(data))

	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			i += size
			continue
		}
		if r == 0x7f {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}

	return b.String()
}
