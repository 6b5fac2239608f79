package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeTextPassthrough(t *testing.T) {
	assert.Equal(t, "X1.0,2.0\n", DecodeText([]byte("X1.0,2.0\n")))
	assert.Equal(t, "", DecodeText(nil))
}

func TestDecodeTextKeepsLineDelimiters(t *testing.T) {
	assert.Equal(t, "1.0\r\n2.0\r\n", DecodeText([]byte("1.0\r\n2.0\r\n")))
}

func TestDecodeTextStripsControlBytes(t *testing.T) {
	in := []byte{0x00, '3', 0x01, '.', 0x02, '1', 0x1b, '4', 0x7f}
	assert.Equal(t, "3.14", DecodeText(in))
}

func TestDecodeTextSubstitutesInvalidUTF8(t *testing.T) {
	in := []byte{'1', 0xff, '2'}
	out := DecodeText(in)
	assert.Equal(t, "1�2", out)
}

func TestDecodeTextMultibyteRunes(t *testing.T) {
	// Valid multibyte sequences survive intact.
	assert.Equal(t, "température", DecodeText([]byte("température")))
}
