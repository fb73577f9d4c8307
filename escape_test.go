package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnescapeQuotedBasicEscapes(t *testing.T) {
	assert.Equal(t, "a\\b", unescapeQuoted([]byte(`"a\\b"`)))
	assert.Equal(t, "a\fb", unescapeQuoted([]byte(`"a\fb"`)))
	assert.Equal(t, "a\nb", unescapeQuoted([]byte(`"a\nb"`)))
	assert.Equal(t, "a\rb", unescapeQuoted([]byte(`"a\rb"`)))
	assert.Equal(t, "a\tb", unescapeQuoted([]byte(`"a\tb"`)))
	assert.Equal(t, `a"b`, unescapeQuoted([]byte(`"a\"b"`)))
}

func TestUnescapeQuotedOctal(t *testing.T) {
	assert.Equal(t, "a\x41b", unescapeQuoted([]byte(`"a\101b"`)))
}

func TestUnescapeQuotedUnrecognizedEscapeIsLiteral(t *testing.T) {
	assert.Equal(t, "aXb", unescapeQuoted([]byte(`"a\Xb"`)))
}

func TestUnescapeQuotedNoQuotesPassesThrough(t *testing.T) {
	assert.Equal(t, "plain", unescapeQuoted([]byte("plain")))
}
