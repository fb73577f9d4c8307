package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineBufferSplitsOnNewline(t *testing.T) {
	lb := newLineBuffer()
	require.NoError(t, lb.appendPayload([]byte("hello\nworl")))

	line, ok := lb.nextLine()
	require.True(t, ok)
	assert.Equal(t, "hello", string(line))

	_, ok = lb.nextLine()
	assert.False(t, ok, "second line is still incomplete")

	require.NoError(t, lb.appendPayload([]byte("d\n")))
	line, ok = lb.nextLine()
	require.True(t, ok)
	assert.Equal(t, "world", string(line))
}

func TestLineBufferHandlesMultipleLinesInOnePayload(t *testing.T) {
	lb := newLineBuffer()
	require.NoError(t, lb.appendPayload([]byte("a\nb\nc\n")))

	for _, want := range []string{"a", "b", "c"} {
		line, ok := lb.nextLine()
		require.True(t, ok)
		assert.Equal(t, want, string(line))
	}
	_, ok := lb.nextLine()
	assert.False(t, ok)
}

func TestLineBufferRejectsMalformedUTF8(t *testing.T) {
	lb := newLineBuffer()
	err := lb.appendPayload([]byte{'a', 0xff, 0xfe, '\n'})
	require.Error(t, err)
}

func TestLineBufferAllowsRuneSplitAcrossPayloads(t *testing.T) {
	// 'é' (U+00E9) encodes as the 2-byte sequence 0xC3 0xA9; split the
	// payload between the two bytes of the rune.
	lb := newLineBuffer()
	require.NoError(t, lb.appendPayload([]byte{0xC3}))
	_, ok := lb.nextLine()
	assert.False(t, ok)

	require.NoError(t, lb.appendPayload([]byte{0xA9, '\n'}))
	line, ok := lb.nextLine()
	require.True(t, ok)
	assert.Equal(t, "é", string(line))
}

func TestGrowLineBufDoublesAndCaps(t *testing.T) {
	buf, err := growLineBuf(make([]byte, 0, 4), 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cap(buf), 10)

	_, err = growLineBuf(nil, maxLineBuf+1)
	require.Error(t, err)
}
