package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderLineName(t *testing.T) {
	hl, err := parseHeaderLine([]byte("% sys.t,\tsys.t # name"))
	require.NoError(t, err)
	assert.Equal(t, HeaderName, hl.Field)
	assert.Equal(t, []string{"sys.t", "sys.t"}, hl.Raw)
}

func TestParseHeaderLineLength(t *testing.T) {
	hl, err := parseHeaderLine([]byte("% 10,\t20 # length"))
	require.NoError(t, err)
	assert.Equal(t, HeaderLength, hl.Field)
	assert.Equal(t, []int{10, 20}, hl.Ints)
}

func TestParseHeaderLineType(t *testing.T) {
	hl, err := parseHeaderLine([]byte("% tinyint,\tvarchar # type"))
	require.NoError(t, err)
	assert.Equal(t, HeaderType, hl.Field)
	assert.Equal(t, []string{"tinyint", "varchar"}, hl.Raw)
}

func TestParseHeaderLineTableName(t *testing.T) {
	hl, err := parseHeaderLine([]byte("% t,\tt # table_name"))
	require.NoError(t, err)
	assert.Equal(t, HeaderTableName, hl.Field)
}

func TestParseHeaderLineTypeSizes(t *testing.T) {
	hl, err := parseHeaderLine([]byte("% \"18 0\",\t\"0 0\" # typesizes"))
	require.NoError(t, err)
	assert.Equal(t, HeaderTypeSizes, hl.Field)
	require.Len(t, hl.TypeSizes, 2)
	assert.Equal(t, [2]int{18, 0}, hl.TypeSizes[0])
	assert.Equal(t, [2]int{0, 0}, hl.TypeSizes[1])
}

func TestParseHeaderLineQuotedValueWithSeparator(t *testing.T) {
	// The quoted field embeds the literal 2-byte field separator
	// (comma+tab); it must not be split because it's inside quotes.
	hl, err := parseHeaderLine([]byte("% \"x,\ty\",\tplain # name"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x,\ty", "plain"}, hl.Raw)
}

func TestParseHeaderLineEscapes(t *testing.T) {
	hl, err := parseHeaderLine([]byte(`% "a\tb\n\"c\"" # name`))
	require.NoError(t, err)
	require.Len(t, hl.Raw, 1)
	assert.Equal(t, "a\tb\n\"c\"", hl.Raw[0])
}

func TestParseHeaderLineRejectsBadLengthDigit(t *testing.T) {
	_, err := parseHeaderLine([]byte("% 10,\tx # length"))
	require.Error(t, err)
}

func TestParseHeaderLineMissingName(t *testing.T) {
	_, err := parseHeaderLine([]byte("% 10,\t20"))
	require.Error(t, err)
}
