package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTupleLineSimple(t *testing.T) {
	values, err := parseTupleLine([]byte("[ 1\t]"), LineResult, 1)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "1", values[0].Value)
	assert.False(t, values[0].IsNull)
}

func TestParseTupleLineMultiColumn(t *testing.T) {
	values, err := parseTupleLine([]byte("[ 1,\tfoo,\tNULL\t]"), LineResult, 3)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "1", values[0].Value)
	assert.Equal(t, "foo", values[1].Value)
	assert.True(t, values[2].IsNull)
}

func TestParseTupleLineQuotedEscapes(t *testing.T) {
	// scenario 3: SELECT 'a\tb\n"c"' round-trips to the literal
	// characters a TAB b LF " c ".
	values, err := parseTupleLine([]byte(`[ "a\tb\n\"c\""	]`), LineResult, 1)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "a\tb\n\"c\"", values[0].Value)
}

func TestParseTupleLineQuotedFieldContainingTab(t *testing.T) {
	values, err := parseTupleLine([]byte("[ \"x,\ty\",\tplain\t]"), LineResult, 2)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "x,\ty", values[0].Value)
	assert.Equal(t, "plain", values[1].Value)
}

func TestParseTupleLineSingleton(t *testing.T) {
	values, err := parseTupleLine([]byte("=1"), LineResultSingleton, 1)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "1", values[0].Value)
}

func TestParseTupleLineSingletonRejectsMultiColumn(t *testing.T) {
	_, err := parseTupleLine([]byte("=1"), LineResultSingleton, 2)
	require.Error(t, err)
}

func TestParseTupleLineColumnCountMismatch(t *testing.T) {
	_, err := parseTupleLine([]byte("[ 1,\t2\t]"), LineResult, 3)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "illegal result length", pe.Msg)
}

func TestParseTupleLineUnterminated(t *testing.T) {
	_, err := parseTupleLine([]byte("[ 1"), LineResult, 1)
	require.Error(t, err)
}
