package mapi

import (
	"bytes"
	"strconv"
)

// HeaderField is the recognized name of a "%" metadata line (spec §3,
// §4.4).
type HeaderField string

const (
	HeaderName      HeaderField = "name"
	HeaderLength    HeaderField = "length"
	HeaderType      HeaderField = "type"
	HeaderTypeSizes HeaderField = "typesizes"
	HeaderTableName HeaderField = "table_name"
)

// HeaderLine is the tokenized form of a "% v1,\tv2 # name" line.
type HeaderLine struct {
	Field     HeaderField
	Raw       []string
	Ints      []int     // populated when Field == HeaderLength
	TypeSizes [][2]int  // populated when Field == HeaderTypeSizes
}

var fieldSeparator = []byte(",\t")

// parseHeaderLine tokenizes a Header ("%") line per spec §4.4: the trailing
// "#<name>" suffix is located by searching backwards, the payload between
// "% " and " #" is split on the 2-byte separator ",\t", and values are
// unquoted/unescaped per the shared escape table.
func parseHeaderLine(line []byte) (*HeaderLine, error) {
	if len(line) < 2 || line[0] != '%' {
		return nil, &ParseError{Msg: "not a header line", Offset: 0}
	}
	hashIdx := bytes.LastIndexByte(line, '#')
	if hashIdx < 0 {
		return nil, &ParseError{Msg: "missing trailing #name in header line", Offset: len(line)}
	}
	name := string(bytes.TrimSpace(line[hashIdx+1:]))

	payloadEnd := hashIdx
	for payloadEnd > 0 && (line[payloadEnd-1] == ' ' || line[payloadEnd-1] == '\t') {
		payloadEnd--
	}
	payloadStart := 1
	if payloadStart < len(line) && line[payloadStart] == ' ' {
		payloadStart++
	}
	if payloadEnd < payloadStart {
		payloadEnd = payloadStart
	}
	payload := line[payloadStart:payloadEnd]

	var rawFields [][]byte
	if len(payload) == 0 {
		rawFields = nil
	} else {
		rawFields = splitRespectingQuotes(payload, fieldSeparator)
	}

	hl := &HeaderLine{Field: HeaderField(name), Raw: make([]string, len(rawFields))}
	for i, f := range rawFields {
		hl.Raw[i] = unescapeQuoted(f)
	}

	switch hl.Field {
	case HeaderLength:
		ints := make([]int, len(hl.Raw))
		for i, s := range hl.Raw {
			v, err := strconv.Atoi(s)
			if err != nil {
				return nil, &ParseError{Msg: "expected a digit in length header", Offset: i}
			}
			ints[i] = v
		}
		hl.Ints = ints
	case HeaderTypeSizes:
		sizes := make([][2]int, len(hl.Raw))
		for i, s := range hl.Raw {
			parts := bytes.Fields([]byte(s))
			var pair [2]int
			for j := 0; j < len(parts) && j < 2; j++ {
				v, err := strconv.Atoi(string(parts[j]))
				if err != nil {
					return nil, &ParseError{Msg: "expected a digit in typesizes header", Offset: i}
				}
				pair[j] = v
			}
			sizes[i] = pair
		}
		hl.TypeSizes = sizes
	}
	return hl, nil
}

// splitRespectingQuotes splits buf on sep, but never inside a double-quoted
// span (quotes may themselves contain the separator bytes, spec §4.4).
func splitRespectingQuotes(buf []byte, sep []byte) [][]byte {
	var fields [][]byte
	start := 0
	inQuote := false
	escaped := false
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case !inQuote && i+len(sep) <= len(buf) && bytes.Equal(buf[i:i+len(sep)], sep):
			fields = append(fields, buf[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	fields = append(fields, buf[start:])
	return fields
}
