package mapi

// SOHeaderKind is the kind of response announced by a "&" start-of-header
// line (spec §3).
type SOHeaderKind int

const (
	KindParse SOHeaderKind = iota
	KindTable
	KindUpdate
	KindSchema
	KindTrans
	KindPrepare
	KindBlock
	KindSOUnknown
)

// SOHeaderRecord is the tokenized form of a start-of-header line: a kind
// plus its integer fields, or (for Trans) an autocommit flag (spec §3).
type SOHeaderRecord struct {
	Kind       SOHeaderKind
	Ints       []int
	AutoCommit bool
}

func soHeaderKindFromChar(c byte) SOHeaderKind {
	switch c {
	case '0':
		return KindParse
	case '1':
		return KindTable
	case '2':
		return KindUpdate
	case '3':
		return KindSchema
	case '4':
		return KindTrans
	case '5':
		return KindPrepare
	case '6':
		return KindBlock
	default:
		return KindSOUnknown
	}
}

// intFieldCount is the number of integer tokens each kind carries, per
// spec §3's field-count table. Prepare is treated as Table-shaped per spec
// §9(b) / DESIGN.md open question (b).
func intFieldCount(k SOHeaderKind) int {
	switch k {
	case KindTable, KindPrepare:
		return 4
	case KindUpdate:
		return 2
	case KindBlock:
		return 4
	default:
		return 0
	}
}

// parseSOHeader tokenizes a "&kind ...\n"-class line (spec §4.3).
func parseSOHeader(line []byte) (*SOHeaderRecord, error) {
	if len(line) < 2 {
		return nil, &ParseError{Msg: "truncated start-of-header line", Offset: 0}
	}
	kind := soHeaderKindFromChar(line[1])
	rec := &SOHeaderRecord{Kind: kind}

	pos := 2
	hasParams := intFieldCount(kind) > 0 || kind == KindTrans
	if hasParams && pos < len(line) && line[pos] == ' ' {
		pos++
	}

	switch kind {
	case KindTrans:
		tok, newPos, err := nextToken(line, pos)
		if err != nil {
			return nil, err
		}
		if len(tok) == 0 {
			return nil, &ParseError{Msg: "empty transaction flag token", Offset: pos}
		}
		rec.AutoCommit = tok[0] == 't'
		pos = newPos
	default:
		n := intFieldCount(kind)
		ints, newPos, err := readInts(line, pos, n)
		if err != nil {
			return nil, err
		}
		rec.Ints = ints
		pos = newPos
	}
	return rec, nil
}

// nextToken returns the next space-delimited token starting at pos.
func nextToken(line []byte, pos int) (tok []byte, next int, err error) {
	start := pos
	for pos < len(line) && line[pos] != ' ' {
		pos++
	}
	if pos == start {
		return nil, pos, &ParseError{Msg: "empty token", Offset: start}
	}
	tok = line[start:pos]
	if pos < len(line) && line[pos] == ' ' {
		pos++
	}
	return tok, pos, nil
}

// readInts reads n space-separated, optionally signed integer tokens.
func readInts(line []byte, pos int, n int) ([]int, int, error) {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		tok, newPos, err := nextToken(line, pos)
		if err != nil {
			return nil, pos, err
		}
		val, err := parseIntToken(tok, pos)
		if err != nil {
			return nil, pos, err
		}
		out = append(out, val)
		pos = newPos
	}
	return out, pos, nil
}

// parseIntToken parses an optionally-signed decimal integer token,
// reporting the offset of the first bad byte on failure (spec §4.3).
func parseIntToken(tok []byte, offset int) (int, error) {
	if len(tok) == 0 {
		return 0, &ParseError{Msg: "empty integer token", Offset: offset}
	}
	neg := false
	i := 0
	if tok[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(tok) {
		return 0, &ParseError{Msg: "expected a digit", Offset: offset + i}
	}
	val := 0
	for ; i < len(tok); i++ {
		c := tok[i]
		if c < '0' || c > '9' {
			return 0, &ParseError{Msg: "expected a digit", Offset: offset + i}
		}
		val = val*10 + int(c-'0')
	}
	if neg {
		val = -val
	}
	return val, nil
}
