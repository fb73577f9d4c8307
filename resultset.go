package mapi

import "github.com/pkg/errors"

// blockRequester is the interface a ResultSetResponse uses to pull
// additional blocks and to tear down a server-side cursor. Connection
// implements it; the indirection keeps resultset.go free of transport
// concerns (spec §4.9, §3: "Ownership... Each DataBlock is opaque to the
// Response List except via getRow(i)").
type blockRequester interface {
	requestBlock(id, offset, count int, forwardOnly bool) (*DataBlock, error)
	closeResultSet(id int) error
	releaseResultSet(id int) error
}

// DataBlock holds one batch of raw tuple lines for a ResultSetResponse,
// parsed on demand (spec §3). In forward-only mode a row slot is cleared
// after being read exactly once.
type DataBlock struct {
	rows        [][]byte
	offset      int
	forwardOnly bool
	count       int
}

func newDataBlock(size, offset int, forwardOnly bool) *DataBlock {
	return &DataBlock{rows: make([][]byte, size), offset: offset, forwardOnly: forwardOnly}
}

func (db *DataBlock) full() bool { return db.count >= len(db.rows) }

// addLine appends a raw Result/ResultSingleton line into the next slot
// (spec §4.9).
func (db *DataBlock) addLine(line []byte, lt LineType) error {
	if lt != LineResult && lt != LineResultSingleton {
		return errors.Wrap(ErrProtocolViolation, "mapi: data block line is not a result line")
	}
	if db.count >= len(db.rows) {
		return errors.New("mapi: data block overrun")
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	db.rows[db.count] = cp
	db.count++
	return nil
}

// getRow parses and returns row `line`, reclaiming the slot afterward if
// this block is forward-only.
func (db *DataBlock) getRow(line, columnCount int) ([]TupleValue, error) {
	if line < 0 || line >= len(db.rows) {
		return nil, errors.New("mapi: row index out of range")
	}
	raw := db.rows[line]
	if raw == nil {
		return nil, errors.New("mapi: row slot already reclaimed (forward-only cursor)")
	}
	lt := LineResult
	if len(raw) > 0 && raw[0] == '=' {
		lt = LineResultSingleton
	}
	values, err := parseTupleLine(raw, lt, columnCount)
	if err != nil {
		return nil, err
	}
	if db.forwardOnly {
		db.rows[line] = nil
	}
	return values, nil
}

// ResultSetResponse is the cursor-like object a ResultSet Response exposes
// to callers (spec §3, §4.9).
type ResultSetResponse struct {
	ID          int
	ColumnCount int
	TupleCount  int

	Names         []string
	Types         []string
	TableNames    []string
	ColumnLengths []int
	Precisions    []int
	Scales        []int

	CacheSize         int
	cacheSizeExplicit bool
	BlockOffset       int
	ForwardOnly       bool
	DestroyOnClose    bool

	resultBlocks  []*DataBlock
	pendingBlock  *DataBlock
	seqnrAtCreate uint64
	headerSeen    map[HeaderField]bool

	requester blockRequester
	closed    bool
}

func newResultSetResponse(rec *SOHeaderRecord, forwardOnly bool, cacheSize int, seqnr uint64) (*ResultSetResponse, error) {
	if len(rec.Ints) != 4 {
		return nil, &ParseError{Msg: "malformed table/prepare start-of-header", Offset: 0}
	}
	id, tupleCount, columnCount, rowCount := rec.Ints[0], rec.Ints[1], rec.Ints[2], rec.Ints[3]
	if cacheSize <= 0 {
		cacheSize = DefaultFetchSize
	}

	nBlocks := 0
	if cacheSize > 0 && tupleCount > 0 {
		nBlocks = (tupleCount + cacheSize - 1) / cacheSize
	}

	rs := &ResultSetResponse{
		ID:             id,
		TupleCount:     tupleCount,
		ColumnCount:    columnCount,
		CacheSize:      cacheSize,
		ForwardOnly:    forwardOnly,
		DestroyOnClose: id > 0 && rowCount < tupleCount,
		resultBlocks:   make([]*DataBlock, nBlocks),
		seqnrAtCreate:  seqnr,
		headerSeen:     make(map[HeaderField]bool, 4),
	}

	firstSize := rowCount
	if firstSize > tupleCount {
		firstSize = tupleCount
	}
	rs.pendingBlock = newDataBlock(firstSize, 0, forwardOnly)
	if len(rs.resultBlocks) > 0 {
		rs.resultBlocks[0] = rs.pendingBlock
	}
	return rs, nil
}

// SetCacheSize lets a caller override the block-fetch size before
// adaptive prefetch has had a chance to grow it; doing so disables the
// growth heuristic (spec §4.9 precondition "cacheSize was not set
// explicitly by the caller").
func (rs *ResultSetResponse) SetCacheSize(n int) {
	if n <= 0 {
		return
	}
	rs.CacheSize = n
	rs.cacheSizeExplicit = true
}

func (rs *ResultSetResponse) ingest(line []byte, lt LineType) error {
	switch lt {
	case LineHeader:
		hl, err := parseHeaderLine(line)
		if err != nil {
			return err
		}
		switch hl.Field {
		case HeaderName:
			rs.Names = hl.Raw
		case HeaderType:
			rs.Types = hl.Raw
		case HeaderTableName:
			rs.TableNames = hl.Raw
		case HeaderLength:
			rs.ColumnLengths = hl.Ints
		case HeaderTypeSizes:
			rs.Precisions = make([]int, len(hl.TypeSizes))
			rs.Scales = make([]int, len(hl.TypeSizes))
			for i, p := range hl.TypeSizes {
				rs.Precisions[i] = p[0]
				rs.Scales[i] = p[1]
			}
		}
		rs.headerSeen[hl.Field] = true
		return nil
	case LineResult, LineResultSingleton:
		if rs.pendingBlock == nil {
			return errors.New("mapi: result line before any data block was opened")
		}
		return rs.pendingBlock.addLine(line, lt)
	default:
		return ErrProtocolViolation
	}
}

// wantsMore reports whether this ResultSet is still being populated: all
// four metadata header lines must have arrived and the first DataBlock
// must be full (spec §4.9 "Completion").
func (rs *ResultSetResponse) wantsMore() bool {
	required := []HeaderField{HeaderName, HeaderType, HeaderTableName, HeaderLength}
	for _, f := range required {
		if !rs.headerSeen[f] {
			return true
		}
	}
	if rs.pendingBlock != nil && !rs.pendingBlock.full() {
		return true
	}
	return false
}

// attach binds the requester (normally the owning Connection) used for
// export/close/release control commands.
func (rs *ResultSetResponse) attach(r blockRequester) {
	rs.requester = r
}

// GetRow returns the n'th tuple (0-indexed), fetching and growing the
// block cache as needed (spec §4.9).
func (rs *ResultSetResponse) GetRow(n int) ([]TupleValue, error) {
	if rs.closed {
		return nil, ErrClosed
	}
	if n < 0 || n >= rs.TupleCount {
		return nil, errors.Errorf("mapi: row index %d out of range [0,%d)", n, rs.TupleCount)
	}

	block := (n - rs.BlockOffset) / rs.CacheSize
	line := (n - rs.BlockOffset) % rs.CacheSize

	if rs.eligibleForPrefetchGrowth(n) {
		rs.BlockOffset += rs.CacheSize
		rs.CacheSize *= 10
		rs.resultBlocks = rs.resultBlocks[:0]
		block = (n - rs.BlockOffset) / rs.CacheSize
		line = (n - rs.BlockOffset) % rs.CacheSize
	}

	if block >= len(rs.resultBlocks) {
		grown := make([]*DataBlock, block+1)
		copy(grown, rs.resultBlocks)
		rs.resultBlocks = grown
	}

	if rs.resultBlocks[block] == nil {
		db, err := rs.requester.requestBlock(rs.ID, block*rs.CacheSize+rs.BlockOffset, rs.CacheSize, rs.ForwardOnly)
		if err != nil {
			return nil, err
		}
		rs.resultBlocks[block] = db
	}

	if rs.ForwardOnly {
		for i := 0; i < block; i++ {
			if i < len(rs.resultBlocks) {
				rs.resultBlocks[i] = nil
			}
		}
	}

	return rs.resultBlocks[block].getRow(line, rs.ColumnCount)
}

// eligibleForPrefetchGrowth implements spec §4.9's forward-only adaptive
// prefetch precondition exactly: no later statement has executed anywhere
// in this process (the seqnr counter is process-wide, not per connection)
// since the ResultSet was created, the cache size was never
// set explicitly, there are more than one cache-size's worth of tuples
// left, and growth hasn't already hit the 10x-DEFAULT_FETCHSIZE ceiling.
func (rs *ResultSetResponse) eligibleForPrefetchGrowth(n int) bool {
	if !rs.ForwardOnly || rs.cacheSizeExplicit {
		return false
	}
	if globalSeqCounter.current() != rs.seqnrAtCreate {
		return false
	}
	if n < rs.BlockOffset+rs.CacheSize {
		// still inside the already-fetched window; growth only makes
		// sense the moment the cursor steps past it
		return false
	}
	remaining := rs.TupleCount - n
	if remaining <= rs.CacheSize {
		return false
	}
	return rs.CacheSize < 10*DefaultFetchSize
}

// Close tears down this ResultSet. If the server kept a cursor open past
// the first batch (DestroyOnClose), a "close <id>" control command is
// sent; failures there are swallowed (best effort, spec §4.9).
func (rs *ResultSetResponse) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	if rs.DestroyOnClose && rs.requester != nil {
		_ = rs.requester.closeResultSet(rs.ID)
	}
	return nil
}

// Release asks the server to keep this ResultSet's cursor open past the
// current statement instead of destroying it (the "release <id>" control
// command named in spec §6 but never bound to an operation in spec.md's
// data model; see SPEC_FULL.md's supplemental-features list).
func (rs *ResultSetResponse) Release() error {
	if rs.closed || rs.requester == nil {
		return ErrClosed
	}
	return rs.requester.releaseResultSet(rs.ID)
}

// ResponseList owns the ordered sequence of Responses produced by a
// single execute() call (spec §3).
type ResponseList struct {
	CacheSize  int
	MaxRows    int
	ForwardOnly bool
	SeqNr      uint64

	Responses []*Response
	rsByID    map[int]*ResultSetResponse
	current   int
}

func newResponseList(cacheSize, maxRows int, forwardOnly bool) *ResponseList {
	return &ResponseList{
		CacheSize:   cacheSize,
		MaxRows:     maxRows,
		ForwardOnly: forwardOnly,
		SeqNr:       globalSeqCounter.next(),
		rsByID:      make(map[int]*ResultSetResponse),
	}
}

// Next returns the next Response in server emission order, or nil when
// the list is exhausted (spec §4.8 "Ordering guarantee").
func (rl *ResponseList) Next() *Response {
	if rl.current >= len(rl.Responses) {
		return nil
	}
	r := rl.Responses[rl.current]
	rl.current++
	return r
}

func (rl *ResponseList) append(r *Response) {
	rl.Responses = append(rl.Responses, r)
	if r.Kind == ResponseResultSet {
		rl.rsByID[r.ResultSet.ID] = r.ResultSet
	}
}

// byID looks up an open ResultSet by id, for dispatching a Block response
// that arrives asynchronously relative to rl.Responses (spec §4.8: "Block
// responses are NOT added to responses; they are dispatched... via
// rsById").
func (rl *ResponseList) byID(id int) (*ResultSetResponse, bool) {
	rs, ok := rl.rsByID[id]
	return rs, ok
}

// Close closes every ResultSet this list produced.
func (rl *ResponseList) Close() error {
	var firstErr error
	for _, r := range rl.Responses {
		if r.Kind == ResponseResultSet {
			if err := r.ResultSet.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
