package mapi

import "github.com/pkg/errors"

// ResponseKind tags the variant carried by a Response (spec §9: "express as
// a tagged sum {ResultSet, Update, Schema, AutoCommit, DataBlock} with a
// single ingest operation").
type ResponseKind int

const (
	ResponseResultSet ResponseKind = iota
	ResponseUpdate
	ResponseSchema
	ResponseAutoCommit
	ResponseDataBlock
)

// UpdateResponse is the result of an INSERT/UPDATE/DELETE statement (spec
// §3).
type UpdateResponse struct {
	Count  int64
	LastID int64
}

// SchemaResponse is a stateless success marker for DDL statements (spec
// §3).
type SchemaResponse struct{}

// AutoCommitResponse reports a server-side autocommit state change (spec
// §3).
type AutoCommitResponse struct {
	NewAutoCommit bool
}

// Response is the tagged sum every line the Protocol Engine dispatches
// eventually belongs to. Only one of the pointer fields matching Kind is
// non-nil.
type Response struct {
	Kind       ResponseKind
	ResultSet  *ResultSetResponse
	Update     *UpdateResponse
	Schema     *SchemaResponse
	AutoCommit *AutoCommitResponse
}

// ingest feeds one classified line into the response, reporting whether
// more lines are expected before this response is complete (spec §4.8:
// "ingest_lines(...) which pulls Header or Result lines until
// wants_more() is false").
func (r *Response) ingest(line []byte, lt LineType) (wantsMore bool, err error) {
	switch r.Kind {
	case ResponseResultSet:
		if err := r.ResultSet.ingest(line, lt); err != nil {
			return false, err
		}
		return r.ResultSet.wantsMore(), nil
	case ResponseUpdate, ResponseSchema, ResponseAutoCommit:
		return false, errors.New("mapi: unexpected line after a complete response")
	default:
		return false, ErrProtocolViolation
	}
}

func newUpdateResponse(rec *SOHeaderRecord) (*Response, error) {
	if len(rec.Ints) != 2 {
		return nil, &ParseError{Msg: "malformed update start-of-header", Offset: 0}
	}
	return &Response{Kind: ResponseUpdate, Update: &UpdateResponse{
		Count:  int64(rec.Ints[0]),
		LastID: int64(rec.Ints[1]),
	}}, nil
}

func newSchemaResponse() *Response {
	return &Response{Kind: ResponseSchema, Schema: &SchemaResponse{}}
}

func newAutoCommitResponse(rec *SOHeaderRecord) *Response {
	return &Response{Kind: ResponseAutoCommit, AutoCommit: &AutoCommitResponse{NewAutoCommit: rec.AutoCommit}}
}
