package mapi

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// protocolEngine drives the read side of a Connection: it classifies each
// decoded line, dispatches it into the right Response, and tracks how much
// reply data the server still owes the current statement (spec §4.8).
type protocolEngine struct {
	conn *Connection
}

// waitUntilPrompt drains lines until a "." prompt is seen, collecting any
// Info lines and accumulating Error lines into a multierror (spec §4.8:
// "wait_until_prompt"). It is used after sending a command whose response
// carries only side effects (e.g. a control command); the login exchange
// uses collectLogin instead.
func (pe *protocolEngine) waitUntilPrompt() ([]string, error) {
	var infos []string
	var merr *multierror.Error

	for {
		line, err := pe.conn.transport.readLine()
		if err != nil {
			return infos, err
		}
		lt, norm := classifyLine(line)
		switch lt {
		case LinePrompt:
			return infos, merr.ErrorOrNil()
		case LineInfo:
			infos = append(infos, string(norm[1:]))
		case LineError:
			merr = multierror.Append(merr, parseSQLError(norm))
		case LineRedirect:
			// A bare redirect outside of a login exchange; surface it to
			// the caller rather than silently dropping it.
			merr = multierror.Append(merr, &RedirectedError{URIs: []string{string(norm[1:])}})
		default:
			// Anything else while waiting for a prompt is unexpected but
			// not fatal; ignore it rather than aborting the connection.
		}
	}
}

// drainToPrompt discards lines until the next "." prompt. It is called
// before returning a recoverable Protocol/Parse error so the rest of the
// current response never leaks into the next exchange (spec §4.8 point
// 3: "protocol violation; rewrite as an error line and flush to prompt";
// §7: the Protocol kind "flushes to next prompt... connection remains
// usable"). Only a transport read error aborts the drain early, since at
// that point there is nothing left on the wire to flush.
func (pe *protocolEngine) drainToPrompt() error {
	for {
		line, err := pe.conn.transport.readLine()
		if err != nil {
			return err
		}
		if lt, _ := classifyLine(line); lt == LinePrompt {
			return nil
		}
	}
}

// flushErr drains the remaining lines of the current response to the
// next prompt and returns base, unless the drain itself hits a
// transport error — in which case that error (the connection is dead)
// takes priority.
func (pe *protocolEngine) flushErr(base error) error {
	if err := pe.drainToPrompt(); err != nil {
		return err
	}
	return base
}

// collectLogin drains lines after a login response until the next prompt,
// keeping Info, Redirect, and Error lines in separate buckets rather than
// folding them into one merged error (spec §4.7: "If any Error lines
// appear, the union is thrown as Auth. If any Redirect lines appear and
// follow_redirects is true: ..." — the two cases need to stay
// distinguishable so the caller can choose between them).
func (pe *protocolEngine) collectLogin() (infos, redirects []string, sqlErrs []error, err error) {
	for {
		line, rerr := pe.conn.transport.readLine()
		if rerr != nil {
			return infos, redirects, sqlErrs, rerr
		}
		lt, norm := classifyLine(line)
		switch lt {
		case LinePrompt:
			return infos, redirects, sqlErrs, nil
		case LineInfo:
			infos = append(infos, string(norm[1:]))
		case LineError:
			sqlErrs = append(sqlErrs, parseSQLError(norm))
		case LineRedirect:
			redirects = append(redirects, string(norm[1:]))
		default:
			return infos, redirects, sqlErrs, pe.flushErr(ErrProtocolViolation)
		}
	}
}

// readBlock reads one server-pushed DataBlock in response to an "export"
// control command: a single Block SOHeader followed by its Result lines,
// ending at the next prompt (spec §4.9, §6). expectedOffset guards
// against a server that answers an export request for the wrong window.
func (pe *protocolEngine) readBlock(expectedOffset int, forwardOnly bool) (*DataBlock, error) {
	var db *DataBlock
	var merr *multierror.Error

	for {
		line, err := pe.conn.transport.readLine()
		if err != nil {
			return nil, err
		}
		lt, norm := classifyLine(line)

		switch lt {
		case LinePrompt:
			if err := merr.ErrorOrNil(); err != nil {
				return nil, err
			}
			if db == nil {
				return nil, ErrProtocolViolation
			}
			return db, nil

		case LineInfo:
			pe.conn.warnings = append(pe.conn.warnings, string(norm[1:]))
			continue

		case LineError:
			merr = multierror.Append(merr, parseSQLError(norm))

		case LineSOHeader:
			rec, err := parseSOHeader(norm)
			if err != nil {
				return nil, pe.flushErr(err)
			}
			if rec.Kind != KindBlock || len(rec.Ints) != 4 {
				return nil, pe.flushErr(ErrProtocolViolation)
			}
			_, _, rowCount, offset := rec.Ints[0], rec.Ints[1], rec.Ints[2], rec.Ints[3]
			if offset != expectedOffset {
				return nil, pe.flushErr(errors.Errorf("mapi: export returned offset %d, expected %d", offset, expectedOffset))
			}
			db = newDataBlock(rowCount, offset, forwardOnly)

		case LineResult, LineResultSingleton:
			if db == nil {
				return nil, pe.flushErr(ErrProtocolViolation)
			}
			if err := db.addLine(norm, lt); err != nil {
				return nil, pe.flushErr(err)
			}

		default:
			return nil, pe.flushErr(ErrProtocolViolation)
		}
	}
}

// execute runs the Protocol Engine's main read loop for one statement: it
// classifies and dispatches lines into a new ResponseList until the "."
// prompt closes the exchange, composing any "!" lines into a single error
// via go-multierror (spec §4.8, §7: "one SQLError per line, merged").
func (pe *protocolEngine) execute(cacheSize, maxRows int, forwardOnly bool) (*ResponseList, error) {
	rl := newResponseList(cacheSize, maxRows, forwardOnly)
	var merr *multierror.Error
	var current *Response

	for {
		line, err := pe.conn.transport.readLine()
		if err != nil {
			return rl, err
		}
		lt, norm := classifyLine(line)

		switch lt {
		case LinePrompt:
			if err := merr.ErrorOrNil(); err != nil {
				return rl, err
			}
			return rl, nil

		case LineMore:
			continue

		case LineInfo:
			pe.conn.cfg.logger().Warn("protocol", map[string]any{"seqnr": rl.SeqNr}, string(norm[1:]))
			pe.conn.warnings = append(pe.conn.warnings, string(norm[1:]))
			continue

		case LineError:
			merr = multierror.Append(merr, parseSQLError(norm))
			current = nil
			continue

		case LineRedirect:
			merr = multierror.Append(merr, &RedirectedError{URIs: []string{string(norm[1:])}})
			continue

		case LineSOHeader:
			rec, err := parseSOHeader(norm)
			if err != nil {
				return rl, pe.flushErr(err)
			}
			r, err := pe.dispatchSOHeader(rec, rl)
			if err != nil {
				return rl, pe.flushErr(err)
			}
			current = r
			if r != nil {
				// A Block SOHeader's Response already lives in rl.Responses
				// under its original Table/Prepare entry; dispatchSOHeader
				// only looked it up via rsById so execute() can keep
				// appending its Result lines. Appending it again here would
				// duplicate the entry, contradicting spec §4.8: "DataBlock
				// responses are NOT added to responses; they are
				// dispatched... via rsById."
				if rec.Kind != KindBlock {
					rl.append(r)
				}
				if r.Kind == ResponseResultSet && !r.ResultSet.wantsMore() {
					current = nil
				}
			}

		case LineHeader, LineResult, LineResultSingleton:
			if current == nil {
				return rl, pe.flushErr(ErrProtocolViolation)
			}
			wantsMore, err := current.ingest(norm, lt)
			if err != nil {
				return rl, pe.flushErr(err)
			}
			if !wantsMore {
				current = nil
			}

		default:
			return rl, pe.flushErr(ErrProtocolViolation)
		}
	}
}

// dispatchSOHeader builds the right Response variant for a start-of-header
// line. KindBlock never reaches here through the normal execute() path —
// DataBlock bodies are requested explicitly via requestBlock and parsed
// directly — but a server that emits one unsolicited is handled by
// attaching it to the already-open ResultSet named by its id (spec §4.8:
// "Block responses are dispatched... via rsById").
func (pe *protocolEngine) dispatchSOHeader(rec *SOHeaderRecord, rl *ResponseList) (*Response, error) {
	switch rec.Kind {
	case KindTable, KindPrepare:
		rs, err := newResultSetResponse(rec, rl.ForwardOnly, rl.CacheSize, rl.SeqNr)
		if err != nil {
			return nil, err
		}
		rs.attach(pe.conn)
		return &Response{Kind: ResponseResultSet, ResultSet: rs}, nil
	case KindUpdate:
		return newUpdateResponse(rec)
	case KindSchema:
		return newSchemaResponse(), nil
	case KindTrans:
		return newAutoCommitResponse(rec), nil
	case KindBlock:
		if len(rec.Ints) < 1 {
			return nil, &ParseError{Msg: "malformed block start-of-header", Offset: 0}
		}
		if rs, ok := rl.byID(rec.Ints[0]); ok {
			return &Response{Kind: ResponseResultSet, ResultSet: rs}, nil
		}
		return nil, ErrProtocolViolation
	default:
		return nil, &ParseError{Msg: "unrecognized start-of-header kind", Offset: 1}
	}
}

// parseSQLError turns a normalized "!SQLSTATE!message" line into a
// *SQLError (spec §4.2, §7).
func parseSQLError(line []byte) *SQLError {
	rest := line[1:]
	if len(rest) < 6 || rest[5] != '!' {
		return &SQLError{SQLState: genericDataException, Message: string(rest)}
	}
	return &SQLError{SQLState: string(rest[:5]), Message: string(rest[6:])}
}
