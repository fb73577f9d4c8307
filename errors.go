// Package mapi is a client-side driver for MonetDB's MAPI line-oriented block
// protocol: block framing, the text sub-protocol, challenge/response
// authentication, redirect handling, and the response/result-cache state
// machine that backs a cursor-like interface for callers.
package mapi

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the kinds of failure that are not worth carrying
// structured fields for. Fatal kinds close the connection before
// propagating; recoverable kinds flush to the next prompt first.
var (
	ErrConnectionLost   = errors.New("mapi: connection lost")
	ErrTimeout          = errors.New("mapi: read timeout")
	ErrClosed           = errors.New("mapi: operation on closed connection")
	ErrBusyBuffer       = errors.New("mapi: buffer is in use")
	ErrProtocolViolation = errors.New("mapi: protocol violation")
	ErrUnsupportedProto = errors.New("mapi: unsupported protocol version")
	ErrUnknownByteOrder = errors.New("mapi: unknown server byte order")
	ErrUnknownHashAlgo  = errors.New("mapi: unsupported hash algorithm")
	ErrNoCommonHash     = errors.New("mapi: no common challenge hash algorithm")
	ErrRedirectLoop     = errors.New("mapi: redirect loop (ttl exhausted)")
)

// ParseError is a local parse failure within a single line; it carries the
// byte offset at which parsing failed so callers can report it usefully.
type ParseError struct {
	Msg    string
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mapi: parse error at offset %d: %s", e.Offset, e.Msg)
}

// SQLError is a server-reported error: a SQLSTATE code plus message. The
// connection remains usable after a SQLError (spec §7).
type SQLError struct {
	SQLState string
	Message  string
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("%s!%s", e.SQLState, e.Message)
}

// RedirectedError is raised when the server sent redirects but the
// connection is configured not to follow them (spec §4.7).
type RedirectedError struct {
	URIs []string
}

func (e *RedirectedError) Error() string {
	return fmt.Sprintf("mapi: redirected to %d target(s) (follow_redirects=false): %v", len(e.URIs), e.URIs)
}

// AuthError wraps the server's rejection of a login attempt.
type AuthError struct {
	Reason error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mapi: authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Reason }

// genericDataException is the SQLSTATE prefix substituted for malformed
// error lines per spec §4.2.
const genericDataException = "22000"
