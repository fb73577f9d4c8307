package mapi

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Connection is a single MAPI session: it exclusively owns the Block
// Transport, the Authenticator's negotiated state, the Protocol Engine,
// and the Send Pipeline (spec §3 "Ownership"); it does not keep track of
// the ResponseLists that Execute returns. At most one execute may be in
// flight at a time (spec §5); Execute and the control-command methods
// serialize on mu the same way the teacher serializes every command
// behind its connection mutex. Close does not take mu.
type Connection struct {
	id uuid.UUID

	cfg       *Config
	transport *blockTransport
	protocol  *protocolEngine
	send      *sendPipeline

	watcherReq chan watchContext
	closech    chan struct{}
	closed     atomicBool

	mu           sync.Mutex
	curReplySize int
	autoCommit   bool
	warnings     []string
	lastErr      error
}

// Connect dials host:port, runs the MAPI challenge/response handshake
// (spec §4.6), and follows any server redirects (spec §4.7). Each redirect
// decrements the TTL and the one that brings it to zero fails with
// ErrRedirectLoop, so at most cfg.TTL-1 redirects are followed. The
// returned Connection is ready for Execute.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	return connectInternal(ctx, cfg, cfg.TTL)
}

func connectInternal(ctx context.Context, cfg *Config, ttl int) (*Connection, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "mapi: dial %s", addr)
	}

	c := &Connection{
		id:         uuid.New(),
		cfg:        cfg,
		transport:  newBlockTransport(nc),
		closech:    make(chan struct{}),
		autoCommit: true,
	}
	c.protocol = &protocolEngine{conn: c}
	c.send = newSendPipeline(c)
	c.startWatcher()

	if cfg.ReadTimeout > 0 {
		c.transport.setReadTimeout(cfg.ReadTimeout)
	}
	_ = c.transport.setTCPNoDelay(true)

	final, err := c.handshake(ctx, ttl)
	if err != nil {
		c.abort()
		return nil, err
	}
	return final, nil
}

// handshake parses the unsolicited challenge, sends the computed login
// response, then resolves whatever the server sends back before its next
// prompt: a clean prompt (success, returns c itself), one or more Error
// lines (Auth failure), or one or more Redirect lines (spec §4.7). A
// monetdb:// redirect abandons c and dials a brand-new Connection rather
// than mutating c in place, so no Connection (with its mutex and
// no-copy atomic flags) is ever copied by value.
func (c *Connection) handshake(ctx context.Context, ttl int) (*Connection, error) {
	raw, err := c.transport.readLine()
	if err != nil {
		return nil, err
	}
	challenge, err := parseChallenge(string(raw))
	if err != nil {
		return nil, err
	}
	c.transport.setByteOrder(challenge.ByteOrder)

	resp, err := buildAuthResponse(c.cfg, challenge)
	if err != nil {
		return nil, err
	}
	if err := c.transport.writeLine("", resp.Wire, "\n"); err != nil {
		return nil, err
	}

	infos, redirects, sqlErrs, err := c.protocol.collectLogin()
	c.warnings = append(c.warnings, infos...)
	if err != nil {
		return nil, err
	}
	if len(sqlErrs) > 0 {
		return nil, &AuthError{Reason: combineErrors(sqlErrs)}
	}
	if len(redirects) > 0 {
		return c.followRedirects(ctx, redirects, ttl)
	}
	return c, nil
}

// followRedirects implements spec §4.7. monetdb:// redirects tear down
// the current transport and recursively dial the new target, reusing the
// caller's credentials; merovingian:// redirects keep the socket and
// re-run the handshake in place with credentials overridden to
// "merovingian" (buildAuthResponse already does that override whenever
// challenge.ServerName == "merovingian").
func (c *Connection) followRedirects(ctx context.Context, redirects []string, ttl int) (*Connection, error) {
	if !c.cfg.FollowRedirects {
		return nil, &RedirectedError{URIs: redirects}
	}
	ttl--
	if ttl <= 0 {
		return nil, ErrRedirectLoop
	}

	target, err := parseRedirectURI(redirects[0])
	if err != nil {
		return nil, err
	}
	for _, w := range target.Warnings {
		c.warnings = append(c.warnings, w)
	}
	// spec §4.7: "warn if differs" — the redirect's user=/password= only
	// gets a warning when it actually disagrees with the credentials
	// already configured; a redirect that merely echoes them back is not
	// a surprise worth logging.
	if target.OverrideUser != "" && target.OverrideUser != c.cfg.User {
		c.warnings = append(c.warnings, "redirect supplied user="+target.OverrideUser+"; ignored, caller credentials win")
	}
	if target.OverridePassword != "" && target.OverridePassword != c.cfg.Password {
		c.warnings = append(c.warnings, "redirect supplied password=...; ignored, caller credentials win")
	}

	switch target.Scheme {
	case "monetdb":
		next := *c.cfg
		if target.Host != "" {
			next.Host = target.Host
		}
		if target.Port != 0 {
			next.Port = target.Port
		}
		if target.Database != "" {
			next.Database = target.Database
		}
		if target.Language != "" {
			next.Language = ParseLanguage(target.Language)
		}
		c.abort()
		return connectInternal(ctx, &next, ttl)
	case "merovingian":
		if target.Database != "" {
			c.cfg.Database = target.Database
		}
		if target.Language != "" {
			c.cfg.Language = ParseLanguage(target.Language)
		}
		return c.handshake(ctx, ttl)
	default:
		return nil, &ParseError{Msg: "unhandled redirect scheme " + target.Scheme, Offset: 0}
	}
}

func combineErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	var merr *multierrorList
	for _, e := range errs {
		merr = merr.append(e)
	}
	return merr
}

// multierrorList is a tiny fmt.Stringer-style chain used only to combine
// the handful of SQLErrors a failed handshake can produce; execute()'s
// much larger error-accumulation path uses go-multierror directly (spec
// §7 "the union is thrown as Auth").
type multierrorList struct {
	errs []error
}

func (m *multierrorList) append(e error) *multierrorList {
	if m == nil {
		m = &multierrorList{}
	}
	m.errs = append(m.errs, e)
	return m
}

func (m *multierrorList) Error() string {
	if m == nil || len(m.errs) == 0 {
		return "mapi: authentication rejected"
	}
	s := m.errs[0].Error()
	for _, e := range m.errs[1:] {
		s += "; " + e.Error()
	}
	return s
}

// Execute runs one statement and returns its ResponseList (spec §4.8).
// Only one Execute may be in flight per Connection at a time: Execute
// holds the Connection's mutex for the whole statement, so a concurrent
// Execute (or control command) on the same Connection waits until the
// running one has read its prompt (spec §5).
func (c *Connection) Execute(ctx context.Context, query string) (*ResponseList, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	done, err := c.watchCancel(ctx)
	if err != nil {
		return nil, err
	}
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()

	cacheSize := c.cfg.effectiveFetchSize()
	desired := c.cfg.replySize(cacheSize)
	if desired != c.curReplySize && c.cfg.Language == LanguageSQL {
		if err := c.sendControl(ctx, fmt.Sprintf("reply_size %d", desired)); err != nil {
			c.abort()
			return nil, err
		}
		c.curReplySize = desired
	}

	if err := c.send.send(ctx, []byte(query+"\n")); err != nil {
		c.abort()
		return nil, err
	}

	// forwardOnly=true: the core never exposes scrollable cursors of its
	// own accord (spec §6's rsType/rsConcur live on the facade layer this
	// spec's core hands ResultSetResponse to); dispatchSOHeader attaches
	// each new ResultSetResponse to this Connection as its blockRequester.
	rl, err := c.protocol.execute(cacheSize, c.cfg.MaxRows, true)
	if err != nil {
		if isFatalKind(err) {
			c.abort()
		} else {
			c.lastErr = err
		}
	}
	return rl, err
}

// isFatalKind reports whether err is one of the fatal error kinds that
// must close the connection before surfacing (spec §7): Io, Timeout,
// Auth, RedirectLoop. Protocol/Parse/Sql are recoverable and leave the
// connection usable.
func isFatalKind(err error) bool {
	switch {
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrTimeout), errors.Is(err, ErrRedirectLoop):
		return true
	case errors.Is(err, ErrProtocolViolation):
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	switch err.(type) {
	case *ParseError, *SQLError:
		return false
	case *AuthError:
		return true
	}
	return false
}

// sendControl writes a single "X"-prefixed control-command line (spec
// §6) and drains it to the next prompt, returning any SQLError the
// server reported.
func (c *Connection) sendControl(ctx context.Context, cmd string) error {
	if err := c.send.send(ctx, []byte("X"+cmd+"\n")); err != nil {
		return err
	}
	infos, err := c.protocol.waitUntilPrompt()
	c.warnings = append(c.warnings, infos...)
	return err
}

// requestBlock implements blockRequester for ResultSetResponse.GetRow:
// it issues "export <id> <offset> <count>" and reads the resulting Block
// SOHeader plus its Result lines into a fresh DataBlock (spec §4.9).
func (c *Connection) requestBlock(id, offset, count int, forwardOnly bool) (*DataBlock, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	if err := c.send.send(ctx, []byte(fmt.Sprintf("Xexport %d %d %d\n", id, offset, count))); err != nil {
		c.abort()
		return nil, err
	}
	db, err := c.protocol.readBlock(offset, forwardOnly)
	if err != nil && isFatalKind(err) {
		c.abort()
	}
	return db, err
}

// closeResultSet sends "close <id>" best-effort (spec §4.9: "errors on
// the close command are swallowed").
func (c *Connection) closeResultSet(id int) error {
	if c.closed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sendControl(context.Background(), fmt.Sprintf("close %d", id))
	return nil
}

// releaseResultSet sends "release <id>" (spec §6), propagating any error
// rather than swallowing it — unlike Close, Release is an explicit
// caller request and its failure is actionable.
func (c *Connection) releaseResultSet(id int) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendControl(context.Background(), fmt.Sprintf("release %d", id))
}

// SetAutoCommit sends "auto_commit 0|1" (spec §6).
func (c *Connection) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag := 0
	if on {
		flag = 1
	}
	if err := c.sendControl(ctx, fmt.Sprintf("auto_commit %d", flag)); err != nil {
		return err
	}
	c.autoCommit = on
	return nil
}

// AutoCommit reports the last known autocommit state.
func (c *Connection) AutoCommit() bool { return c.autoCommit }

// Warnings returns the Info lines and redirect warnings (unrecognized or
// ignored redirect parameters) accumulated since the last ClearWarnings
// call (spec §7: "warnings... accumulated on the connection and
// retrievable out-of-band"). A database or language change made by a
// redirect is not recorded here.
func (c *Connection) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// ClearWarnings discards the accumulated warning log, mirroring the
// teacher's mc.status flag-clearing discipline after a caller has
// consumed them.
func (c *Connection) ClearWarnings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = nil
}

// LastError returns the most recent recoverable (Protocol/Parse/Sql)
// error seen on this connection, or nil. Fatal errors are returned
// directly from the call that caused them and close the connection, so
// they are never stashed here (spec §7).
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ID returns the diagnostic identifier assigned at Connect time; never
// sent on the wire, only used for log correlation.
func (c *Connection) ID() string { return c.id.String() }

// abort tears down the transport and send pipeline without attempting
// any further protocol exchange (spec §7: fatal kinds "mark the
// connection closed before surfacing").
func (c *Connection) abort() {
	if c.closed.Swap(true) {
		return
	}
	c.transport.abort()
	c.send.close()
	select {
	case <-c.closech:
	default:
		close(c.closech)
	}
}

// Close gracefully tears down the connection. It is safe to call more
// than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.transport.close()
	c.send.close()
	select {
	case <-c.closech:
	default:
		close(c.closech)
	}
	return err
}
