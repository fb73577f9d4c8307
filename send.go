package mapi

import (
	"context"
	"runtime"
)

// sendPipeline owns the write side of a Connection (spec §4.10, §5). Small
// queries are written inline on the caller's goroutine; queries longer
// than one block payload (inlineWriteThreshold) are handed to a dedicated writer
// goroutine so a server that blocks on write while its own send buffer
// fills (because it is still producing output from a previous statement)
// cannot deadlock against this side's blocking write — the same hazard the
// teacher's readLoop/writeLoop split exists to avoid, just triggered here
// by payload size instead of protocol pipelining.
type sendPipeline struct {
	conn *Connection

	writeReq  chan []byte
	writeRes  chan error
	closech   chan struct{}
	startOnce bool
}

// inlineWriteThreshold is the payload size under which send() writes
// directly rather than handing off to the background writer. A query
// worth dedicating a goroutine and two channels to is, by definition, one
// spanning multiple 8190-byte blocks.
const inlineWriteThreshold = maxBlockPayload

func newSendPipeline(conn *Connection) *sendPipeline {
	return &sendPipeline{conn: conn}
}

// ensureWriter lazily starts the background writer goroutine the first
// time an oversize query needs it.
func (sp *sendPipeline) ensureWriter() {
	if sp.startOnce {
		return
	}
	sp.startOnce = true
	sp.writeReq = make(chan []byte)
	sp.writeRes = make(chan error)
	sp.closech = make(chan struct{})
	go sp.writeLoop()
}

func (sp *sendPipeline) writeLoop() {
	for {
		var data []byte
		select {
		case data = <-sp.writeReq:
		case <-sp.closech:
			return
		}
		err := sp.conn.transport.writeBlocks(data)
		select {
		case sp.writeRes <- err:
		case <-sp.closech:
			return
		}
	}
}

// send writes one complete logical message (already framed by the caller
// into prefix+body+suffix via blockTransport.writeLine, or a raw blob from
// the caller) to the server, routing through the background writer when
// the payload is large enough that write() could block (spec §5: "the
// driver must never let a large outbound write block behind the server's
// own write to a full socket buffer").
func (sp *sendPipeline) send(ctx context.Context, data []byte) error {
	if len(data) <= inlineWriteThreshold {
		return sp.conn.transport.writeBlocks(data)
	}

	sp.ensureWriter()

	select {
	case sp.writeReq <- data:
	case <-ctx.Done():
		return ctx.Err()
	case <-sp.closech:
		return ErrClosed
	}

	select {
	case err := <-sp.writeRes:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-sp.closech:
		return ErrClosed
	}
}

func (sp *sendPipeline) close() {
	if sp.closech != nil {
		select {
		case <-sp.closech:
		default:
			close(sp.closech)
		}
	}
}

// watchContext bridges a context.Context to a blocking call on the
// Connection, the same shape as the teacher's watchCancel/startWatcher
// pair: a background watcher goroutine is started once per Connection and
// fed a cancellation request per call, so a single long-lived goroutine
// services every context-aware operation instead of spawning one per
// call.
type watchContext struct {
	ctx  context.Context
	done chan struct{}
}

func (c *Connection) startWatcher() {
	ch := make(chan watchContext, runtime.GOMAXPROCS(0))
	c.watcherReq = ch
	go func() {
		for wc := range ch {
			select {
			case <-wc.ctx.Done():
				c.abort()
			case <-wc.done:
			case <-c.closech:
				return
			}
		}
	}()
}

// watchCancel registers ctx with the watcher goroutine and returns a
// channel the caller must close when its blocking call finishes normally,
// so the watcher stops waiting on ctx.Done() for this call.
func (c *Connection) watchCancel(ctx context.Context) (chan<- struct{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if c.watcherReq == nil {
		return make(chan struct{}), nil
	}
	done := make(chan struct{})
	select {
	case c.watcherReq <- watchContext{ctx: ctx, done: done}:
	default:
		return nil, ErrBusyBuffer
	}
	return done, nil
}
