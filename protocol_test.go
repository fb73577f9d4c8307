package mapi

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPipeConnection wires a Connection's blockTransport to one end of an
// in-memory net.Pipe, handing the test the other end to script server
// behavior on, without touching the network.
func newPipeConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := &Connection{
		cfg:        NewConfig("host", 50000, "demo", "monetdb", "monetdb"),
		transport:  newBlockTransport(client),
		closech:    make(chan struct{}),
		autoCommit: true,
	}
	c.protocol = &protocolEngine{conn: c}
	c.send = newSendPipeline(c)
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	return c, server
}

// writeServerBlock frames payload as a single MAPI block (spec §4.1) and
// writes it to conn, failing the test on any write error.
func writeServerBlock(t *testing.T, conn net.Conn, payload string, last bool) {
	t.Helper()
	data := []byte(payload)
	h := len(data) << 1
	if last {
		h |= 1
	}
	hdr := []byte{byte(h), byte(h >> 8)}
	_, err := conn.Write(hdr)
	require.NoError(t, err)
	if len(data) > 0 {
		_, err = conn.Write(data)
		require.NoError(t, err)
	}
}

func TestProtocolEngineExecuteSimpleSelect(t *testing.T) {
	c, server := newPipeConnection(t)

	go writeServerBlock(t, server,
		"&1 7 1 1 1\n"+
			"% sys.t # table_name\n"+
			"% a # name\n"+
			"% int # type\n"+
			"% 4 # length\n"+
			"[ 1\t]\n"+
			".\n",
		true)

	rl, err := c.protocol.execute(250, 0, true)
	require.NoError(t, err)
	require.Len(t, rl.Responses, 1)

	resp := rl.Responses[0]
	require.Equal(t, ResponseResultSet, resp.Kind)
	assert.Equal(t, 1, resp.ResultSet.TupleCount)
	assert.Equal(t, []string{"a"}, resp.ResultSet.Names)

	values, err := resp.ResultSet.GetRow(0)
	require.NoError(t, err)
	assert.Equal(t, "1", values[0].Value)
}

func TestProtocolEngineExecuteUpdateWithGeneratedKey(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "&2 1 42\n.\n", true)

	rl, err := c.protocol.execute(250, 0, true)
	require.NoError(t, err)
	require.Len(t, rl.Responses, 1)
	assert.Equal(t, ResponseUpdate, rl.Responses[0].Kind)
	assert.Equal(t, int64(1), rl.Responses[0].Update.Count)
	assert.Equal(t, int64(42), rl.Responses[0].Update.LastID)
}

func TestProtocolEngineExecuteSQLError(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "!42000!syntax error near 'SELECT'\n.\n", true)

	_, err := c.protocol.execute(250, 0, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestProtocolEngineExecuteSchemaResponse(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "&3\n.\n", true)

	rl, err := c.protocol.execute(250, 0, true)
	require.NoError(t, err)
	require.Len(t, rl.Responses, 1)
	assert.Equal(t, ResponseSchema, rl.Responses[0].Kind)
}

func TestProtocolEngineWaitUntilPromptCollectsInfoAndError(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "#note: auto_commit now off\n!42000!bad value\n.\n", true)

	infos, err := c.protocol.waitUntilPrompt()
	require.Error(t, err)
	assert.Equal(t, []string{"note: auto_commit now off"}, infos)
	assert.Contains(t, err.Error(), "bad value")
}

func TestProtocolEngineReadBlockRejectsOffsetMismatch(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "&6 7 1 250 999\n.\n", true)

	_, err := c.protocol.readBlock(250, true)
	require.Error(t, err)
}

func TestProtocolEngineReadBlockSuccess(t *testing.T) {
	c, server := newPipeConnection(t)
	go writeServerBlock(t, server, "&6 7 1 2 250\n[ 1\t]\n[ 2\t]\n.\n", true)

	db, err := c.protocol.readBlock(250, true)
	require.NoError(t, err)
	values, err := db.getRow(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", values[0].Value)
}

// TestProtocolEngineExecuteDrainsRemainingLinesOnProtocolViolation covers
// spec §4.8 point 3 / §7: a malformed line mid-response must flush the
// rest of that response to the next prompt before the error surfaces, so
// the connection stays in sync for the call after it (isFatalKind treats
// ErrProtocolViolation as non-fatal, so there is always a "next call").
func TestProtocolEngineExecuteDrainsRemainingLinesOnProtocolViolation(t *testing.T) {
	c, server := newPipeConnection(t)

	go writeServerBlock(t, server,
		"not-a-valid-line\n"+
			"also garbage, still part of the same broken response\n"+
			".\n",
		true)

	_, err := c.protocol.execute(250, 0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	// Without the drain, this second call would read the stray lines left
	// over from the broken response above instead of its own.
	go writeServerBlock(t, server, "&3\n.\n", true)

	rl, err := c.protocol.execute(250, 0, true)
	require.NoError(t, err)
	require.Len(t, rl.Responses, 1)
	assert.Equal(t, ResponseSchema, rl.Responses[0].Kind)
}

// TestProtocolEngineExecuteDoesNotDuplicateBlockSOHeaderAppend covers spec
// §4.8: "DataBlock responses are NOT added to responses; they are
// dispatched... via rsById" — an unsolicited Block SOHeader referencing an
// already-open ResultSet must not produce a second rl.Responses entry.
func TestProtocolEngineExecuteDoesNotDuplicateBlockSOHeaderAppend(t *testing.T) {
	c, server := newPipeConnection(t)

	go writeServerBlock(t, server,
		"&1 7 1 1 1\n"+
			"% sys.t # table_name\n"+
			"% a # name\n"+
			"% int # type\n"+
			"% 4 # length\n"+
			"[ 1\t]\n"+
			"&6 7 0 1 0\n"+
			".\n",
		true)

	rl, err := c.protocol.execute(250, 0, true)
	require.NoError(t, err)
	require.Len(t, rl.Responses, 1)
	assert.Equal(t, ResponseResultSet, rl.Responses[0].Kind)
}
