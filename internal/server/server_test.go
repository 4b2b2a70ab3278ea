package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/eternalApril/moonkv/internal/config"
	"github.com/eternalApril/moonkv/internal/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startServer serves a fresh engine on an ephemeral port until the test ends
func startServer(t *testing.T, maxClients int) *Server {
	t.Helper()

	e := setupEngine(t)
	srv := NewServer(e, config.ServerConfig{Host: "127.0.0.1", Port: "0", MaxClients: maxClients}, zap.NewNop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(ShutdownTimeout + time.Second):
			t.Error("server did not stop")
		}
	})

	return srv
}

type testClient struct {
	conn net.Conn
	dec  *resp.Decoder
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return &testClient{conn: conn, dec: resp.NewDecoder(conn)}
}

func (c *testClient) send(t *testing.T, raw string) {
	t.Helper()
	_, err := io.WriteString(c.conn, raw)
	require.NoError(t, err)
}

func (c *testClient) do(t *testing.T, args ...string) resp.Value {
	t.Helper()
	c.send(t, string(resp.SerializeCommand(resp.Command{Name: args[0], Args: makeCommand(args[1:]...)})))
	return c.read(t)
}

func (c *testClient) read(t *testing.T) resp.Value {
	t.Helper()
	v, err := c.dec.Read()
	require.NoError(t, err)
	return v
}

func TestServer_Commands(t *testing.T) {
	srv := startServer(t, 0)
	c := dial(t, srv)

	assert.Equal(t, "PONG", string(c.do(t, "PING").String))
	assert.Equal(t, "OK", string(c.do(t, "SET", "k", "v").String))
	assert.Equal(t, "v", string(c.do(t, "get", "k").String))

	res := c.do(t, "HELLO", "3")
	assert.EqualValues(t, resp.TypeError, res.Type)
	assert.Equal(t, "ERR unknown command 'HELLO'", string(res.String))

	// the connection survives command errors
	assert.Equal(t, int64(1), c.do(t, "EXISTS", "k").Integer)
}

func TestServer_Pipeline(t *testing.T) {
	srv := startServer(t, 0)
	c := dial(t, srv)

	c.send(t, "*3\r\n$5\r\nRPUSH\r\n$1\r\nL\r\n$1\r\na\r\n"+
		"*3\r\n$5\r\nRPUSH\r\n$1\r\nL\r\n$1\r\nb\r\n"+
		"*4\r\n$6\r\nLRANGE\r\n$1\r\nL\r\n$1\r\n0\r\n$2\r\n-1\r\n")

	assert.Equal(t, int64(1), c.read(t).Integer)
	assert.Equal(t, int64(2), c.read(t).Integer)
	assert.Equal(t, []string{"a", "b"}, bulkStrings(c.read(t)))
}

func TestServer_SplitFrame(t *testing.T) {
	srv := startServer(t, 0)
	c := dial(t, srv)

	c.send(t, "*2\r\n$4\r\nEC")
	time.Sleep(20 * time.Millisecond)
	c.send(t, "HO\r\n$2\r\nhi\r\n")

	assert.Equal(t, "hi", string(c.read(t).String))
}

func TestServer_ProtocolError(t *testing.T) {
	srv := startServer(t, 0)
	c := dial(t, srv)

	c.send(t, "+PING\r\n")

	res := c.read(t)
	assert.EqualValues(t, resp.TypeError, res.Type)
	assert.Contains(t, string(res.String), "ERR Protocol error:")

	// the server closes the connection
	_, err := c.dec.Read()
	assert.Error(t, err)
}

func TestServer_Quit(t *testing.T) {
	srv := startServer(t, 0)
	c := dial(t, srv)

	assert.Equal(t, "OK", string(c.do(t, "QUIT").String))

	_, err := c.dec.Read()
	assert.ErrorIs(t, err, io.EOF)

	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_MaxClients(t *testing.T) {
	srv := startServer(t, 1)

	first := dial(t, srv)
	assert.Equal(t, "PONG", string(first.do(t, "PING").String))

	second := dial(t, srv)
	res := second.read(t)
	assert.Equal(t, "ERR max number of clients reached", string(res.String))

	// the first client is not affected
	assert.Equal(t, "PONG", string(first.do(t, "PING").String))
}

func TestServer_MaxClientsBurst(t *testing.T) {
	srv := startServer(t, 2)

	// connect everyone before any client issues a command
	clients := make([]*testClient, 10)
	for i := range clients {
		clients[i] = dial(t, srv)
	}

	pong := 0
	for _, c := range clients {
		// rejected connections may already be closed by the server
		_, _ = io.WriteString(c.conn, "*1\r\n$4\r\nPING\r\n")
		v, err := c.dec.Read()
		if err == nil && string(v.String) == "PONG" {
			pong++
		}
	}

	assert.Equal(t, 2, pong)
	assert.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPeer_ConnectedAt(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()

	before := time.Now()
	peer := NewPeer(conn)
	defer peer.Close()

	assert.False(t, peer.ConnectedAt().Before(before))
	assert.False(t, peer.ConnectedAt().After(time.Now()))
}

func TestServer_GracefulShutdown(t *testing.T) {
	e := setupEngine(t)
	srv := NewServer(e, config.ServerConfig{Host: "127.0.0.1", Port: "0"}, zap.NewNop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c := dial(t, srv)
	assert.Equal(t, "PONG", string(c.do(t, "PING").String))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("Serve did not return")
	}

	assert.Equal(t, 0, srv.ClientCount())

	_, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener is closed")
}
