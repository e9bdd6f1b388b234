package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"roomcast/pkg/interfaces"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketPair returns the server side of a socket and the client dialed to it
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-serverSide:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the socket")
		return nil, nil
	}
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	req := require.New(t)
	server, client := socketPair(t)
	conn := NewConnection("c1", "alice", server, 10, time.Second)
	defer func() { _ = conn.Close() }()

	req.Equal("c1", conn.ID())
	req.Equal("alice", conn.UserID())

	for _, payload := range []string{"one", "two", "three"} {
		req.NoError(conn.Send(context.Background(), []byte(payload)))
	}
	req.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for _, want := range []string{"one", "two", "three"} {
		_, data, err := client.ReadMessage()
		req.NoError(err)
		req.Equal(want, string(data))
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	req := require.New(t)
	server, _ := socketPair(t)
	conn := NewConnection("c1", "alice", server, 10, time.Second)

	req.NoError(conn.Close())
	req.NoError(conn.Close())
	<-conn.Done()

	err := conn.Send(context.Background(), []byte("late"))
	req.ErrorIs(err, interfaces.ErrConnectionClosed)
	req.Equal(interfaces.CodeTransportError, interfaces.ErrorCode(err))
}

func TestConnection_SendTimesOutWhenBufferFull(t *testing.T) {
	req := require.New(t)
	// A pending connection has no writer draining the buffer
	conn := newPendingConnection("c1", 1, time.Second)
	defer func() { _ = conn.Close() }()

	req.NoError(conn.Send(context.Background(), []byte("fills the buffer")))

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer sendCancel()
	err := conn.Send(sendCtx, []byte("blocked"))
	req.ErrorIs(err, interfaces.ErrTransport)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestConnection_PendingSendsFollowFirstFrame(t *testing.T) {
	req := require.New(t)
	conn := newPendingConnection("c1", 10, time.Second)
	defer func() { _ = conn.Close() }()
	req.Empty(conn.UserID())

	req.NoError(conn.Send(context.Background(), []byte("queued")))

	server, client := socketPair(t)
	conn.attach(server, "alice", []byte("welcome"))
	req.Equal("alice", conn.UserID())
	req.NoError(conn.Send(context.Background(), []byte("live")))

	req.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for _, want := range []string{"welcome", "queued", "live"} {
		_, data, err := client.ReadMessage()
		req.NoError(err)
		req.Equal(want, string(data))
	}
}

func TestConnection_AttachAfterClose(t *testing.T) {
	req := require.New(t)
	conn := newPendingConnection("c1", 10, time.Second)
	req.NoError(conn.Close())

	server, client := socketPair(t)
	conn.attach(server, "alice", []byte("welcome"))

	// the socket is closed instead of served
	req.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := client.ReadMessage()
	req.Error(err)
}

func TestSockets(t *testing.T) {
	req := require.New(t)
	sockets := NewSockets()
	server, client := socketPair(t)
	conn := NewConnection("c1", "alice", server, 10, time.Second)

	req.NoError(sockets.Add(conn))
	req.ErrorIs(sockets.Add(conn), ErrDuplicateSocket)
	req.Equal(1, sockets.Len())

	req.NoError(sockets.Send(context.Background(), "c1", []byte("hello")))
	req.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, data, err := client.ReadMessage()
	req.NoError(err)
	req.Equal("hello", string(data))

	err = sockets.Send(context.Background(), "missing", []byte("x"))
	req.ErrorIs(err, interfaces.ErrConnectionClosed)

	sockets.CloseAll()
	<-conn.Done()
	req.ErrorIs(sockets.Send(context.Background(), "c1", []byte("x")), interfaces.ErrConnectionClosed)

	sockets.Remove("c1")
	req.Zero(sockets.Len())
}
