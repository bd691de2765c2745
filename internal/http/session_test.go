package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spesesync/internal/hub"
	applog "spesesync/internal/log"
	"spesesync/internal/protocol"
)

// serverConn returns the server side of a fresh websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
			conns <- conn
		}
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil
	}
}

func TestWriterExitEndsSession(t *testing.T) {
	conn := serverConn(t)

	h := hub.New()
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	sub, err := h.Subscribe(hubCtx, "alice")
	require.NoError(t, err)

	s := &Server{closing: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replies := make(chan protocol.Inbound, replyBuffer)
	done := s.startWriter(ctx, cancel, conn, sub, replies, applog.Discard())

	// a dropped subscription stops the writer
	require.NoError(t, h.Unsubscribe(hubCtx, sub))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not exit")
	}
	require.Error(t, ctx.Err(), "writer exit must end the session")

	// nothing drains replies any more; the reader must not park on it
	for range replyBuffer {
		replies <- protocol.Rejected{Reason: "filler"}
	}
	returned := make(chan bool, 1)
	go func() { returned <- forward(ctx, replies, protocol.Rejected{Reason: "late"}) }()
	select {
	case ok := <-returned:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("reader blocked on a full reply queue")
	}
}

func TestForwardHandsOffWhileSessionLive(t *testing.T) {
	replies := make(chan protocol.Inbound, 1)
	require.True(t, forward(context.Background(), replies, protocol.Rejected{Reason: "x"}))
	assert.Equal(t, protocol.Rejected{Reason: "x"}, <-replies)
}
