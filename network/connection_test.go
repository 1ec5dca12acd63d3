package network

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
)

type seen struct {
	query  string
	header string
	proto  string
}

func echoServer(t *testing.T, got chan<- seen) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ws := NewWSConnection(conn)
		defer ws.Close()
		got <- seen{query: r.URL.Query().Get("player"), header: r.Header.Get("X-Game"), proto: ws.Subprotocol()}
		for {
			data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.Send(data); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestDial_ForwardsIOOptions(t *testing.T) {
	got := make(chan seen, 1)
	srv := echoServer(t, got)
	defer srv.Close()

	io := map[string]any{
		"query":             map[string]any{"player": "p1"},
		"header":            map[string]any{"X-Game": "ultimatum"},
		"handshake_timeout": "2s",
	}
	conn, err := Dial(context.Background(), wsURL(srv), io)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case s := <-got:
		assert.Equal(t, "p1", s.query)
		assert.Equal(t, "ultimatum", s.header)
		assert.Equal(t, Subprotocol, s.proto)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}

	require.NoError(t, conn.Send([]byte(`{"hello":"world"}`)))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = Dial(context.Background(), "ws://example.invalid", map[string]any{"handshake_timeout": true})
	assert.Error(t, err)
}

func TestToDuration(t *testing.T) {
	d, err := toDuration(1.5)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = toDuration("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestClose_Idempotent(t *testing.T) {
	got := make(chan seen, 1)
	srv := echoServer(t, got)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsURL(srv), nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}
