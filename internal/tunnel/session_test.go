package tunnel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newTestSession wires a real websocket connection (over an httptest
// server) through Session.Accept and returns the client-side conn plus
// the server-side Session, registry and pending table for assertions.
func newTestSession(t *testing.T, cfg Config) (*websocket.Conn, *Session, *registry.Registry, *pending.Table) {
	t.Helper()

	reg := registry.New()
	table := pending.New()
	sessionCh := make(chan *Session, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		s, err := Accept(conn, reg, table, cfg, "", r.Host)
		require.NoError(t, err)
		sessionCh <- s
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	s := <-sessionCh
	return clientConn, s, reg, table
}

func Test_accept_sends_connected_frame_and_activates_tunnel(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Hour, QueueDepth: 4, PublicURLScheme: "https", BaseDomain: "example.test"}
	clientConn, s, reg, _ := newTestSession(t, cfg)

	_, raw, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var msg protocol.ConnectedMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, protocol.TypeConnected, msg.Type)
	require.Equal(t, s.Tunnel().ID(), msg.TunnelID)
	require.Contains(t, msg.PublicURL, msg.PublicID)

	require.Equal(t, StateActive, s.Tunnel().State())

	got, ok := reg.Lookup(s.Tunnel().PublicID())
	require.True(t, ok)
	require.Equal(t, s.Tunnel().ID(), got.ID())
}

func Test_pong_from_client_updates_heartbeat_and_keeps_tunnel_active(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Hour, QueueDepth: 4, PublicURLScheme: "http", BaseDomain: "example.test"}
	clientConn, s, _, _ := newTestSession(t, cfg)

	_, _, err := clientConn.ReadMessage() // drain connected frame
	require.NoError(t, err)

	pong, err := json.Marshal(protocol.PongMessage{Type: protocol.TypePong})
	require.NoError(t, err)
	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, pong))

	require.Eventually(t, func() bool {
		return s.lastPong.Load() > 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, StateActive, s.Tunnel().State())
}

func Test_response_frame_from_client_resolves_pending_request(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Hour, QueueDepth: 4, PublicURLScheme: "http", BaseDomain: "example.test"}
	clientConn, s, _, table := newTestSession(t, cfg)

	_, _, err := clientConn.ReadMessage() // drain connected frame
	require.NoError(t, err)

	waiter := table.Register("req-1", s.Tunnel().ID(), time.Now().Add(5*time.Second))

	reply := protocol.HTTPResponseMessage{
		RequestID: "req-1",
		Status:    200,
		Headers:   protocol.Header{{Name: "Content-Type", Value: "text/plain"}},
		Body:      "hello",
	}
	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, raw))

	resp, err := waiter.Await(nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "hello", string(resp.Body))
}

func Test_request_frame_enqueued_on_tunnel_reaches_client(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Hour, QueueDepth: 4, PublicURLScheme: "http", BaseDomain: "example.test"}
	clientConn, s, _, _ := newTestSession(t, cfg)

	_, _, err := clientConn.ReadMessage() // drain connected frame
	require.NoError(t, err)

	frame := &protocol.RequestFrame{
		RequestID: "req-9",
		TunnelID:  s.Tunnel().ID(),
		Method:    "GET",
		Path:      "/widgets",
	}
	require.NoError(t, s.Tunnel().Enqueue(frame))

	_, raw, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var got protocol.HTTPRequestMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, protocol.TypeHTTPRequest, got.Type)
	require.Equal(t, "req-9", got.RequestID)
	require.Equal(t, "/widgets", got.Path)
}

func Test_client_disconnect_drains_registry_and_pending_table(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Hour, QueueDepth: 4, PublicURLScheme: "http", BaseDomain: "example.test"}
	clientConn, s, reg, table := newTestSession(t, cfg)

	_, _, err := clientConn.ReadMessage() // drain connected frame
	require.NoError(t, err)

	waiter := table.Register("req-abandoned", s.Tunnel().ID(), time.Now().Add(5*time.Second))
	publicID := s.Tunnel().PublicID()

	require.NoError(t, clientConn.Close())

	resp, err := waiter.Await(nil)
	require.Nil(t, resp)
	require.ErrorIs(t, err, pending.ErrTunnelGone)

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(publicID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
