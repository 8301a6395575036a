package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newFakeServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		go handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func Test_connect_tunnel_reads_handshake_and_stores_public_id(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		data, _ := json.Marshal(protocol.ConnectedMessage{
			Type:      protocol.TypeConnected,
			TunnelID:  "t-1",
			PublicID:  "abc123xy",
			PublicURL: "http://abc123xy.wormhole.test",
		})
		conn.WriteMessage(websocket.TextMessage, data)
		conn.ReadMessage()
	})

	cfg := &Config{Relay: RelayConfig{URL: wsURL(srv.URL)}}
	tun, err := ConnectTunnel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer tun.Close()

	if tun.PublicID() != "abc123xy" {
		t.Errorf("expected public id abc123xy, got %q", tun.PublicID())
	}
}

func Test_connect_tunnel_rejects_non_connected_reply(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		data, _ := json.Marshal(protocol.PingMessage{Type: protocol.TypePing})
		conn.WriteMessage(websocket.TextMessage, data)
	})

	cfg := &Config{Relay: RelayConfig{URL: wsURL(srv.URL)}}
	_, err := ConnectTunnel(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected an error for a non-connected handshake reply")
	}
}

func Test_run_replies_to_ping_with_pong(t *testing.T) {
	pongReceived := make(chan struct{})
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		connected, _ := json.Marshal(protocol.ConnectedMessage{Type: protocol.TypeConnected, PublicID: "abc123xy"})
		conn.WriteMessage(websocket.TextMessage, connected)

		ping, _ := json.Marshal(protocol.PingMessage{Type: protocol.TypePing})
		conn.WriteMessage(websocket.TextMessage, ping)

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var probe struct{ Type string }
		json.Unmarshal(raw, &probe)
		if probe.Type == protocol.TypePong {
			close(pongReceived)
		}
	})

	cfg := &Config{Relay: RelayConfig{URL: wsURL(srv.URL)}}
	tun, err := ConnectTunnel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer tun.Close()

	go tun.Run()

	select {
	case <-pongReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func Test_run_forwards_http_request_to_backend_and_replies(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok from backend"))
	}))
	defer backend.Close()

	replyReceived := make(chan protocol.HTTPResponseMessage, 1)
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		connected, _ := json.Marshal(protocol.ConnectedMessage{Type: protocol.TypeConnected, PublicID: "abc123xy"})
		conn.WriteMessage(websocket.TextMessage, connected)

		req, _ := json.Marshal(protocol.HTTPRequestMessage{
			Type:      protocol.TypeHTTPRequest,
			RequestID: "req-5",
			Method:    "GET",
			Path:      "/",
		})
		conn.WriteMessage(websocket.TextMessage, req)

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var resp protocol.HTTPResponseMessage
		if err := json.Unmarshal(raw, &resp); err == nil {
			replyReceived <- resp
		}
	})

	cfg := &Config{Relay: RelayConfig{URL: wsURL(srv.URL)}, Backend: BackendConfig{TargetURL: backend.URL}}
	tun, err := ConnectTunnel(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer tun.Close()

	go tun.Run()

	select {
	case resp := <-replyReceived:
		if resp.RequestID != "req-5" {
			t.Errorf("expected request id req-5, got %q", resp.RequestID)
		}
		if resp.Status != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.Status)
		}
		if resp.Body != "ok from backend" {
			t.Errorf("expected backend body, got %q", resp.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}
