package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// Tunnel manages the agent-side websocket connection to the wormhole
// server's control channel.
type Tunnel struct {
	codec     *protocol.Codec
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	handler   *RequestHandler

	publicID string
}

// ConnectTunnel establishes a websocket connection to the server,
// optionally routing through a proxy, and waits for the handshake's
// ConnectedMessage before returning.
func ConnectTunnel(ctx context.Context, cfg *Config, dialer *ProxyDialer) (*Tunnel, error) {
	wsDialer := websocket.Dialer{}
	if dialer != nil {
		wsDialer.NetDialContext = dialer.DialContext
	}

	slog.Info("connecting to wormhole server", "url", cfg.Relay.URL)
	conn, _, err := wsDialer.DialContext(ctx, cfg.Relay.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialling wormhole server: %w", err)
	}

	codec := protocol.NewCodec(conn)
	msgType, raw, err := codec.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading handshake reply: %w", err)
	}
	if msgType != protocol.TypeConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake reply type %q", msgType)
	}
	var connected protocol.ConnectedMessage
	if err := json.Unmarshal(raw, &connected); err != nil {
		conn.Close()
		return nil, fmt.Errorf("parsing handshake reply: %w", err)
	}

	slog.Info("connected to wormhole server", "public_id", connected.PublicID, "public_url", connected.PublicURL)
	return &Tunnel{
		codec:    codec,
		conn:     conn,
		done:     make(chan struct{}),
		handler:  NewRequestHandler(cfg.Backend.TargetURL, cfg.Tunnel.BackendTimeout),
		publicID: connected.PublicID,
	}, nil
}

// PublicID returns the tunnel handle assigned by the server during the
// handshake.
func (t *Tunnel) PublicID() string {
	return t.publicID
}

// Run reads control messages until the tunnel closes or the connection fails.
func (t *Tunnel) Run() error {
	defer t.Close()

	for {
		msgType, raw, err := t.codec.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading control message: %w", err)
			}
		}

		switch msgType {
		case protocol.TypePing:
			if err := t.codec.WriteJSON(protocol.PongMessage{Type: protocol.TypePong}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}

		case protocol.TypeHTTPRequest:
			var req protocol.HTTPRequestMessage
			if err := json.Unmarshal(raw, &req); err != nil {
				slog.Warn("malformed http_request from server", "err", err)
				continue
			}
			go t.handleRequest(&req)

		default:
			slog.Warn("unexpected message type from server", "type", msgType)
		}
	}
}

// handleRequest dispatches one request to the backend and writes exactly
// one reply back to the control channel.
func (t *Tunnel) handleRequest(req *protocol.HTTPRequestMessage) {
	resp := t.handler.HandleRequest(req)
	if err := t.codec.WriteJSON(resp); err != nil {
		slog.Error("failed to send response", "request_id", req.RequestID, "err", err)
	}
}

// Close shuts down the tunnel connection.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		slog.Info("agent tunnel closed")
	})
}

// Done returns a channel that closes when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}
