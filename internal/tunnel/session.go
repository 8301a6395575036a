package tunnel

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
)

// maxHandshakeRetries bounds the public_id collision retry loop of
// spec.md §4.4 before the handshake is rejected outright.
const maxHandshakeRetries = 5

// Config controls session behaviour; see spec.md §6 for the matching
// configuration keys.
type Config struct {
	HeartbeatInterval time.Duration
	QueueDepth        int
	PublicURLScheme   string // "http" or "https"
	BaseDomain        string
}

// Session owns one accepted control connection: the handshake, the
// inbound message pump, the outbound writer, and the heartbeat.
type Session struct {
	conn     *websocket.Conn
	codec    *protocol.Codec
	tunnel   *Tunnel
	registry *registry.Registry
	pending  *pending.Table
	cfg      Config

	lastPong atomic.Int64 // unix nanos
}

// Accept performs the handshake over conn (allocate tunnel_id/public_id,
// insert into the registry with collision retry, send the Connected
// frame) and, on success, starts the session's background goroutines.
// preferredPublicID may be empty, in which case a random one is minted.
func Accept(conn *websocket.Conn, reg *registry.Registry, table *pending.Table, cfg Config, preferredPublicID, hostHeader string) (*Session, error) {
	tunnelID := uuid.NewString()

	s := &Session{
		conn:     conn,
		codec:    protocol.NewCodec(conn),
		registry: reg,
		pending:  table,
		cfg:      cfg,
	}

	t, err := s.bindPublicID(tunnelID, preferredPublicID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publicID := t.PublicID()

	s.tunnel = t
	s.tunnel.Activate()
	s.lastPong.Store(time.Now().UnixNano())

	publicURL := fmt.Sprintf("%s://%s.%s", cfg.PublicURLScheme, publicID, cfg.BaseDomain)
	connected := protocol.ConnectedMessage{
		Type:      protocol.TypeConnected,
		TunnelID:  tunnelID,
		PublicID:  publicID,
		PublicURL: publicURL,
	}
	if err := s.codec.WriteJSON(connected); err != nil {
		s.registry.Remove(publicID, tunnelID)
		s.tunnel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("sending connected frame: %w", err)
	}

	go s.writeLoop()
	go s.heartbeatLoop()
	go s.readLoop()

	return s, nil
}

// bindPublicID constructs the tunnel under preferredPublicID (if given)
// and inserts that same real *Tunnel into the registry directly — the
// registry must never hold a stand-in, since the direct transport looks
// tunnels up by tunnel_id and enqueues onto whatever it finds there
// (spec.md §4.7). Insert never evicts an existing Active tunnel on
// collision (spec.md §4.4 tie-break rule); with no preferred id, fresh
// random candidates are minted and retried up to maxHandshakeRetries
// times, each with its own freshly-built Tunnel since the public_id is
// fixed at construction.
func (s *Session) bindPublicID(tunnelID, preferredPublicID string) (*Tunnel, error) {
	if preferredPublicID != "" {
		t := New(tunnelID, preferredPublicID, s.cfg.QueueDepth)
		if err := s.registry.Insert(preferredPublicID, t); err != nil {
			return nil, fmt.Errorf("handshake collision on preferred public_id %q: %w", preferredPublicID, err)
		}
		return t, nil
	}

	for attempt := 0; attempt < maxHandshakeRetries; attempt++ {
		candidate, err := generatePublicID()
		if err != nil {
			return nil, fmt.Errorf("generating public_id: %w", err)
		}
		t := New(tunnelID, candidate, s.cfg.QueueDepth)
		if err := s.registry.Insert(candidate, t); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("handshake collision: exhausted %d retries allocating a public_id", maxHandshakeRetries)
}

// generatePublicID mints an 8-byte URL-safe random token, matching the
// original WormHole server's secrets.token_urlsafe(8).
func generatePublicID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Tunnel returns the underlying tunnel state.
func (s *Session) Tunnel() *Tunnel { return s.tunnel }

// writeLoop drains the tunnel's bounded outbound queue and serializes
// each RequestFrame onto the control connection (spec.md §4.3: writes
// must be serialized per tunnel, which Codec.WriteJSON's mutex enforces).
func (s *Session) writeLoop() {
	for {
		select {
		case frame, ok := <-s.tunnel.Outbound():
			if !ok {
				return
			}
			msg := protocol.HTTPRequestMessage{
				Type:        protocol.TypeHTTPRequest,
				RequestID:   frame.RequestID,
				Method:      frame.Method,
				Path:        frame.Path,
				QueryString: frame.Query,
				Headers:     frame.Headers,
				Body:        string(frame.Body),
			}
			if err := s.codec.WriteJSON(msg); err != nil {
				slog.Error("tunnel write failed", "tunnel_id", s.tunnel.ID(), "err", err)
				s.teardown()
				return
			}
		case <-s.tunnel.Done():
			return
		}
	}
}

// heartbeatLoop sends a ping every interval and drains the tunnel if no
// pong has been observed since the previous ping, i.e. a ping went
// unanswered for one full interval (spec.md §4.4).
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	var lastPing time.Time
	for {
		select {
		case <-ticker.C:
			if !lastPing.IsZero() && s.lastPong.Load() < lastPing.UnixNano() {
				slog.Warn("tunnel missed heartbeat, draining", "tunnel_id", s.tunnel.ID())
				s.teardown()
				return
			}
			lastPing = time.Now()
			if err := s.codec.WriteJSON(protocol.PingMessage{Type: protocol.TypePing}); err != nil {
				slog.Error("tunnel ping failed", "tunnel_id", s.tunnel.ID(), "err", err)
				s.teardown()
				return
			}
		case <-s.tunnel.Done():
			return
		}
	}
}

// readLoop reads control messages from the client. ResponseFrames are
// resolved against the pending-request table; pings are answered with
// pongs; anything else is logged and ignored (forward-compat per
// spec.md §4.4), except transport faults which tear the session down.
func (s *Session) readLoop() {
	defer s.teardown()
	for {
		msgType, raw, err := s.codec.ReadMessage()
		if err != nil {
			select {
			case <-s.tunnel.Done():
				return
			default:
				slog.Error("tunnel read error", "tunnel_id", s.tunnel.ID(), "err", err)
				return
			}
		}

		switch msgType {
		case protocol.TypePong:
			s.lastPong.Store(time.Now().UnixNano())

		case protocol.TypePing:
			if err := s.codec.WriteJSON(protocol.PongMessage{Type: protocol.TypePong}); err != nil {
				slog.Error("tunnel pong failed", "tunnel_id", s.tunnel.ID(), "err", err)
				return
			}

		case "":
			// client replies carry no "type" field; treat as a response frame.
			var resp protocol.HTTPResponseMessage
			if err := json.Unmarshal(raw, &resp); err != nil {
				slog.Warn("malformed response frame", "tunnel_id", s.tunnel.ID(), "err", err)
				continue
			}
			body, err := decodeResponseBody(resp.Body)
			if err != nil {
				slog.Warn("malformed response body", "tunnel_id", s.tunnel.ID(), "err", err)
				continue
			}
			frame := &protocol.ResponseFrame{
				RequestID: resp.RequestID,
				Status:    resp.Status,
				Headers:   resp.Headers,
				Body:      body,
			}
			if err := frame.Validate(); err != nil {
				slog.Warn("response frame failed validation", "tunnel_id", s.tunnel.ID(), "err", err)
				continue
			}
			s.pending.Resolve(frame.RequestID, frame)

		default:
			slog.Warn("unexpected control message type", "tunnel_id", s.tunnel.ID(), "type", msgType)
		}
	}
}

// decodeResponseBody accepts a plain UTF-8 body, matching spec.md §6's
// text control-channel wire form.
func decodeResponseBody(s string) ([]byte, error) {
	return []byte(s), nil
}

// teardown moves the tunnel through Draining to Closed: removes the
// registry entry, drains the pending table, and closes the connection.
func (s *Session) teardown() {
	s.registry.Remove(s.tunnel.PublicID(), s.tunnel.ID())
	s.tunnel.Drain(s.pending)
	_ = s.codec.Close()
	s.tunnel.Close()
}
