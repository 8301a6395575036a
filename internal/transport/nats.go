package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// subjectPrefix names the NATS subject space used for split-shape
// tunnel dispatch: "tunnel.{tunnel_id}" per spec.md §9.
const subjectPrefix = "tunnel."

func subjectFor(tunnelID string) string { return subjectPrefix + tunnelID }

// NATSTransport delivers requests to a tunnel owned by a sibling server
// process via NATS request/reply (spec.md §4.7, §9 Split deployment
// shape). Bodies are hex-encoded because the wire payload is JSON text.
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATSTransport wraps an already-connected NATS client.
func NewNATSTransport(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Call publishes req on tunnel.<tunnelID> and waits for the reply,
// honoring ctx's deadline for the broker round trip.
func (n *NATSTransport) Call(ctx context.Context, tunnelID string, req *protocol.RequestFrame) (*protocol.ResponseFrame, error) {
	internalReq := req.ToInternalRequest()
	payload, err := json.Marshal(internalReq)
	if err != nil {
		return nil, fmt.Errorf("%w: marshalling internal request: %v", pending.ErrMalformed, err)
	}

	msg, err := n.conn.RequestWithContext(ctx, subjectFor(tunnelID), payload)
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, pending.ErrTimeout
		}
		if err == nats.ErrNoResponders {
			return nil, pending.ErrTunnelGone
		}
		return nil, fmt.Errorf("%w: %v", pending.ErrTransport, err)
	}

	var internalResp protocol.InternalResponse
	if err := json.Unmarshal(msg.Data, &internalResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling internal response: %v", pending.ErrMalformed, err)
	}
	resp, err := internalResp.ToResponseFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pending.ErrMalformed, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pending.ErrMalformed, err)
	}
	return resp, nil
}

// RequestHandler answers one internal request, producing the response
// to publish back on the NATS reply subject. Subscribe is its only
// user; the agent package does not subscribe to NATS.
type RequestHandler func(ctx context.Context, req *protocol.InternalRequest) (*protocol.InternalResponse, error)

// Subscriber listens on tunnel.<tunnelID> on behalf of a tunnel owned
// by this process (split deployment shape, spec.md §9) and dispatches
// each inbound request to handler, publishing its result on the NATS
// reply subject.
type Subscriber struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// Subscribe starts listening for requests addressed to tunnelID.
func Subscribe(conn *nats.Conn, tunnelID string, handler RequestHandler) (*Subscriber, error) {
	sub, err := conn.Subscribe(subjectFor(tunnelID), func(msg *nats.Msg) {
		var req protocol.InternalRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return // malformed request: no reply, caller observes a timeout.
		}
		resp, err := handler(context.Background(), &req)
		if err != nil || resp == nil {
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return
		}
		_ = msg.Respond(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subjectFor(tunnelID), err)
	}
	return &Subscriber{conn: conn, sub: sub}, nil
}

// Close unsubscribes, stopping further dispatch for this tunnel.
func (s *Subscriber) Close() error {
	return s.sub.Unsubscribe()
}
