// Package transport abstracts how a request frame actually reaches the
// tunnel that owns it, per spec.md §4.3/§9: the ingress dispatcher
// issues a Call and never knows whether the tunnel lives in this
// process (DirectTransport) or in a sibling server reachable only via
// a message broker (NATSTransport).
package transport

import (
	"context"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// Transport delivers a request frame to tunnelID and returns the
// matching response, or an error from internal/pending's outcome set
// (ErrTimeout, ErrTunnelGone, ErrTransport, ErrMalformed, and
// ErrCancelled when the caller's context is cancelled) per spec.md
// §4.3's CallError contract. DirectTransport also returns the tunnel's
// own enqueue errors (tunnel.ErrBackpressure, tunnel.ErrClosed) as is.
type Transport interface {
	Call(ctx context.Context, tunnelID string, req *protocol.RequestFrame) (*protocol.ResponseFrame, error)
}
