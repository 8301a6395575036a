package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
)

// timeFarFuture stands in for "no deadline" when the caller's context
// carries none; pending.Table always wants a concrete deadline.
func timeFarFuture() time.Time {
	return time.Now().Add(24 * time.Hour)
}

// enqueuer is the subset of *tunnel.Tunnel that DirectTransport needs.
// It is declared locally, so this file does not import internal/tunnel;
// Call type-asserts each registry entry against it.
type enqueuer interface {
	Enqueue(frame *protocol.RequestFrame) error
}

// DirectTransport delivers requests to a tunnel living in this same
// process: look the tunnel up by id, enqueue the frame on its outbound
// writer, and await the correlated reply on the shared pending table
// (spec.md §4.7).
type DirectTransport struct {
	registry *registry.Registry
	pending  *pending.Table
}

// NewDirectTransport builds an in-process transport over reg and table.
func NewDirectTransport(reg *registry.Registry, table *pending.Table) *DirectTransport {
	return &DirectTransport{registry: reg, pending: table}
}

// Call enqueues req on the tunnel identified by tunnelID and blocks
// until a reply is resolved, ctx is done, or the request's deadline
// (set by the caller via ctx) expires.
func (d *DirectTransport) Call(ctx context.Context, tunnelID string, req *protocol.RequestFrame) (*protocol.ResponseFrame, error) {
	t, ok := d.registry.LookupByTunnelID(tunnelID)
	if !ok {
		return nil, pending.ErrTunnelGone
	}
	e, ok := t.(enqueuer)
	if !ok {
		return nil, fmt.Errorf("registered tunnel %s does not support enqueue", tunnelID)
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = timeFarFuture()
	}
	waiter := d.pending.Register(req.RequestID, tunnelID, deadline)

	if err := e.Enqueue(req); err != nil {
		d.pending.Cancel(req.RequestID)
		return nil, err
	}

	resp, err := waiter.Await(ctx.Done())
	if err == pending.ErrCancelled && ctx.Err() == context.DeadlineExceeded {
		return nil, pending.ErrTimeout
	}
	return resp, err
}
