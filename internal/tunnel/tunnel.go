// Package tunnel implements the per-connection tunnel session state
// machine of spec.md §4.4: handshake, the inbound message pump,
// outbound write serialization, heartbeat, and orderly teardown.
package tunnel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// ErrBackpressure is returned by Enqueue when the outbound writer queue
// is full (spec.md §4.3, §5). The ingress dispatcher maps this to 503.
var ErrBackpressure = errors.New("tunnel outbound queue is full")

// ErrClosed is returned by Enqueue once the tunnel has started draining.
var ErrClosed = errors.New("tunnel is draining or closed")

// Tunnel is one live client session: the id/public_id/created_at/
// request_count bookkeeping from spec.md §3, plus the bounded outbound
// queue that a Session's writer goroutine drains.
type Tunnel struct {
	id        string
	publicID  string
	createdAt time.Time

	requestCount atomic.Uint64
	state        atomic.Int32

	outbound chan *protocol.RequestFrame

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a tunnel in StateHandshake with the given outbound queue depth.
func New(id, publicID string, queueDepth int) *Tunnel {
	return &Tunnel{
		id:        id,
		publicID:  publicID,
		createdAt: time.Now(),
		outbound:  make(chan *protocol.RequestFrame, queueDepth),
		done:      make(chan struct{}),
	}
}

// ID returns the tunnel's opaque unique identifier.
func (t *Tunnel) ID() string { return t.id }

// PublicID returns the externally-visible handle.
func (t *Tunnel) PublicID() string { return t.publicID }

// CreatedAt returns the admission instant.
func (t *Tunnel) CreatedAt() time.Time { return t.createdAt }

// RequestCount returns the number of frames successfully handed to the
// outbound writer since admission (spec.md Invariant 4 — not the
// number replied to).
func (t *Tunnel) RequestCount() uint64 { return t.requestCount.Load() }

// State returns the tunnel's current lifecycle stage.
func (t *Tunnel) State() State { return State(t.state.Load()) }

func (t *Tunnel) setState(s State) { t.state.Store(int32(s)) }

// Activate transitions the tunnel from Handshake to Active.
func (t *Tunnel) Activate() { t.setState(StateActive) }

// Enqueue hands frame to the outbound writer. It never blocks: a full
// queue returns ErrBackpressure immediately (spec.md §5 — "the tunnel
// does not silently block ingress"), and a draining/closed tunnel
// returns ErrClosed. On success request_count is incremented.
func (t *Tunnel) Enqueue(frame *protocol.RequestFrame) error {
	if t.State() != StateActive {
		return ErrClosed
	}
	select {
	case t.outbound <- frame:
		t.requestCount.Add(1)
		return nil
	default:
		return ErrBackpressure
	}
}

// Outbound exposes the outbound queue for the session's writer goroutine.
func (t *Tunnel) Outbound() <-chan *protocol.RequestFrame { return t.outbound }

// Done returns a channel closed once the tunnel reaches StateClosed.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Drain transitions the tunnel to Draining and resolves every pending
// request issued through it with ErrTunnelGone, satisfying spec.md
// Invariant 2. It is safe to call more than once.
func (t *Tunnel) Drain(table *pending.Table) {
	if t.State() == StateDraining || t.State() == StateClosed {
		return
	}
	t.setState(StateDraining)
	table.Drain(t.id, pending.ErrTunnelGone)
}

// Close finalizes teardown, releasing the outbound queue and signaling Done.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		t.setState(StateClosed)
		close(t.done)
	})
}
