// Package registry implements the tunnel registry of spec.md §4.2: a
// shared, concurrently-mutated directory of live tunnels keyed by
// public_id, with ABA-safe removal so a stale teardown can never evict
// a newer tunnel that reconnected under the same label.
package registry

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyBound is returned by Insert when public_id is already bound
// to a live tunnel (spec.md §4.2, §4.4 handshake collision handling).
var ErrAlreadyBound = errors.New("public_id already bound to an active tunnel")

// Tunnel is the minimal view the registry needs: enough to answer
// lookups and produce an observability snapshot. The tunnel package
// owns the full session state machine and satisfies this interface.
type Tunnel interface {
	ID() string
	PublicID() string
	CreatedAt() time.Time
	RequestCount() uint64
}

// Info is the observability view returned by Snapshot (spec.md §3 TunnelInfo).
type Info struct {
	TunnelID     string
	PublicID     string
	CreatedAt    time.Time
	RequestCount uint64
}

// Registry maps public_id to a live Tunnel. A secondary index by
// tunnel_id supports the transport layer (spec.md §4.7), which
// addresses tunnels by their opaque id rather than their public label.
// All operations are linearizable with respect to each other;
// Snapshot may be stale by the time its caller reads it (spec.md §4.2).
type Registry struct {
	mu       sync.RWMutex
	tunnels  map[string]Tunnel
	byTunnel map[string]string // tunnel_id -> public_id
}

// New creates an empty tunnel registry.
func New() *Registry {
	return &Registry{
		tunnels:  make(map[string]Tunnel),
		byTunnel: make(map[string]string),
	}
}

// Insert binds publicID to t. Returns ErrAlreadyBound if publicID is
// already taken — callers are expected to retry with a fresh public_id
// (spec.md §4.4) rather than have the registry pick one.
func (r *Registry) Insert(publicID string, t Tunnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tunnels[publicID]; exists {
		return ErrAlreadyBound
	}
	r.tunnels[publicID] = t
	r.byTunnel[t.ID()] = publicID
	return nil
}

// Lookup returns the tunnel bound to publicID, if any.
func (r *Registry) Lookup(publicID string) (Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[publicID]
	return t, ok
}

// LookupByTunnelID returns the tunnel whose ID() equals tunnelID, if
// any is currently registered. Used by the transport layer, which
// addresses tunnels by their opaque id (spec.md §4.7).
func (r *Registry) LookupByTunnelID(tunnelID string) (Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	publicID, ok := r.byTunnel[tunnelID]
	if !ok {
		return nil, false
	}
	t, ok := r.tunnels[publicID]
	return t, ok
}

// Remove unbinds publicID, but only if the tunnel currently bound there
// still has ID() == expectedTunnelID. This is the ABA guard from
// spec.md §4.2: a reconnecting client may already have replaced the
// entry by the time an old session's teardown runs, and that newer
// entry must survive.
func (r *Registry) Remove(publicID, expectedTunnelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tunnels[publicID]
	if !ok || t.ID() != expectedTunnelID {
		return false
	}
	delete(r.tunnels, publicID)
	if r.byTunnel[expectedTunnelID] == publicID {
		delete(r.byTunnel, expectedTunnelID)
	}
	return true
}

// Snapshot returns a consistent point-in-time view of every registered
// tunnel, for status endpoints (spec.md §4.2, §6 GET /status).
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.tunnels))
	for publicID, t := range r.tunnels {
		out = append(out, Info{
			TunnelID:     t.ID(),
			PublicID:     publicID,
			CreatedAt:    t.CreatedAt(),
			RequestCount: t.RequestCount(),
		})
	}
	return out
}

// Len reports the number of currently registered tunnels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}
