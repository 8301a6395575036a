// Package pending implements the pending-request table: a concurrent
// map from request_id to a one-shot completion slot, as described in
// spec.md §4.5. It is the correlation point between the ingress
// dispatcher (which registers a slot and awaits it) and a tunnel's
// inbound pump (which resolves it when the matching response frame
// arrives).
package pending

import (
	"sync"
	"time"

	"github.com/wormhole-tunnel/wormhole/internal/protocol"
)

// Outcome kinds a slot can resolve with, beyond an actual ResponseFrame.
// These map directly onto the CallError kinds in spec.md §4.3/§7.
var (
	ErrTimeout     = &callError{"request timed out waiting for a response"}
	ErrTunnelGone  = &callError{"tunnel was drained before a response arrived"}
	ErrCancelled   = &callError{"request was cancelled by the caller"}
	ErrTransport   = &callError{"transport fault delivering the request"}
	ErrMalformed   = &callError{"response frame failed schema validation"}
)

type callError struct{ msg string }

func (e *callError) Error() string { return e.msg }

// slot is a single-producer/single-consumer completion point. Exactly
// one of result or err is ever set, and only the first resolution wins
// (spec.md §3 PendingRequest invariant).
type slot struct {
	ch       chan struct{}
	once     sync.Once
	tunnelID string

	mu     sync.Mutex
	result *protocol.ResponseFrame
	err    error

	timer *time.Timer
}

func (s *slot) resolve(result *protocol.ResponseFrame, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.result, s.err = result, err
		s.mu.Unlock()
		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.ch)
	})
}

// Table is the concurrent pending-request map described in spec.md §4.5.
// A secondary tunnel_id -> set(request_id) index supports draining every
// pending request belonging to one tunnel in O(#pending for that tunnel).
type Table struct {
	mu      sync.Mutex
	slots   map[string]*slot
	byTunnel map[string]map[string]struct{}
}

// New creates an empty pending-request table.
func New() *Table {
	return &Table{
		slots:    make(map[string]*slot),
		byTunnel: make(map[string]map[string]struct{}),
	}
}

// Register allocates a completion slot for requestID, bound to tunnelID,
// and arms a deadline timer that resolves the slot with ErrTimeout if it
// fires before the slot is otherwise resolved.
func (t *Table) Register(requestID, tunnelID string, deadline time.Time) *Waiter {
	s := &slot{ch: make(chan struct{}), tunnelID: tunnelID}

	t.mu.Lock()
	t.slots[requestID] = s
	if t.byTunnel[tunnelID] == nil {
		t.byTunnel[tunnelID] = make(map[string]struct{})
	}
	t.byTunnel[tunnelID][requestID] = struct{}{}
	t.mu.Unlock()

	d := time.Until(deadline)
	if d <= 0 {
		t.resolveAndRemove(requestID, nil, ErrTimeout)
	} else {
		s.timer = time.AfterFunc(d, func() {
			t.resolveAndRemove(requestID, nil, ErrTimeout)
		})
	}

	return &Waiter{table: t, requestID: requestID, slot: s}
}

// Resolve completes requestID with frame. Idempotent: a second call for
// the same request_id (a late-arriving duplicate response) is a no-op,
// satisfying spec.md §8 property 4.
func (t *Table) Resolve(requestID string, frame *protocol.ResponseFrame) {
	t.resolveAndRemove(requestID, frame, nil)
}

// Cancel resolves requestID with ErrCancelled, used when the ingress
// caller disconnects before a reply arrives.
func (t *Table) Cancel(requestID string) {
	t.resolveAndRemove(requestID, nil, ErrCancelled)
}

// Drain resolves every pending request registered under tunnelID with
// err (normally ErrTunnelGone), satisfying spec.md Invariant 2: no
// pending request outlives its tunnel.
func (t *Table) Drain(tunnelID string, err error) {
	t.mu.Lock()
	ids := t.byTunnel[tunnelID]
	requestIDs := make([]string, 0, len(ids))
	for id := range ids {
		requestIDs = append(requestIDs, id)
	}
	t.mu.Unlock()

	for _, id := range requestIDs {
		t.resolveAndRemove(id, nil, err)
	}
}

// Len reports the number of currently outstanding requests. Intended
// for tests and observability, not for control flow.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func (t *Table) resolveAndRemove(requestID string, frame *protocol.ResponseFrame, err error) {
	t.mu.Lock()
	s, ok := t.slots[requestID]
	if ok {
		delete(t.slots, requestID)
		if set := t.byTunnel[s.tunnelID]; set != nil {
			delete(set, requestID)
			if len(set) == 0 {
				delete(t.byTunnel, s.tunnelID)
			}
		}
	}
	t.mu.Unlock()

	if !ok {
		return // unknown request_id: already resolved, or never registered here.
	}
	s.resolve(frame, err)
}

// Waiter is returned by Register and lets the caller block for the
// outcome, or explicitly clean up early (e.g. on caller disconnect).
type Waiter struct {
	table     *Table
	requestID string
	slot      *slot
}

// Await blocks until the slot resolves or ctxDone fires, whichever
// happens first. If ctxDone fires first, the slot is cancelled.
func (w *Waiter) Await(ctxDone <-chan struct{}) (*protocol.ResponseFrame, error) {
	select {
	case <-w.slot.ch:
		w.slot.mu.Lock()
		defer w.slot.mu.Unlock()
		return w.slot.result, w.slot.err
	case <-ctxDone:
		w.table.Cancel(w.requestID)
		return nil, ErrCancelled
	}
}

// Forget removes the slot without resolving observers, for use after a
// successful Await has already consumed the result (a no-op if the
// table already removed it, which resolveAndRemove guarantees).
func (w *Waiter) Forget() {
	w.table.mu.Lock()
	if s, ok := w.table.slots[w.requestID]; ok && s == w.slot {
		delete(w.table.slots, w.requestID)
		if set := w.table.byTunnel[s.tunnelID]; set != nil {
			delete(set, w.requestID)
		}
	}
	w.table.mu.Unlock()
}
