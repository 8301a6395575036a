// Package dispatch implements the public HTTP ingress handler: resolve
// a tunnel, build a request frame, call the transport, and translate
// the outcome back into an HTTP response, per spec.md §4.6.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/protocol"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
	"github.com/wormhole-tunnel/wormhole/internal/routing"
	"github.com/wormhole-tunnel/wormhole/internal/transport"
	"github.com/wormhole-tunnel/wormhole/internal/tunnel"
)

// Config controls ingress behavior (spec.md §6).
type Config struct {
	BaseDomain     string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NotFoundHandler serves requests that don't resolve to any tunnel and
// aren't a known admin route (spec.md §4.6 step 1).
type NotFoundHandler func(w http.ResponseWriter, r *http.Request)

// Handler forwards public ingress requests through the resolved
// tunnel's transport.
type Handler struct {
	registry  *registry.Registry
	transport transport.Transport
	cfg       Config
	notFound  NotFoundHandler
}

// New builds an ingress handler over reg (for lookups) and tr (for
// delivery). notFound serves anything that isn't a tunnel request; if
// nil, a minimal 404 is used.
func New(reg *registry.Registry, tr transport.Transport, cfg Config, notFound NotFoundHandler) *Handler {
	if notFound == nil {
		notFound = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
	return &Handler{registry: reg, transport: tr, cfg: cfg, notFound: notFound}
}

// ServeHTTP implements spec.md §4.6's dispatch sequence.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res := routing.Resolve(r.Host, r.URL.Path, h.cfg.BaseDomain)
	if res.PublicID == "" {
		h.notFound(w, r)
		return
	}

	tun, ok := h.registry.Lookup(res.PublicID)
	if !ok {
		http.Error(w, "Tunnel "+res.PublicID+" not found or not connected", http.StatusNotFound)
		return
	}

	frame, err := h.buildRequestFrame(r, res, tun.ID())
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("failed to build request frame", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	resp, err := h.transport.Call(ctx, tun.ID(), frame)
	h.writeOutcome(w, resp, err)
}

var errBodyTooLarge = errors.New("request body exceeds configured limit")

// buildRequestFrame reads the body (bounded by MaxBodyBytes) and
// assembles the frame the transport will deliver, stripping
// hop-by-hop headers per spec.md §4.6.
func (h *Handler) buildRequestFrame(r *http.Request, res routing.Resolution, tunnelID string) (*protocol.RequestFrame, error) {
	limited := io.LimitReader(r.Body, h.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		return nil, errBodyTooLarge
	}

	return &protocol.RequestFrame{
		RequestID: uuid.NewString(),
		TunnelID:  tunnelID,
		Method:    r.Method,
		Path:      res.Path,
		Query:     r.URL.RawQuery,
		Headers:   protocol.FromHTTPHeader(r.Header, true),
		Body:      body,
	}, nil
}

// writeOutcome maps a transport result onto the HTTP response per
// spec.md §7's error taxonomy.
func (h *Handler) writeOutcome(w http.ResponseWriter, resp *protocol.ResponseFrame, err error) {
	if err != nil {
		switch {
		case errors.Is(err, pending.ErrTimeout):
			http.Error(w, "Tunnel request timeout", http.StatusGatewayTimeout)
		case errors.Is(err, pending.ErrTunnelGone), errors.Is(err, tunnel.ErrClosed):
			http.Error(w, "Tunnel error", http.StatusBadGateway)
		case errors.Is(err, tunnel.ErrBackpressure):
			http.Error(w, "tunnel backlog full", http.StatusServiceUnavailable)
		case errors.Is(err, pending.ErrCancelled):
			// client went away; nothing left to write.
		default:
			slog.Warn("tunnel call failed", "err", err)
			http.Error(w, "Tunnel error", http.StatusBadGateway)
		}
		return
	}

	resp.Headers.ApplyToHTTPHeader(w.Header())
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
