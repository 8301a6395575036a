// Package server wires the tunnel registry, pending-request table,
// ingress dispatcher, transport, rate limiter, and metrics into one
// running process, and serves the admin HTTP surface (spec.md §6).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wormhole-tunnel/wormhole/internal/dispatch"
	"github.com/wormhole-tunnel/wormhole/internal/metrics"
	"github.com/wormhole-tunnel/wormhole/internal/pending"
	"github.com/wormhole-tunnel/wormhole/internal/ratelimit"
	"github.com/wormhole-tunnel/wormhole/internal/registry"
	"github.com/wormhole-tunnel/wormhole/internal/routing"
	"github.com/wormhole-tunnel/wormhole/internal/transport"
	"github.com/wormhole-tunnel/wormhole/internal/tunnel"
)

// Server is the wormhole control-plane and ingress process.
type Server struct {
	cfg        *Config
	logger     *slog.Logger
	registry   *registry.Registry
	pending    *pending.Table
	transport  transport.Transport
	metrics    *metrics.Registry
	promGather *prometheus.Registry
	limiter    *ratelimit.Limiter
	upgrader   websocket.Upgrader
	natsConn   *nats.Conn
}

// New builds a Server from cfg. If cfg.BrokerURL is set it dials NATS
// and uses the split-shape transport; otherwise requests are delivered
// to tunnels in this same process (spec.md §9).
func New(cfg *Config) (*Server, error) {
	logger := setupLogging(cfg)

	reg := registry.New()
	table := pending.New()

	var tr transport.Transport
	var nc *nats.Conn
	if cfg.BrokerURL != "" {
		conn, err := nats.Connect(cfg.BrokerURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to broker: %w", err)
		}
		nc = conn
		tr = transport.NewNATSTransport(conn)
	} else {
		tr = transport.NewDirectTransport(reg, table)
	}

	promReg := prometheus.NewRegistry()

	return &Server{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		pending:    table,
		transport:  tr,
		metrics:    metrics.New(promReg),
		promGather: promReg,
		limiter:    ratelimit.New(cfg.MaxRequestsPerSecond, cfg.RateLimitBurst),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		natsConn:   nc,
	}, nil
}

// Handler assembles the full HTTP handler: the ingress dispatcher takes
// every request that resolves to a tunnel, and anything else falls
// through to the admin routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWelcome)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tunnel", s.handleTunnelConnect)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promGather, promhttp.HandlerOpts{}))

	ingress := dispatch.New(s.registry, s.transport, dispatch.Config{
		BaseDomain:     s.cfg.BaseDomain,
		MaxBodyBytes:   s.cfg.MaxBodyBytes,
		RequestTimeout: s.cfg.RequestTimeout,
	}, mux.ServeHTTP)

	limited := s.limiter.Middleware(s.identifyTunnel, ingress)
	return s.metrics.Instrument(limited)
}

// identifyTunnel resolves the request's public_id for rate-limit bucketing.
func (s *Server) identifyTunnel(r *http.Request) string {
	res := routing.Resolve(r.Host, r.URL.Path, s.cfg.BaseDomain)
	return res.PublicID
}

// Run starts listening and blocks until the server exits.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("wormhole server starting", "addr", addr, "base_domain", s.cfg.BaseDomain)
	return http.ListenAndServe(addr, s.Handler())
}

const welcomeTemplate = `<!doctype html>
<html><head><title>wormhole tunnel server</title></head>
<body>
<h1>wormhole tunnel server</h1>
<p>%d tunnel(s) currently connected.</p>
<ul>
<li>GET /status - tunnel registry snapshot</li>
<li>GET /healthz - liveness probe</li>
<li>GET /metrics - prometheus metrics</li>
</ul>
</body></html>
`

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, welcomeTemplate, s.registry.Len())
}

// statusResponse mirrors spec.md §6's GET /status schema.
type statusResponse struct {
	Status        string          `json:"status"`
	ActiveTunnels int             `json:"active_tunnels"`
	Tunnels       []registry.Info `json:"tunnels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		Status:        "running",
		ActiveTunnels: len(snap),
		Tunnels:       snap,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleTunnelConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	sessionCfg := tunnel.Config{
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		QueueDepth:        s.cfg.OutboundQueueDepth,
		PublicURLScheme:   "http",
		BaseDomain:        s.cfg.BaseDomain,
	}
	sess, err := tunnel.Accept(conn, s.registry, s.pending, sessionCfg, "", r.Host)
	if err != nil {
		s.logger.Warn("tunnel handshake rejected", "err", err)
		return
	}

	s.logger.Info("tunnel connected", "tunnel_id", sess.Tunnel().ID(), "public_id", sess.Tunnel().PublicID())
	s.metrics.ActiveTunnels.Set(float64(s.registry.Len()))

	go func() {
		<-sess.Tunnel().Done()
		s.limiter.Forget(sess.Tunnel().PublicID())
		s.metrics.ActiveTunnels.Set(float64(s.registry.Len()))
		s.logger.Info("tunnel closed", "tunnel_id", sess.Tunnel().ID())
	}()
}

// Shutdown marks every registered tunnel Draining (resolving its
// pending requests with TunnelGone), closes the broker connection, and
// then waits for a 5s grace period or ctx, whichever ends first. It
// does not stop the HTTP listener started by Run, and it does not
// close tunnels or their control connections.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, info := range s.registry.Snapshot() {
		if t, ok := s.registry.LookupByTunnelID(info.TunnelID); ok {
			if drainer, ok := t.(interface{ Drain(*pending.Table) }); ok {
				drainer.Drain(s.pending)
			}
		}
	}
	if s.natsConn != nil {
		s.natsConn.Close()
	}

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()
	select {
	case <-ctx.Done():
	case <-grace.C:
	}
	return nil
}
