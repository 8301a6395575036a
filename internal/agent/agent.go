package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Agent manages the lifecycle of the control-channel connection to the
// wormhole server: optional egress-proxy verification up front, then an
// automatic-reconnect loop that keeps one tunnel alive for as long as
// the process runs.
type Agent struct {
	cfg    *Config
	dialer *ProxyDialer
}

// New builds an agent from cfg. A proxy dialer is only constructed when
// proxy.url is set — most agents reach the server directly.
func New(cfg *Config) (*Agent, error) {
	var dialer *ProxyDialer
	if cfg.Proxy.URL != "" {
		var err error
		dialer, err = NewProxyDialer(cfg.Proxy.URL, cfg.Proxy.HealthTimeout)
		if err != nil {
			return nil, fmt.Errorf("building egress proxy dialer: %w", err)
		}
	}
	return &Agent{cfg: cfg, dialer: dialer}, nil
}

// Run verifies egress routing (when configured), then holds the tunnel
// up via reconnectLoop until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if a.dialer != nil && a.cfg.Proxy.VerifyRouting {
		slog.Info("verifying egress proxy routes traffic before first handshake")
		if err := a.verifyEgressProxy(ctx); err != nil {
			return fmt.Errorf("egress proxy verification: %w", err)
		}
	}

	return a.reconnectLoop(ctx)
}

// verifyEgressProxy confirms outbound traffic actually leaves through
// the configured proxy rather than silently falling back to direct.
func (a *Agent) verifyEgressProxy(ctx context.Context) error {
	verifier := NewVerifier(a.dialer, a.cfg.Proxy.HealthTimeout)
	return verifier.VerifyRouting(ctx)
}

// reconnectLoop holds the tunnel up indefinitely: each disconnect is
// followed by an exponential backoff, capped at MaxReconnectDelay, until
// ctx is cancelled.
func (a *Agent) reconnectLoop(ctx context.Context) error {
	delay := a.cfg.Tunnel.ReconnectDelay
	for {
		err := a.runTunnel(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("tunnel to wormhole server disconnected, reconnecting", "err", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > a.cfg.Tunnel.MaxReconnectDelay {
			delay = a.cfg.Tunnel.MaxReconnectDelay
		}
	}
}

// runTunnel connects to the wormhole server and serves control messages
// until the connection drops, the context is cancelled, or a periodic
// egress health check fails.
func (a *Agent) runTunnel(ctx context.Context) error {
	tun, err := ConnectTunnel(ctx, a.cfg, a.dialer)
	if err != nil {
		return err
	}
	defer tun.Close()

	var stopCheck func()
	var checkFailed <-chan error
	if a.dialer != nil && a.cfg.Proxy.RecheckInterval > 0 {
		verifier := NewVerifier(a.dialer, a.cfg.Proxy.HealthTimeout)
		stopCheck, checkFailed = StartPeriodicCheck(verifier, a.cfg.Proxy.RecheckInterval)
		defer stopCheck()
	}

	tunnelErr := make(chan error, 1)
	go func() {
		tunnelErr <- tun.Run()
	}()

	select {
	case err := <-tunnelErr:
		return err
	case err := <-checkFailed:
		slog.Error("egress proxy health check failed, tearing down tunnel", "public_id", tun.PublicID(), "err", err)
		tun.Close()
		return err
	case <-ctx.Done():
		tun.Close()
		return ctx.Err()
	}
}
