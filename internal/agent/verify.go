package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ipCheckURL is the public ip-echo service used to tell direct egress
// apart from proxied egress.
const ipCheckURL = "https://api.ipify.org"

// Verifier confirms the agent's egress proxy is actually on the path
// to the wormhole server, rather than being configured but silently
// bypassed, by comparing the process's direct public ip against its
// proxied public ip.
type Verifier struct {
	dialer  *ProxyDialer
	timeout time.Duration
}

// NewVerifier builds a Verifier for dialer, each ip lookup bounded by timeout.
func NewVerifier(dialer *ProxyDialer, timeout time.Duration) *Verifier {
	return &Verifier{dialer: dialer, timeout: timeout}
}

// VerifyRouting fails if the direct and proxied public ips match,
// which would mean the proxy is a no-op for this agent's egress path.
func (v *Verifier) VerifyRouting(ctx context.Context) error {
	directIP, err := v.directIP(ctx)
	if err != nil {
		return fmt.Errorf("fetching direct egress ip: %w", err)
	}

	proxiedIP, err := v.proxiedIP(ctx)
	if err != nil {
		return fmt.Errorf("fetching proxied egress ip: %w", err)
	}

	slog.Info("egress proxy routing check", "direct_ip", directIP, "proxied_ip", proxiedIP)

	if directIP == proxiedIP {
		return fmt.Errorf("egress proxy is not on path: direct ip %s matches proxied ip %s", directIP, proxiedIP)
	}

	slog.Info("egress proxy routing verified")
	return nil
}

// CheckHealth re-fetches the proxied ip to confirm the proxy is still reachable.
func (v *Verifier) CheckHealth(ctx context.Context) error {
	_, err := v.proxiedIP(ctx)
	if err != nil {
		return fmt.Errorf("egress proxy health check failed: %w", err)
	}
	return nil
}

// directIP fetches the process's public ip without going through the egress proxy.
func (v *Verifier) directIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: v.timeout}
	return fetchPublicIP(ctx, client)
}

// proxiedIP fetches the public ip as seen through the configured egress proxy.
func (v *Verifier) proxiedIP(ctx context.Context) (string, error) {
	transport := &http.Transport{
		DialContext: v.dialer.DialContext,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}
	return fetchPublicIP(ctx, client)
}

// fetchPublicIP queries the ip-echo service with client and validates the result.
func fetchPublicIP(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipCheckURL, nil)
	if err != nil {
		return "", fmt.Errorf("building ip-check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying ip-check service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading ip-check response: %w", err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip-check service returned a non-ip response: %q", ip)
	}
	return ip, nil
}

// StartPeriodicCheck runs v.CheckHealth on a ticker until it fails or
// stop is called. On failure the error is sent once on the returned
// channel and the loop exits, signalling runTunnel to tear the tunnel down.
func StartPeriodicCheck(v *Verifier, interval time.Duration) (stop func(), failed <-chan error) {
	done := make(chan struct{})
	errCh := make(chan error, 1)
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
				if err := v.CheckHealth(ctx); err != nil {
					cancel()
					slog.Error("periodic egress proxy check failed", "err", err)
					select {
					case errCh <- err:
					default:
					}
					return
				}
				cancel()
				slog.Debug("periodic egress proxy check passed")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
	}, errCh
}
