package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wormhole-tunnel/wormhole/internal/agent"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to the agent's configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(*configPath); err != nil {
		slog.Error("wormhole agent exited with error", "err", err)
		os.Exit(1)
	}
}

// run loads configuration, starts the agent, and blocks until ctx is
// cancelled by SIGINT/SIGTERM or the tunnel loop gives up.
func run(configPath string) error {
	cfg, err := agent.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading agent config from %s: %w", configPath, err)
	}

	a, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing agent: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("wormhole agent starting", "relay_url", cfg.Relay.URL)
	err = a.Run(ctx)
	slog.Info("wormhole agent stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
