package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the server's full configuration: a YAML file provides
// the base layer, environment variables prefixed WH_ overlay it, and
// struct tags enforce the numeric bounds spec.md §6 names.
type Config struct {
	Host string `yaml:"host" env:"HOST" validate:"required"`
	Port int    `yaml:"port" env:"PORT" validate:"required,min=1,max=65535"`

	// BaseDomain anchors host-based routing; empty or "localhost"
	// disables it in favor of path-based routing (spec.md §4.1).
	BaseDomain string `yaml:"base_domain" env:"BASE_DOMAIN"`

	RequestTimeout     time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" validate:"min=1000000000"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" validate:"min=10000000000"`
	OutboundQueueDepth int           `yaml:"outbound_queue_depth" env:"OUTBOUND_QUEUE_DEPTH" validate:"min=1"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" validate:"min=1"`

	// BrokerURL, when set, enables the split-shape NATS transport
	// instead of the in-process DirectTransport (spec.md §6).
	BrokerURL string `yaml:"broker_url" env:"BROKER_URL"`

	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" env:"MAX_REQUESTS_PER_SECOND"`
	RateLimitBurst       int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFile  string `yaml:"log_file" env:"LOG_FILE"`
}

// defaultConfig mirrors spec.md §6's stated defaults.
func defaultConfig() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 8080,
		RequestTimeout:       30 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		OutboundQueueDepth:   256,
		MaxBodyBytes:         10 << 20,
		MaxRequestsPerSecond: 0,
		RateLimitBurst:       20,
		LogLevel:             "info",
	}
}

// LoadConfig reads path as YAML over the built-in defaults, overlays
// WH_-prefixed environment variables, then validates the result.
// An empty path skips the file layer, using only defaults and env.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "WH_"}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.BaseDomain == "localhost" {
		cfg.BaseDomain = ""
	}
	return &cfg, nil
}
