package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_load_config_applies_defaults_with_no_file(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 256, cfg.OutboundQueueDepth)
}

func Test_load_config_reads_yaml_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 127.0.0.1\nport: 9090\nbase_domain: wormhole.test\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "wormhole.test", cfg.BaseDomain)
}

func Test_load_config_env_overrides_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\n"), 0o644))

	t.Setenv("WH_PORT", "7070")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
}

func Test_load_config_rejects_invalid_port(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 0\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func Test_load_config_treats_localhost_base_domain_as_path_routing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_domain: localhost\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "", cfg.BaseDomain)
}

func Test_default_config_heartbeat_interval_is_at_least_ten_seconds(t *testing.T) {
	cfg := defaultConfig()
	require.GreaterOrEqual(t, cfg.HeartbeatInterval, 10*time.Second)
}
