package entity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "entity.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfiguration_OverridesDefaults(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := writeConfig(t, `
name = "billing"
log_level = "debug"
max_in_flight = 10
retired_retention = "30s"

[transport]
address = "localhost:9410"
reconnect_max_delay = "2s"

[broker]
server_exchange = "billing-server"
`)

	cfg, err := LoadConfiguration(path)
	require.NoError(t, err)
	require.Equal(t, "billing", cfg.Client.Name)
	require.Equal(t, "DEBUG", cfg.Client.LogLevel)
	require.Equal(t, 10, cfg.Client.MaxInFlight)
	require.Equal(t, 100, cfg.Client.OutboundQueueSize)
	require.Equal(t, 30*time.Second, cfg.Client.RetiredRetention)
	require.Equal(t, time.Minute, cfg.Client.ReleasedRetention)

	require.Equal(t, "localhost:9410", cfg.Transport.Address)
	require.Equal(t, 2*time.Second, cfg.Transport.ReconnectMaxDelay)
	require.Equal(t, 5*time.Millisecond, cfg.Transport.ReconnectBaseDelay)

	require.Equal(t, "entity-client", cfg.Broker.Name)
	require.Equal(t, "billing-server", cfg.Broker.ServerExchange)
}

func TestLoadConfiguration_InvalidDuration(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := writeConfig(t, `
[transport]
timeout = "soon"
`)

	_, err := LoadConfiguration(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport.timeout")
}

func TestLoadConfiguration_MissingFile(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
