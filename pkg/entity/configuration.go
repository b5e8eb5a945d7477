package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// FileConfiguration is everything a configuration file can set.
// Values missing from the file keep their defaults.
type FileConfiguration struct {
	Client    *types.Configuration
	Transport *types.TransportConfiguration
	Broker    *types.BrokerConfiguration
}

// TOML key mapping to the client settings.
type fileConfig struct {
	Name              string `toml:"name"`
	LogLevel          string `toml:"log_level"`
	OutboundQueueSize int    `toml:"outbound_queue_size"`
	MaxInFlight       int    `toml:"max_in_flight"`
	RetiredRetention  string `toml:"retired_retention"`
	ReleasedRetention string `toml:"released_retention"`
	ReleasedCacheSize int    `toml:"released_cache_size"`

	Transport transportFileConfig `toml:"transport"`
	Broker    brokerFileConfig    `toml:"broker"`
}

type transportFileConfig struct {
	Address            string `toml:"address"`
	Timeout            string `toml:"timeout"`
	ReconnectBaseDelay string `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  string `toml:"reconnect_max_delay"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
}

type brokerFileConfig struct {
	Name           string `toml:"name"`
	ServerExchange string `toml:"server_exchange"`
}

// LoadConfiguration reads a TOML file on top of the defaults.
func LoadConfiguration(path string) (*FileConfiguration, error) {
	cfg := &FileConfiguration{
		Client:    types.DefaultConfiguration(),
		Transport: types.DefaultTransportConfiguration(),
		Broker:    types.DefaultBrokerConfiguration(),
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load entity config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Client.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("log_level") {
		cfg.Client.LogLevel = strings.ToUpper(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("outbound_queue_size") {
		cfg.Client.OutboundQueueSize = raw.OutboundQueueSize
	}
	if meta.IsDefined("max_in_flight") {
		cfg.Client.MaxInFlight = raw.MaxInFlight
	}
	if meta.IsDefined("released_cache_size") {
		cfg.Client.ReleasedCacheSize = raw.ReleasedCacheSize
	}

	durations := []struct {
		key    []string
		value  string
		target *time.Duration
	}{
		{[]string{"retired_retention"}, raw.RetiredRetention, &cfg.Client.RetiredRetention},
		{[]string{"released_retention"}, raw.ReleasedRetention, &cfg.Client.ReleasedRetention},
		{[]string{"transport", "timeout"}, raw.Transport.Timeout, &cfg.Transport.Timeout},
		{[]string{"transport", "reconnect_base_delay"}, raw.Transport.ReconnectBaseDelay, &cfg.Transport.ReconnectBaseDelay},
		{[]string{"transport", "reconnect_max_delay"}, raw.Transport.ReconnectMaxDelay, &cfg.Transport.ReconnectMaxDelay},
		{[]string{"transport", "handshake_timeout"}, raw.Transport.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.target = parsed
	}

	if meta.IsDefined("transport", "address") {
		cfg.Transport.Address = strings.TrimSpace(raw.Transport.Address)
	}
	if meta.IsDefined("broker", "name") {
		cfg.Broker.Name = strings.TrimSpace(raw.Broker.Name)
	}
	if meta.IsDefined("broker", "server_exchange") {
		cfg.Broker.ServerExchange = strings.TrimSpace(raw.Broker.ServerExchange)
	}

	return cfg, nil
}
