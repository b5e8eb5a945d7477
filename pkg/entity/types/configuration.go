package types

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Capacity of the queue holding messages waiting for the sender.
	DefaultOutboundQueueSize = 100

	// How many requests can be concurrently in flight.
	DefaultMaxInFlight = 5000

	// Use a maximum timeout for transport configuration.
	transportMaxTimeout = 30 * time.Second
)

// The configuration used by the client entity manager.
type Configuration struct {
	// Name identifying this client in logs and metrics.
	Name string

	// Capacity of the bounded outbound queue.
	OutboundQueueSize int

	// Size of the admission permit pool.
	MaxInFlight int

	// How long retired transactions are remembered, so late acks
	// from the server are recognized and dropped.
	RetiredRetention time.Duration

	// How long released descriptors are remembered, so late
	// server messages are recognized and dropped.
	ReleasedRetention time.Duration

	// Size in bytes of the released descriptors cache.
	ReleasedCacheSize int

	// User provided logger to be used.
	Logger hclog.Logger

	// LogLevel used when no logger is provided.
	LogLevel string

	// Where the metrics are registered. When nil a private
	// registry is used.
	Registerer prometheus.Registerer
}

// Used by the TCP channel.
type TransportConfiguration struct {
	// Server address, host:port.
	Address string

	// Timeout for dialing and writing, default to 5 seconds.
	Timeout time.Duration

	// First delay between reconnection attempts.
	ReconnectBaseDelay time.Duration

	// Maximum delay between reconnection attempts.
	ReconnectMaxDelay time.Duration

	// How long to wait for the server to accept the handshake.
	HandshakeTimeout time.Duration
}

// Used by the broker channel.
type BrokerConfiguration struct {
	// Name of this client, also the exchange where responses
	// are consumed from.
	Name string

	// Exchange consumed by the server.
	ServerExchange string
}

// Creates a default configuration ready to be used.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Name:              "entity-client",
		OutboundQueueSize: DefaultOutboundQueueSize,
		MaxInFlight:       DefaultMaxInFlight,
		RetiredRetention:  10 * time.Minute,
		ReleasedRetention: time.Minute,
		ReleasedCacheSize: 1024 * 1024,
		LogLevel:          "INFO",
	}
}

// Create a configuration for the TCP channel using the default values.
func DefaultTransportConfiguration() *TransportConfiguration {
	return &TransportConfiguration{
		Timeout:            5 * time.Second,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  time.Second,
		HandshakeTimeout:   10 * time.Second,
	}
}

func DefaultBrokerConfiguration() *BrokerConfiguration {
	return &BrokerConfiguration{
		Name:           "entity-client",
		ServerExchange: "entity-server",
	}
}

// Verify if the given configuration is valid to be used.
// A missing logger is replaced by one using the configured level.
func ValidateConfiguration(config *Configuration) error {
	if config.OutboundQueueSize <= 0 {
		return fmt.Errorf("outbound queue size must be positive, got %d", config.OutboundQueueSize)
	}

	if config.MaxInFlight <= 0 {
		return fmt.Errorf("max in flight must be positive, got %d", config.MaxInFlight)
	}

	if config.RetiredRetention <= 0 {
		return fmt.Errorf("retired retention must be positive, got %v", config.RetiredRetention)
	}

	if config.ReleasedRetention < time.Second {
		return fmt.Errorf("released retention must be at least a second, got %v", config.ReleasedRetention)
	}

	if config.Logger == nil {
		level := hclog.LevelFromString(config.LogLevel)
		if level == hclog.NoLevel {
			return fmt.Errorf("unknown log level %q", config.LogLevel)
		}
		config.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   config.Name,
			Level:  level,
			Output: os.Stderr,
		})
	}

	return nil
}

// Verify the transport configuration for errors.
func ValidateTransportConfiguration(config *TransportConfiguration) error {
	if len(config.Address) == 0 {
		return fmt.Errorf("server address cannot be empty")
	}

	if config.Timeout > transportMaxTimeout {
		return fmt.Errorf("transport timeout too high %v max is %v", config.Timeout, transportMaxTimeout)
	}

	if config.ReconnectBaseDelay <= 0 || config.ReconnectMaxDelay < config.ReconnectBaseDelay {
		return fmt.Errorf("invalid reconnect delays, base %v max %v", config.ReconnectBaseDelay, config.ReconnectMaxDelay)
	}

	return nil
}

func ValidateBrokerConfiguration(config *BrokerConfiguration) error {
	if len(config.Name) == 0 || len(config.ServerExchange) == 0 {
		return fmt.Errorf("broker name and server exchange are required")
	}

	if config.Name == config.ServerExchange {
		return fmt.Errorf("client exchange %s must differ from the server exchange", config.Name)
	}
	return nil
}
