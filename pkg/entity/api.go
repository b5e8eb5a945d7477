package entity

import (
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/network"
	"github.com/jabolina/go-entity/pkg/entity/passthrough"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// Creates the default client configuration, logging to stderr
// at INFO level.
func DefaultConfiguration() *types.Configuration {
	return types.DefaultConfiguration()
}

// Creates the default transport configuration for a server at
// the given address.
func DefaultTransportConfiguration(address string) *types.TransportConfiguration {
	transport := types.DefaultTransportConfiguration()
	transport.Address = address
	return transport
}

// Connect creates a client connected to the server over TCP.
func Connect(configuration *types.Configuration, transport *types.TransportConfiguration) (*Client, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}

	channel, err := network.NewTCPChannel(transport, configuration.Logger)
	if err != nil {
		return nil, err
	}
	return start(channel, configuration)
}

// ConnectBroker creates a client talking to the server through
// the message broker.
func ConnectBroker(configuration *types.Configuration, broker *types.BrokerConfiguration) (*Client, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}

	channel, err := network.NewBrokerChannel(broker, configuration.Logger)
	if err != nil {
		return nil, err
	}
	return start(channel, configuration)
}

// ConnectPassthrough creates a client bound to the in-process server.
func ConnectPassthrough(configuration *types.Configuration, server *passthrough.Server) (*Client, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}
	return start(server.NewConnection(), configuration)
}

// A transport the client owns.
type channel interface {
	core.Channel
	Start(handler core.Handler) error
	Close() error
}

func start(c channel, configuration *types.Configuration) (*Client, error) {
	m, err := core.NewManager(c, configuration)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	if err := c.Start(m); err != nil {
		_ = c.Close()
		m.Shutdown()
		return nil, err
	}

	return &Client{
		manager: m,
		channel: c,
		logger:  configuration.Logger.Named("client"),
	}, nil
}
