package entity

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// Client is a connection to an entity server. Lifecycle operations
// block until the server answers, invocations go through the
// endpoints returned by FetchEntity.
type Client struct {
	manager *core.Manager
	channel channel
	logger  hclog.Logger
	closed  helper.Flag
}

func (c *Client) ClientID() types.ClientID {
	return c.manager.ClientID()
}

func (c *Client) State() core.ConnectionState {
	return c.manager.State()
}

// Manager exposes the underlying manager, for invocations that
// need the full control over acks and monitors.
func (c *Client) Manager() *core.Manager {
	return c.manager
}

func (c *Client) CreateEntity(ctx context.Context, eid types.EntityID, version uint64, configuration []byte) ([]byte, error) {
	future, err := c.manager.CreateEntity(ctx, eid, version, configuration)
	return wait(ctx, future, err)
}

func (c *Client) DestroyEntity(ctx context.Context, eid types.EntityID, version uint64) ([]byte, error) {
	future, err := c.manager.DestroyEntity(ctx, eid, version)
	return wait(ctx, future, err)
}

// ReconfigureEntity returns the configuration the server applied.
func (c *Client) ReconfigureEntity(ctx context.Context, eid types.EntityID, version uint64, configuration []byte) ([]byte, error) {
	future, err := c.manager.ReconfigureEntity(ctx, eid, version, configuration)
	return wait(ctx, future, err)
}

func (c *Client) DoesEntityExist(ctx context.Context, eid types.EntityID, version uint64) (bool, error) {
	return c.manager.DoesEntityExist(ctx, eid, version)
}

// FetchEntity retrieves a new endpoint for the entity. Every call
// creates a new client instance, closing the endpoint releases it.
func (c *Client) FetchEntity(ctx context.Context, eid types.EntityID, version uint64) (*core.Endpoint, error) {
	descriptor := types.NewDescriptor(eid, c.manager.NextInstanceID(), version)
	return c.manager.FetchEntity(ctx, descriptor, nil)
}

// Close disconnects from the server. Pending operations fail with
// a connection closed exception and endpoints close without release.
func (c *Client) Close() error {
	if !c.closed.Inactivate() {
		return nil
	}

	err := c.channel.Close()
	c.manager.Shutdown()
	if err != nil {
		c.logger.Warn("failed closing channel", "error", err)
	}
	return err
}

func wait(ctx context.Context, future core.InvokeFuture, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return future.Get(ctx)
}
