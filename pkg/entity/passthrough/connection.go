package passthrough

import (
	"context"
	"sync"

	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

const queueSize = 1024

type result struct {
	value []byte
	err   error
}

// Connection is the client side channel of the passthrough server.
// Messages are applied in arrival order by a single goroutine.
type Connection struct {
	server  *Server
	client  types.ClientID
	handler core.Handler
	invoker *helper.Invoker
	queue   chan *types.Message

	ctx    context.Context
	cancel context.CancelFunc
	closed helper.Flag

	// Held while a message is applied, disconnecting waits for it.
	processing sync.Mutex
	connected  bool
	processed  map[types.TransactionID]result

	mutex sync.Mutex
	held  chan struct{}
}

func newConnection(server *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		server:    server,
		invoker:   helper.NewInvoker(),
		queue:     make(chan *types.Message, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		processed: make(map[types.TransactionID]result),
	}
}

// Start binds the connection to the manager and starts applying
// messages.
func (c *Connection) Start(handler core.Handler) error {
	c.handler = handler
	c.client = handler.ClientID()
	c.server.connected(c)
	c.processing.Lock()
	c.connected = true
	c.processing.Unlock()
	return c.invoker.Spawn(c.poll)
}

// Send implements the core.Channel interface.
func (c *Connection) Send(message *types.Message) bool {
	c.processing.Lock()
	connected := c.connected
	c.processing.Unlock()
	if !connected {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.queue <- message:
		return true
	}
}

func (c *Connection) poll() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.queue:
			if !c.waitGate() {
				return
			}
			c.processing.Lock()
			if c.connected {
				c.handle(message)
			}
			c.processing.Unlock()
		}
	}
}

// Must be called while processing.
func (c *Connection) handle(message *types.Message) {
	id := message.TransactionID
	c.handler.Received(id)

	previous, done := c.processed[id]
	if !done {
		value, err := c.server.apply(c, message)
		previous = result{value: value, err: err}
		c.processed[id] = previous
	}
	c.handler.SetResult(id, previous.value, previous.err)
	c.handler.Retired(id)

	// Everything below the oldest pending transaction is retired
	// on the client and never resent.
	for processed := range c.processed {
		if processed < message.OldestTransactionID {
			delete(c.processed, processed)
		}
	}
}

func (c *Connection) waitGate() bool {
	for {
		c.mutex.Lock()
		held := c.held
		c.mutex.Unlock()
		if held == nil {
			return true
		}

		select {
		case <-c.ctx.Done():
			return false
		case <-held:
		}
	}
}

// Hold stops applying messages until Resume is called. Sent
// messages stay pending on the client.
func (c *Connection) Hold() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.held == nil {
		c.held = make(chan struct{})
	}
}

func (c *Connection) Resume() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.held != nil {
		close(c.held)
		c.held = nil
	}
}

// Disconnect simulates a lost connection. Messages not yet applied
// are lost and the client pauses.
func (c *Connection) Disconnect() {
	c.processing.Lock()
	c.connected = false
	for drained := false; !drained; {
		select {
		case <-c.queue:
		default:
			drained = true
		}
	}
	c.processing.Unlock()
	c.handler.Pause()
}

// Reconnect replays the client handshake. Resent messages already
// applied are answered with the recorded result.
func (c *Connection) Reconnect() {
	handshake := &types.HandshakeMessage{Client: c.client}
	c.handler.InitializeHandshake(handshake)
	c.server.reattach(c.client, handshake.References)

	c.processing.Lock()
	c.connected = true
	for _, resend := range handshake.Resends {
		c.handle(resend.Message(c.client))
	}
	c.processing.Unlock()
	c.handler.Unpause()
}

// Restart simulates a server that lost the client session. The
// client rejoins with an empty state.
func (c *Connection) Restart() {
	c.Disconnect()
	c.server.forget(c.client)
	c.processing.Lock()
	c.processed = make(map[types.TransactionID]result)
	c.processing.Unlock()
	c.handler.StartRejoin()
	c.Reconnect()
}

func (c *Connection) deliver(descriptor types.EntityDescriptor, data []byte) {
	c.processing.Lock()
	connected := c.connected
	c.processing.Unlock()
	if connected {
		c.handler.HandleMessage(descriptor, data)
	}
}

func (c *Connection) shutdown() {
	_ = c.Close()
	if c.handler != nil {
		c.handler.Shutdown()
	}
}

// Close stops the connection and drops the client fetches.
func (c *Connection) Close() error {
	if !c.closed.Inactivate() {
		return nil
	}
	c.processing.Lock()
	c.connected = false
	c.processing.Unlock()
	c.cancel()
	c.invoker.Stop()
	c.server.disconnected(c)
	return nil
}
