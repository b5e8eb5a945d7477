package core

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// MessageListener receives the messages the server sends to an entity.
type MessageListener interface {
	HandleMessage(message []byte)
}

// MessageListenerFunc adapts a function into a MessageListener.
type MessageListenerFunc func(message []byte)

func (f MessageListenerFunc) HandleMessage(message []byte) {
	f(message)
}

// DisconnectListener is implemented by listeners interested in the
// endpoint closing without a release, when the manager shuts down
// or rejoins.
type DisconnectListener interface {
	DidDisconnectUnexpectedly()
}

// ReconnectHandler supplies the entity specific client state sent
// with the handshake.
type ReconnectHandler func() []byte

// The view an endpoint has of its manager, always keyed by the
// endpoint descriptor.
type endpointOwner interface {
	invokeAction(ctx context.Context, descriptor types.EntityDescriptor, acks types.Acks, requiresReplication, blockGetOnRetire bool, payload []byte, monitor InFlightMonitor) (InvokeFuture, error)
	release(ctx context.Context, descriptor types.EntityDescriptor, endpoint *Endpoint) error
	spawn(f func()) error
}

// Endpoint is the handle application code holds for a fetched entity.
type Endpoint struct {
	descriptor    types.EntityDescriptor
	fetchID       types.FetchID
	configuration []byte
	owner         endpointOwner
	closeHook     func()
	logger        hclog.Logger
	closed        helper.Flag

	mutex     sync.RWMutex
	listeners []MessageListener
	reconnect ReconnectHandler
}

func newEndpoint(descriptor types.EntityDescriptor, fetchID types.FetchID, configuration []byte, owner endpointOwner, closeHook func(), logger hclog.Logger) *Endpoint {
	return &Endpoint{
		descriptor:    descriptor,
		fetchID:       fetchID,
		configuration: configuration,
		owner:         owner,
		closeHook:     closeHook,
		logger:        logger.With("descriptor", descriptor.String()),
	}
}

func (e *Endpoint) Descriptor() types.EntityDescriptor {
	return e.descriptor
}

func (e *Endpoint) EntityID() types.EntityID {
	return e.descriptor.Entity
}

func (e *Endpoint) Version() uint64 {
	return e.descriptor.Version
}

func (e *Endpoint) InstanceID() types.ClientInstanceID {
	return e.descriptor.Instance
}

func (e *Endpoint) FetchID() types.FetchID {
	return e.fetchID
}

// GetEntityConfiguration returns a copy of the configuration
// captured when the entity was fetched.
func (e *Endpoint) GetEntityConfiguration() []byte {
	c := make([]byte, len(e.configuration))
	copy(c, e.configuration)
	return c
}

// RegisterListener adds a listener. Messages are delivered to the
// listeners in registration order.
func (e *Endpoint) RegisterListener(listener MessageListener) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.listeners = append(e.listeners, listener)
}

func (e *Endpoint) SetReconnectHandler(handler ReconnectHandler) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.reconnect = handler
}

// GetExtendedReconnectData returns the reconnect handler data, an
// empty slice when there is no handler.
func (e *Endpoint) GetExtendedReconnectData() []byte {
	e.mutex.RLock()
	handler := e.reconnect
	e.mutex.RUnlock()

	if handler == nil {
		return []byte{}
	}
	if data := handler(); data != nil {
		return data
	}
	return []byte{}
}

func (e *Endpoint) snapshotListeners() []MessageListener {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	listeners := make([]MessageListener, len(e.listeners))
	copy(listeners, e.listeners)
	return listeners
}

// HandleMessage dispatches a server message to the listeners.
// Messages arriving after the endpoint closed are dropped.
func (e *Endpoint) HandleMessage(message []byte) {
	if e.closed.IsInactive() {
		e.logger.Debug("dropping message for closed endpoint", "size", len(message))
		return
	}

	for _, listener := range e.snapshotListeners() {
		listener.HandleMessage(message)
	}
}

// BeginInvoke starts a new invocation on the entity.
func (e *Endpoint) BeginInvoke() *InvocationBuilder {
	return &InvocationBuilder{endpoint: e}
}

func (e *Endpoint) IsClosed() bool {
	return e.closed.IsInactive()
}

// Close releases the entity on the server and runs the close hook.
// Only the first call has any effect.
func (e *Endpoint) Close(ctx context.Context) error {
	if !e.closed.Inactivate() {
		return nil
	}

	err := e.owner.release(ctx, e.descriptor, e)
	if e.closeHook != nil {
		e.closeHook()
	}
	return err
}

// CloseAsync closes the endpoint on a goroutine owned by the manager.
func (e *Endpoint) CloseAsync() <-chan error {
	result := make(chan error, 1)
	err := e.owner.spawn(func() {
		result <- e.Close(context.Background())
	})
	if err != nil {
		result <- types.ErrNotRunning
	}
	return result
}

// DidCloseUnexpectedly closes the endpoint without a release, the
// connection to the server is gone.
func (e *Endpoint) DidCloseUnexpectedly() {
	if !e.closed.Inactivate() {
		return
	}

	for _, listener := range e.snapshotListeners() {
		if l, ok := listener.(DisconnectListener); ok {
			l.DidDisconnectUnexpectedly()
		}
	}
	if e.closeHook != nil {
		e.closeHook()
	}
}

// InvocationBuilder collects the invocation parameters. A builder
// is used for a single invocation.
type InvocationBuilder struct {
	endpoint         *Endpoint
	used             helper.Flag
	payload          []byte
	acks             types.Acks
	replicate        bool
	blockGetOnRetire bool
	monitor          InFlightMonitor
}

func (b *InvocationBuilder) Message(payload []byte) *InvocationBuilder {
	b.payload = payload
	return b
}

// Ack adds acks the invoke call waits for before returning.
func (b *InvocationBuilder) Ack(acks ...types.Ack) *InvocationBuilder {
	for _, a := range acks {
		b.acks = b.acks.With(a)
	}
	return b
}

func (b *InvocationBuilder) Replicate(replicate bool) *InvocationBuilder {
	b.replicate = replicate
	return b
}

// BlockGetOnRetire makes Get wait for the retirement instead of
// the completion.
func (b *InvocationBuilder) BlockGetOnRetire(block bool) *InvocationBuilder {
	b.blockGetOnRetire = block
	return b
}

// Monitor streams the partial results of the invocation.
func (b *InvocationBuilder) Monitor(monitor InFlightMonitor) *InvocationBuilder {
	b.monitor = monitor
	return b
}

// Invoke issues the invocation and returns once the requested acks
// arrived. Panics if the builder was already used.
func (b *InvocationBuilder) Invoke(ctx context.Context) (InvokeFuture, error) {
	helper.Assert(b.used.Inactivate(), "invocation builder for %s used twice", b.endpoint.descriptor)
	if b.endpoint.IsClosed() {
		return nil, types.ErrEndpointClosed
	}
	return b.endpoint.owner.invokeAction(ctx, b.endpoint.descriptor, b.acks, b.replicate, b.blockGetOnRetire, b.payload, b.monitor)
}
