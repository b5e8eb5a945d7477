package core

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

const fetchIDSize = 8

// Manager turns entity operations into tracked messages, sends them
// in transaction order through a single sender and demultiplexes the
// server responses back to the waiting callers. On reconnect it
// rebuilds the server view of this client through the handshake.
//
// Shutdown must not be called from a goroutine spawned by the manager.
type Manager struct {
	clientID      types.ClientID
	configuration *types.Configuration
	logger        hclog.Logger
	channel       Channel
	invoker       *helper.Invoker
	metrics       *Metrics
	state         *connectionState
	source        *TransactionSource
	retired       *RetiredPurgatory
	released      *ReleasedPurgatory

	ctx    context.Context
	cancel context.CancelFunc

	// Holds one token for every admitted message not yet finished.
	permits chan struct{}

	// Messages waiting for the sender, in transaction order.
	outbound chan *InFlightMessage

	// Serializes allocation and enqueueing.
	admission sync.Mutex

	mutex     sync.Mutex
	inFlight  map[types.TransactionID]*InFlightMessage
	endpoints map[types.EntityDescriptor]*Endpoint

	instances uint64
}

// NewManager creates a manager bound to an open channel, starting
// in the RUNNING state.
func NewManager(channel Channel, configuration *types.Configuration) (*Manager, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clientID:      types.ClientID(helper.GenerateUID()),
		configuration: configuration,
		logger:        configuration.Logger.Named("manager"),
		channel:       channel,
		invoker:       helper.NewInvoker(),
		metrics:       NewMetrics(configuration.Name, configuration.Registerer),
		source:        NewTransactionSource(),
		retired:       NewRetiredPurgatory(configuration.RetiredRetention),
		released:      NewReleasedPurgatory(configuration.ReleasedCacheSize, configuration.ReleasedRetention),
		ctx:           ctx,
		cancel:        cancel,
		permits:       make(chan struct{}, configuration.MaxInFlight),
		outbound:      make(chan *InFlightMessage, configuration.OutboundQueueSize),
		inFlight:      make(map[types.TransactionID]*InFlightMessage),
		endpoints:     make(map[types.EntityDescriptor]*Endpoint),
	}
	m.state = newConnectionState(Running, m.stateChanged)
	m.metrics.setState(Running)

	if err := m.invoker.Spawn(m.send); err != nil {
		cancel()
		m.retired.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) ClientID() types.ClientID {
	return m.clientID
}

func (m *Manager) State() ConnectionState {
	return m.state.current()
}

func (m *Manager) IsRunning() bool {
	return m.state.current() == Running
}

// NextInstanceID allocates a client instance for a new fetch.
func (m *Manager) NextInstanceID() types.ClientInstanceID {
	return types.ClientInstanceID(atomic.AddUint64(&m.instances, 1))
}

func (m *Manager) stateChanged(from, to ConnectionState) {
	m.logger.Debug("connection state changed", "from", from, "to", to)
	m.metrics.setState(to)
}

func (m *Manager) spawn(f func()) error {
	return m.invoker.Spawn(f)
}

// CreateEntity asks the server to create the entity, returning once
// the server received the request.
func (m *Manager) CreateEntity(ctx context.Context, eid types.EntityID, version uint64, configuration []byte) (InvokeFuture, error) {
	return m.lifecycle(ctx, eid, version, types.CreateEntity, configuration)
}

func (m *Manager) DestroyEntity(ctx context.Context, eid types.EntityID, version uint64) (InvokeFuture, error) {
	return m.lifecycle(ctx, eid, version, types.DestroyEntity, nil)
}

func (m *Manager) ReconfigureEntity(ctx context.Context, eid types.EntityID, version uint64, configuration []byte) (InvokeFuture, error) {
	return m.lifecycle(ctx, eid, version, types.ReconfigureEntity, configuration)
}

func (m *Manager) lifecycle(ctx context.Context, eid types.EntityID, version uint64, kind types.MessageType, payload []byte) (InvokeFuture, error) {
	descriptor := types.NewLifecycleDescriptor(eid, version)
	message, err := m.submit(ctx, descriptor, kind, types.NewAcks(types.Received), true, false, payload, nil)
	return asFuture(message, err)
}

// InvokeAction sends an invocation, returning once the requested
// acks were observed. The result is read from the returned future.
func (m *Manager) InvokeAction(ctx context.Context, descriptor types.EntityDescriptor, acks types.Acks, requiresReplication, blockGetOnRetire bool, payload []byte, monitor InFlightMonitor) (InvokeFuture, error) {
	return m.invokeAction(ctx, descriptor, acks, requiresReplication, blockGetOnRetire, payload, monitor)
}

func (m *Manager) invokeAction(ctx context.Context, descriptor types.EntityDescriptor, acks types.Acks, requiresReplication, blockGetOnRetire bool, payload []byte, monitor InFlightMonitor) (InvokeFuture, error) {
	message, err := m.submit(ctx, descriptor, types.InvokeAction, acks, requiresReplication, blockGetOnRetire, payload, monitor)
	return asFuture(message, err)
}

// A message still pending after a failed wait is returned with the
// error, the caller may wait on it again.
func asFuture(message *InFlightMessage, err error) (InvokeFuture, error) {
	if message == nil {
		return nil, err
	}
	return message, err
}

// DoesEntityExist blocks until the server answers.
func (m *Manager) DoesEntityExist(ctx context.Context, eid types.EntityID, version uint64) (bool, error) {
	_, err := m.complete(ctx, types.NewLifecycleDescriptor(eid, version), types.DoesExist, false)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, types.ErrEntityNotFound) {
		return false, nil
	}
	return false, err
}

// FetchEntity attaches to the entity, blocking until the server
// answers. The close hook runs once the endpoint is closed.
func (m *Manager) FetchEntity(ctx context.Context, descriptor types.EntityDescriptor, closeHook func()) (*Endpoint, error) {
	helper.Assert(descriptor.IsIndexed(), "fetch of %s without client instance", descriptor)

	message, raw, err := m.retrieve(ctx, descriptor)
	if err != nil {
		var exception *types.EntityException
		switch {
		case errors.Is(err, types.ErrEntityNotFound):
		case errors.As(err, &exception):
			m.logError(m.release(ctx, descriptor, nil), "rollback release failed", descriptor)
		case message != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			m.releaseWhenFetched(message, descriptor)
		}
		return nil, err
	}

	helper.Assert(len(raw) >= fetchIDSize, "fetch reply for %s too short: %d bytes", descriptor, len(raw))
	fetchID := types.FetchID(binary.BigEndian.Uint64(raw[:fetchIDSize]))
	configuration := make([]byte, len(raw)-fetchIDSize)
	copy(configuration, raw[fetchIDSize:])
	endpoint := newEndpoint(descriptor, fetchID, configuration, m, closeHook, m.logger)

	m.mutex.Lock()
	_, exists := m.endpoints[descriptor]
	if !exists {
		m.endpoints[descriptor] = endpoint
		m.metrics.setEndpoints(len(m.endpoints))
	}
	m.mutex.Unlock()

	if exists {
		m.logError(m.release(ctx, descriptor, nil), "duplicate release failed", descriptor)
		helper.Fail("attempt to add an endpoint that already exists: %s", descriptor)
	}
	m.released.Forget(descriptorKey(descriptor))
	return endpoint, nil
}

func (m *Manager) retrieve(ctx context.Context, descriptor types.EntityDescriptor) (*InFlightMessage, []byte, error) {
	if err := m.state.waitUntilRunning(ctx); err != nil {
		return nil, nil, err
	}

	message, err := m.submit(ctx, descriptor, types.FetchEntity, types.NewAcks(types.Completed), true, false, nil, nil)
	if err != nil {
		return message, nil, err
	}
	raw, err := message.Get(ctx)
	return message, raw, err
}

// A fetch abandoned by its caller may still succeed on the server,
// the reference it creates there is released in background.
func (m *Manager) releaseWhenFetched(message *InFlightMessage, descriptor types.EntityDescriptor) {
	err := m.spawn(func() {
		if _, err := message.Get(m.ctx); err != nil {
			return
		}
		m.logError(m.release(m.ctx, descriptor, nil), "abandoned fetch release failed", descriptor)
	})
	m.logError(err, "could not release abandoned fetch", descriptor)
}

// Blocks until the release completes. The endpoint leaves the
// registry only afterwards, so a reconnect in between still carries
// its reference.
func (m *Manager) release(ctx context.Context, descriptor types.EntityDescriptor, endpoint *Endpoint) error {
	message, err := m.complete(ctx, descriptor, types.ReleaseEntity, true)
	if errors.Is(err, types.ErrNotRunning) {
		err = types.NewConnectionClosed(descriptor.Entity)
	}

	if message != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if spawnErr := m.spawn(func() {
			_, _ = message.Get(m.ctx)
			m.unregister(descriptor, endpoint)
		}); spawnErr == nil {
			return err
		}
	}

	m.unregister(descriptor, endpoint)
	return err
}

func (m *Manager) unregister(descriptor types.EntityDescriptor, endpoint *Endpoint) {
	m.mutex.Lock()
	if current, ok := m.endpoints[descriptor]; ok && endpoint != nil && current == endpoint {
		delete(m.endpoints, descriptor)
		m.metrics.setEndpoints(len(m.endpoints))
	}
	m.mutex.Unlock()
	m.released.Set(descriptorKey(descriptor))
}

// Sends a message waiting for the running state and its completion.
func (m *Manager) complete(ctx context.Context, descriptor types.EntityDescriptor, kind types.MessageType, requiresReplication bool) (*InFlightMessage, error) {
	if err := m.state.waitUntilRunning(ctx); err != nil {
		return nil, err
	}

	message, err := m.submit(ctx, descriptor, kind, types.NewAcks(types.Completed), requiresReplication, false, nil, nil)
	if err != nil {
		return message, err
	}
	_, err = message.Get(ctx)
	return message, err
}

func (m *Manager) submit(ctx context.Context, descriptor types.EntityDescriptor, kind types.MessageType, acks types.Acks, requiresReplication, blockGetOnRetire bool, payload []byte, monitor InFlightMonitor) (*InFlightMessage, error) {
	if err := m.state.admissible(); err != nil {
		return nil, err
	}

	if err := m.acquire(ctx); err != nil {
		return nil, err
	}

	message, err := m.enqueue(ctx, descriptor, kind, acks, requiresReplication, blockGetOnRetire, payload, monitor)
	if err != nil {
		m.releasePermit()
		return nil, err
	}

	// The message stays pending when the wait fails, it is
	// returned so the caller can still follow it.
	if err := message.WaitForAcks(ctx); err != nil {
		return message, m.translateInterrupt(err)
	}
	return message, nil
}

func (m *Manager) acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case m.permits <- struct{}{}:
		m.metrics.recordAdmission(time.Since(start))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return types.ErrNotRunning
	}
}

func (m *Manager) releasePermit() {
	<-m.permits
}

// Allocation and enqueueing happen under the same lock, so the queue
// order is the transaction order and the low-water mark attached to
// consecutive messages never decreases.
func (m *Manager) enqueue(ctx context.Context, descriptor types.EntityDescriptor, kind types.MessageType, acks types.Acks, requiresReplication, blockGetOnRetire bool, payload []byte, monitor InFlightMonitor) (*InFlightMessage, error) {
	m.admission.Lock()
	defer m.admission.Unlock()

	if err := m.state.admissible(); err != nil {
		return nil, err
	}

	id := m.source.Create()
	oldest, _ := m.source.Oldest()
	message := NewInFlightMessage(&types.Message{
		Source:              m.clientID,
		TransactionID:       id,
		OldestTransactionID: oldest,
		Descriptor:          descriptor,
		Type:                kind,
		RequiresReplication: requiresReplication,
		Payload:             payload,
		Acks:                acks,
	}, blockGetOnRetire, monitor)
	message.onFinish = m.releasePermit

	select {
	case m.outbound <- message:
		return message, nil
	case <-ctx.Done():
		m.source.Retire(id)
		return nil, ctx.Err()
	case <-m.ctx.Done():
		m.source.Retire(id)
		return nil, types.ErrNotRunning
	}
}

// An interrupted wait caused by a state change surfaces the state error.
func (m *Manager) translateInterrupt(err error) error {
	if errors.Is(err, types.ErrInterrupted) {
		if stateErr := m.state.admissible(); stateErr != nil {
			return stateErr
		}
	}
	return err
}

// The single sender, hands messages to the channel in queue order.
func (m *Manager) send() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case message := <-m.outbound:
			m.transmit(message)
		}
	}
}

func (m *Manager) transmit(message *InFlightMessage) {
	id := message.TransactionID()
	for {
		if err := m.state.waitUntilRunning(m.ctx); err != nil {
			m.fail(message, m.sessionFailure(err, message))
			return
		}

		m.mutex.Lock()
		state := m.state.current()
		if state == Running {
			_, exists := m.inFlight[id]
			if !exists {
				m.inFlight[id] = message
				m.metrics.setInFlight(len(m.inFlight))
			}
			m.mutex.Unlock()
			helper.Assert(!exists, "transaction %d already in flight", id)
			break
		}
		m.mutex.Unlock()

		if err := stateError(state); err != nil {
			m.fail(message, m.sessionFailure(err, message))
			return
		}
	}

	if !message.Send(m.channel) {
		m.logger.Debug("message not sent, waiting for resend", "transaction", id)
	}
	m.metrics.recordSent(message.Message().Type)
}

func (m *Manager) sessionFailure(err error, message *InFlightMessage) error {
	if errors.Is(err, types.ErrRejoinInProgress) {
		return types.ErrRejoinInProgress
	}
	return types.NewConnectionClosed(message.EntityID())
}

// Completes a message locally. The message must not be in the
// in-flight table anymore.
func (m *Manager) fail(message *InFlightMessage, err error) {
	id := message.TransactionID()
	m.retired.Set(transactionKey(id))
	m.source.Retire(id)
	m.metrics.recordFailure(message.Message().Type)
	message.Fail(err)
}

func (m *Manager) lookup(id types.TransactionID, ack types.Ack) *InFlightMessage {
	m.mutex.Lock()
	message := m.inFlight[id]
	m.mutex.Unlock()

	if message == nil {
		m.unknownTransaction(id, ack)
	}
	return message
}

func (m *Manager) unknownTransaction(id types.TransactionID, ack types.Ack) {
	if m.state.current() == Stopped || m.retired.Contains(transactionKey(id)) {
		m.logger.Debug("dropping late ack", "transaction", id, "ack", ack)
		return
	}
	m.logger.Error("ack without pending transaction", "transaction", id, "ack", ack)
	helper.Fail("%s ack for unknown transaction %d", ack, id)
}

func (m *Manager) Sent(id types.TransactionID) {
	if message := m.lookup(id, types.Sent); message != nil {
		message.Sent()
	}
}

func (m *Manager) Received(id types.TransactionID) {
	if message := m.lookup(id, types.Received); message != nil {
		message.Received()
	}
}

func (m *Manager) SetResult(id types.TransactionID, value []byte, err error) {
	message := m.lookup(id, types.Completed)
	if message == nil {
		return
	}
	if err != nil {
		m.metrics.recordFailure(message.Message().Type)
	}
	message.SetResult(value, err)
}

func (m *Manager) Retired(id types.TransactionID) {
	m.mutex.Lock()
	message, ok := m.inFlight[id]
	if ok {
		// Marked before leaving the table, a concurrent ack that
		// misses the table finds it here.
		m.retired.Set(transactionKey(id))
		delete(m.inFlight, id)
		m.metrics.setInFlight(len(m.inFlight))
	}
	m.mutex.Unlock()

	if !ok {
		m.unknownTransaction(id, types.Retired)
		return
	}

	m.source.Retire(id)
	message.Retired()
}

// HandleMessage delivers a server message to the endpoint. Messages
// for unknown descriptors are dropped.
func (m *Manager) HandleMessage(descriptor types.EntityDescriptor, message []byte) {
	m.mutex.Lock()
	endpoint := m.endpoints[descriptor]
	m.mutex.Unlock()

	if endpoint == nil {
		if m.released.Contains(descriptorKey(descriptor)) {
			m.logger.Debug("dropping message for released endpoint", "descriptor", descriptor)
		} else {
			m.logger.Warn("dropping message for unknown endpoint", "descriptor", descriptor)
		}
		return
	}
	endpoint.HandleMessage(message)
}

// HandleTransactionMessage delivers a server message addressed to a
// pending transaction to its monitor.
func (m *Manager) HandleTransactionMessage(id types.TransactionID, message []byte) {
	m.mutex.Lock()
	inFlight := m.inFlight[id]
	m.mutex.Unlock()

	if inFlight == nil || !inFlight.HandleMessage(message) {
		m.logger.Warn("dropping message for transaction without monitor", "transaction", id)
	}
}

// Pause is called when the connection is lost.
func (m *Manager) Pause() {
	m.state.pause()
}

// Unpause is called once the server accepted the handshake.
func (m *Manager) Unpause() {
	m.state.running()
}

// InitializeHandshake moves to STARTING and fills the handshake with
// a reconnect reference for every live endpoint and a resend entry
// for every message not retired, in transaction order.
func (m *Manager) InitializeHandshake(handshake types.Handshake) {
	if !m.state.starting() {
		return
	}

	m.mutex.Lock()
	endpoints := make([]*Endpoint, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	messages := make([]*InFlightMessage, 0, len(m.inFlight))
	for id, message := range m.inFlight {
		m.retired.Set(transactionKey(id))
		messages = append(messages, message)
	}
	m.mutex.Unlock()

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Descriptor().Less(endpoints[j].Descriptor())
	})
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].TransactionID() < messages[j].TransactionID()
	})

	for _, endpoint := range endpoints {
		handshake.AddReconnectReference(types.ReconnectReference{
			Entity:       endpoint.EntityID(),
			Version:      endpoint.Version(),
			Instance:     endpoint.InstanceID(),
			ExtendedData: endpoint.GetExtendedReconnectData(),
		})
	}

	for _, inFlight := range messages {
		message := inFlight.Message()
		handshake.AddResendMessage(types.ResendMessage{
			TransactionID:       message.TransactionID,
			Descriptor:          message.Descriptor,
			Type:                message.Type,
			RequiresReplication: message.RequiresReplication,
			Payload:             message.Payload,
			OldestTransactionID: message.OldestTransactionID,
		})
	}

	m.metrics.recordResends(len(messages))
	m.logger.Debug("handshake initialized", "references", len(endpoints), "resends", len(messages))
}

// StartRejoin discards the client state the server lost. Pending
// messages fail with ErrRejoinInProgress and endpoints close without
// a release.
func (m *Manager) StartRejoin() {
	if !m.state.rejoin() {
		return
	}

	m.admission.Lock()
	queued := m.drain()
	m.admission.Unlock()

	messages, endpoints := m.clear()
	for _, message := range append(messages, queued...) {
		m.fail(message, types.ErrRejoinInProgress)
	}
	for _, endpoint := range endpoints {
		endpoint.DidCloseUnexpectedly()
	}
	m.logger.Info("rejoin started", "failed", len(messages)+len(queued), "endpoints", len(endpoints))
}

// Shutdown stops the manager. Pending and queued messages fail with
// a connection closed exception and endpoints close without a release.
func (m *Manager) Shutdown() {
	if !m.state.stop() {
		return
	}
	m.cancel()

	m.admission.Lock()
	queued := m.drain()
	m.admission.Unlock()

	messages, endpoints := m.clear()
	for _, message := range append(messages, queued...) {
		m.fail(message, types.NewConnectionClosed(message.EntityID()))
	}
	for _, endpoint := range endpoints {
		endpoint.DidCloseUnexpectedly()
	}

	m.invoker.Stop()
	m.retired.Close()
	m.released.Close()
	m.logger.Debug("manager stopped", "failed", len(messages)+len(queued))
}

// Must be called with the admission lock held.
func (m *Manager) drain() []*InFlightMessage {
	var queued []*InFlightMessage
	for {
		select {
		case message := <-m.outbound:
			queued = append(queued, message)
		default:
			return queued
		}
	}
}

func (m *Manager) clear() ([]*InFlightMessage, []*Endpoint) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	messages := make([]*InFlightMessage, 0, len(m.inFlight))
	for id, message := range m.inFlight {
		m.retired.Set(transactionKey(id))
		messages = append(messages, message)
	}
	endpoints := make([]*Endpoint, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		endpoints = append(endpoints, endpoint)
	}

	m.inFlight = make(map[types.TransactionID]*InFlightMessage)
	m.endpoints = make(map[types.EntityDescriptor]*Endpoint)
	m.metrics.setInFlight(0)
	m.metrics.setEndpoints(0)
	return messages, endpoints
}

func (m *Manager) logError(err error, msg string, descriptor types.EntityDescriptor) {
	if err != nil {
		m.logger.Warn(msg, "descriptor", descriptor, "error", err)
	}
}
