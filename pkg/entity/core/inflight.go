package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// InvokeFuture is the handle returned to callers of asynchronous
// operations.
type InvokeFuture interface {
	TransactionID() types.TransactionID

	// Get blocks until the result is available or the context is done.
	Get(ctx context.Context) ([]byte, error)

	// GetWithTimeout is Get with a deadline computed once at entry.
	// Returns types.ErrTimeout when it expires.
	GetWithTimeout(timeout time.Duration) ([]byte, error)

	IsDone() bool

	// Interrupt wakes every waiter without completing the message.
	Interrupt()
}

// InFlightMessage tracks a single message from creation until the
// server retires it. Acks are independent bits, a waiter for a set
// of acks is released once all of them were observed.
type InFlightMessage struct {
	message          *types.Message
	blockGetOnRetire bool
	monitor          InFlightMonitor
	sent             helper.Flag

	mutex sync.Mutex

	// Requested acks not yet observed.
	pending  types.Acks
	observed types.Acks

	value     []byte
	hasValue  bool
	exception error
	done      bool

	// Incremented by each interrupt, a waiter that sees a new
	// generation returns ErrInterrupted.
	interrupts uint64

	// Closed and replaced on every change.
	changed chan struct{}

	finished sync.Once
	onFinish func()
}

// NewInFlightMessage creates the tracker. The monitor is optional,
// when present the message is deferred and results stream to it.
func NewInFlightMessage(message *types.Message, blockGetOnRetire bool, monitor InFlightMonitor) *InFlightMessage {
	return &InFlightMessage{
		message:          message,
		blockGetOnRetire: blockGetOnRetire,
		monitor:          monitor,
		pending:          message.Acks,
		changed:          make(chan struct{}),
	}
}

func (m *InFlightMessage) TransactionID() types.TransactionID {
	return m.message.TransactionID
}

func (m *InFlightMessage) EntityID() types.EntityID {
	return m.message.Descriptor.Entity
}

func (m *InFlightMessage) Message() *types.Message {
	return m.message
}

func (m *InFlightMessage) isDeferred() bool {
	return m.monitor != nil
}

// Send hands the message to the channel. A message is sent only once,
// replays after a reconnect go through the handshake.
func (m *InFlightMessage) Send(channel Channel) bool {
	helper.Assert(m.sent.Inactivate(), "transaction %d sent twice", m.message.TransactionID)
	ok := channel.Send(m.message)
	m.Sent()
	return ok
}

func (m *InFlightMessage) Sent() {
	m.ack(types.Sent)
}

func (m *InFlightMessage) Received() {
	m.ack(types.Received)
}

func (m *InFlightMessage) ack(ack types.Ack) {
	m.mutex.Lock()
	m.observe(ack)
	m.broadcast()
	m.mutex.Unlock()
}

// SetResult records the server result. Value and error are mutually
// exclusive. A deferred message pushes the previous value to its
// monitor and keeps the latest one.
func (m *InFlightMessage) SetResult(value []byte, err error) {
	helper.Assert(len(value) == 0 || err == nil, "transaction %d completed with both value and error", m.message.TransactionID)

	var partial []byte
	var push bool
	m.mutex.Lock()
	m.observe(types.Received)
	m.observe(types.Completed)
	switch {
	case m.done:
	case err != nil:
		m.exception = err
		m.value = nil
		m.hasValue = false
		m.done = true
	case m.isDeferred():
		if m.hasValue {
			partial, push = m.value, true
		}
		m.value, m.hasValue = value, true
	default:
		if m.message.Type == types.InvokeAction {
			helper.Assert(value != nil, "transaction %d invoke completed without value", m.message.TransactionID)
		}
		m.value, m.hasValue = value, true
		m.done = !m.blockGetOnRetire
	}
	if m.done {
		m.finish()
	}
	m.broadcast()
	m.mutex.Unlock()

	if push {
		m.monitor.Accept(partial)
	}
}

// HandleMessage delivers a server message addressed to this
// transaction to the monitor.
func (m *InFlightMessage) HandleMessage(value []byte) bool {
	if !m.isDeferred() {
		return false
	}
	m.monitor.Accept(value)
	return true
}

// Retired marks the last ack. Releases Get for messages blocking
// until retirement and closes the monitor.
func (m *InFlightMessage) Retired() {
	m.mutex.Lock()
	m.observe(types.Retired)
	m.done = true
	m.finish()
	m.broadcast()
	m.mutex.Unlock()

	if m.isDeferred() {
		m.monitor.Close()
	}
}

// Fail completes the message locally, as if the server acked,
// failed and retired it.
func (m *InFlightMessage) Fail(err error) {
	m.mutex.Lock()
	m.observe(types.Sent)
	m.mutex.Unlock()
	m.Received()
	m.SetResult(nil, err)
	m.Retired()
}

// Must be called with the lock held.
func (m *InFlightMessage) observe(ack types.Ack) {
	m.observed = m.observed.With(ack)
	m.pending = m.pending.Without(ack)
}

// Must be called with the lock held.
func (m *InFlightMessage) broadcast() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Runs the finish hook once, before any waiter sees the message
// done. Must be called with the lock held and the hook must not block.
func (m *InFlightMessage) finish() {
	m.finished.Do(func() {
		if m.onFinish != nil {
			m.onFinish()
		}
	})
}

// Interrupt wakes every blocked waiter. The waiters return
// ErrInterrupted and the message stays pending.
func (m *InFlightMessage) Interrupt() {
	m.mutex.Lock()
	m.interrupts++
	m.broadcast()
	m.mutex.Unlock()
}

func (m *InFlightMessage) IsDone() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.done
}

// Acks returns the acks observed so far.
func (m *InFlightMessage) Acks() types.Acks {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.observed
}

// WaitForAcks blocks until every requested ack was observed.
func (m *InFlightMessage) WaitForAcks(ctx context.Context) error {
	return m.await(ctx, func() bool {
		return m.pending.IsEmpty()
	})
}

func (m *InFlightMessage) WaitForAcksTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return translateTimeout(m.WaitForAcks(ctx))
}

// Get blocks until the message is done, then returns the value or
// the exception localized to the calling goroutine.
func (m *InFlightMessage) Get(ctx context.Context) ([]byte, error) {
	if err := m.await(ctx, func() bool { return m.done }); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	value, exception := m.value, m.exception
	m.mutex.Unlock()
	if exception != nil {
		return nil, Localize(exception)
	}
	return value, nil
}

func (m *InFlightMessage) GetWithTimeout(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	value, err := m.Get(ctx)
	return value, translateTimeout(err)
}

func (m *InFlightMessage) await(ctx context.Context, satisfied func() bool) error {
	m.mutex.Lock()
	generation := m.interrupts
	for !satisfied() {
		if m.interrupts != generation {
			m.mutex.Unlock()
			return types.ErrInterrupted
		}
		changed := m.changed
		m.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mutex.Lock()
	}
	m.mutex.Unlock()
	return nil
}

func translateTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTimeout
	}
	return err
}
