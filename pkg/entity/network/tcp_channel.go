package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

var ErrHandshakeRejected = errors.New("server did not accept the handshake")

// StreamLayer is used with the TCPChannel to provide the low
// level stream abstraction.
type StreamLayer interface {
	Dial(address string, timeout time.Duration) (net.Conn, error)
}

// TCPStreamLayer implements StreamLayer for plain TCP.
type TCPStreamLayer struct{}

func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.Dial("tcp", address)
}

// A single established connection to the server.
type netConn struct {
	conn   net.Conn
	writer *FrameWriter
	reader *FrameReader
}

func (n *netConn) Release() error {
	return n.conn.Close()
}

// TCPChannel is a Channel over a single TCP connection. When the
// connection drops the manager is paused and the channel dials
// again with a growing delay, replaying the client state through
// the handshake before unpausing.
type TCPChannel struct {
	configuration *types.TransportConfiguration
	logger        hclog.Logger
	stream        StreamLayer
	invoker       *helper.Invoker
	handler       core.Handler

	ctx    context.Context
	cancel context.CancelFunc
	closed helper.Flag

	mutex sync.Mutex
	conn  *netConn
}

func NewTCPChannel(configuration *types.TransportConfiguration, logger hclog.Logger) (*TCPChannel, error) {
	return NewTCPChannelWithStream(configuration, &TCPStreamLayer{}, logger)
}

func NewTCPChannelWithStream(configuration *types.TransportConfiguration, stream StreamLayer, logger hclog.Logger) (*TCPChannel, error) {
	if err := types.ValidateTransportConfiguration(configuration); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TCPChannel{
		configuration: configuration,
		logger:        logger.Named("tcp-channel").With("address", configuration.Address),
		stream:        stream,
		invoker:       helper.NewInvoker(),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start dials the server and binds the channel to the handler.
func (t *TCPChannel) Start(handler core.Handler) error {
	t.handler = handler
	return t.connect(true)
}

// Send implements the core.Channel interface.
func (t *TCPChannel) Send(message *types.Message) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.conn == nil {
		return false
	}

	if t.configuration.Timeout > 0 {
		_ = t.conn.conn.SetWriteDeadline(time.Now().Add(t.configuration.Timeout))
	}
	if err := t.conn.writer.Write(RequestFrame, message); err != nil {
		t.logger.Warn("failed sending message", "transaction", message.TransactionID, "error", err)
		// The reader notices the closed connection and reconnects.
		_ = t.conn.Release()
		return false
	}
	return true
}

// The first connection announces the client with an empty handshake,
// the next ones carry the manager state.
func (t *TCPChannel) connect(initial bool) error {
	conn, err := t.stream.Dial(t.configuration.Address, t.configuration.Timeout)
	if err != nil {
		return err
	}

	c := &netConn{
		conn:   conn,
		writer: NewFrameWriter(conn),
		reader: NewFrameReader(conn),
	}

	handshake := &types.HandshakeMessage{Client: t.handler.ClientID()}
	if !initial {
		t.handler.InitializeHandshake(handshake)
	}

	if err := t.handshake(c, handshake); err != nil {
		_ = c.Release()
		if !initial {
			t.handler.Pause()
		}
		return err
	}

	t.mutex.Lock()
	if t.closed.IsInactive() {
		t.mutex.Unlock()
		_ = c.Release()
		return types.ErrChannelClosed
	}
	t.conn = c
	t.mutex.Unlock()

	if err := t.invoker.Spawn(func() { t.poll(c) }); err != nil {
		_ = c.Release()
		return err
	}

	if !initial {
		t.handler.Unpause()
	}
	t.logger.Debug("connected", "resends", len(handshake.Resends), "references", len(handshake.References))
	return nil
}

func (t *TCPChannel) handshake(c *netConn, handshake *types.HandshakeMessage) error {
	deadline := time.Now().Add(t.configuration.HandshakeTimeout)
	_ = c.conn.SetDeadline(deadline)
	defer func() {
		_ = c.conn.SetDeadline(time.Time{})
	}()

	if err := c.writer.Write(HandshakeFrame, handshake); err != nil {
		return err
	}

	kind, _, err := c.reader.Read()
	if err != nil {
		return err
	}
	if kind != HandshakeAcceptedFrame {
		return fmt.Errorf("%w: got frame %d", ErrHandshakeRejected, kind)
	}
	return nil
}

// Reads and dispatches frames until the connection fails.
func (t *TCPChannel) poll(c *netConn) {
	for {
		kind, body, err := c.reader.Read()
		if err != nil {
			t.connectionLost(c, err)
			return
		}

		if err := dispatch(t.handler, kind, body); err != nil {
			t.logger.Error("failed dispatching frame", "kind", kind, "error", err)
		}
	}
}

func (t *TCPChannel) connectionLost(c *netConn, err error) {
	t.mutex.Lock()
	if t.conn != c {
		t.mutex.Unlock()
		return
	}
	t.conn = nil
	t.mutex.Unlock()
	_ = c.Release()

	if t.closed.IsInactive() {
		return
	}

	if err != io.EOF {
		t.logger.Warn("connection lost", "error", err)
	} else {
		t.logger.Info("connection closed by server")
	}
	t.handler.Pause()
	t.reconnect()
}

func (t *TCPChannel) reconnect() {
	baseDelay := t.configuration.ReconnectBaseDelay
	maxDelay := t.configuration.ReconnectMaxDelay

	var loopDelay time.Duration
	for {
		err := t.connect(false)
		if err == nil || errors.Is(err, types.ErrChannelClosed) || errors.Is(err, helper.ErrInvokerClosed) {
			return
		}

		if loopDelay == 0 {
			loopDelay = baseDelay
		} else {
			loopDelay *= 2
		}

		if loopDelay > maxDelay {
			loopDelay = maxDelay
		}

		t.logger.Debug("failed reconnecting", "error", err, "retry", loopDelay)
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(loopDelay):
		}
	}
}

// Close stops the reconnection attempts and closes the connection.
func (t *TCPChannel) Close() error {
	if !t.closed.Inactivate() {
		return nil
	}
	t.cancel()

	t.mutex.Lock()
	c := t.conn
	t.conn = nil
	t.mutex.Unlock()

	var err error
	if c != nil {
		err = c.Release()
	}
	t.invoker.Stop()
	return err
}
