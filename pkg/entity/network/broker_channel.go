package network

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/jabolina/relt/pkg/relt"
)

// BrokerChannel is a Channel over a message broker. Requests are
// published to the server exchange and responses are consumed from
// an exchange named after the client.
type BrokerChannel struct {
	configuration *types.BrokerConfiguration
	logger        hclog.Logger
	relt          *relt.Relt
	invoker       *helper.Invoker
	handler       core.Handler

	context context.Context
	finish  context.CancelFunc
	closed  helper.Flag
}

func NewBrokerChannel(configuration *types.BrokerConfiguration, logger hclog.Logger) (*BrokerChannel, error) {
	if err := types.ValidateBrokerConfiguration(configuration); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	conf := relt.DefaultReltConfiguration()
	conf.Name = configuration.Name
	conf.Exchange = relt.GroupAddress(configuration.Name)
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}

	ctx, done := context.WithCancel(context.Background())
	return &BrokerChannel{
		configuration: configuration,
		logger:        logger.Named("broker-channel").With("exchange", configuration.Name),
		relt:          r,
		invoker:       helper.NewInvoker(),
		context:       ctx,
		finish:        done,
	}, nil
}

// Start begins consuming responses and announces the client to
// the server.
func (b *BrokerChannel) Start(handler core.Handler) error {
	b.handler = handler
	listener := b.relt.Consume()
	if err := b.invoker.Spawn(func() { b.poll(listener) }); err != nil {
		return err
	}

	handshake := &types.HandshakeMessage{
		Client:  handler.ClientID(),
		ReplyTo: b.configuration.Name,
	}
	return b.publish(HandshakeFrame, handshake)
}

// Send implements the core.Channel interface.
func (b *BrokerChannel) Send(message *types.Message) bool {
	if b.closed.IsInactive() {
		return false
	}

	if err := b.publish(RequestFrame, message); err != nil {
		b.logger.Warn("failed publishing message", "transaction", message.TransactionID, "error", err)
		return false
	}
	return true
}

func (b *BrokerChannel) publish(kind FrameKind, body interface{}) error {
	data, err := EncodeFrame(kind, body)
	if err != nil {
		return err
	}

	m := relt.Send{
		Address: relt.GroupAddress(b.configuration.ServerExchange),
		Data:    data,
	}
	return b.relt.Broadcast(m)
}

func (b *BrokerChannel) poll(listener <-chan relt.Recv) {
	for {
		select {
		case <-b.context.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			b.consume(recv.Data, recv.Error)
		}
	}
}

func (b *BrokerChannel) consume(data []byte, err error) {
	if err != nil {
		b.logger.Error("failed consuming", "error", err)
		return
	}

	if data == nil {
		b.logger.Warn("received empty message")
		return
	}

	kind, body, err := DecodeFrame(data)
	if err != nil {
		b.logger.Error("failed decoding frame", "error", err)
		return
	}

	// The server publishes the acceptance on the first handshake
	// only, there is nothing to replay.
	if kind == HandshakeAcceptedFrame {
		return
	}

	if err := dispatch(b.handler, kind, body); err != nil {
		b.logger.Error("failed dispatching frame", "kind", kind, "error", err)
	}
}

func (b *BrokerChannel) Close() error {
	if !b.closed.Inactivate() {
		return nil
	}
	b.finish()
	b.relt.Close()
	b.invoker.Stop()
	return nil
}
