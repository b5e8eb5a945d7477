package core

import "github.com/jabolina/go-entity/pkg/entity/types"

// Channel is the transport towards the server. Send is a best
// effort handoff, a false return means the message was not written
// and will be replayed by the next handshake.
type Channel interface {
	Send(message *types.Message) bool
}

// ResponseHandler receives the server responses demultiplexed by
// the channel.
type ResponseHandler interface {
	Sent(id types.TransactionID)
	Received(id types.TransactionID)
	SetResult(id types.TransactionID, value []byte, err error)
	Retired(id types.TransactionID)
	HandleMessage(descriptor types.EntityDescriptor, message []byte)
	HandleTransactionMessage(id types.TransactionID, message []byte)
}

// SessionListener receives the connection lifecycle events.
type SessionListener interface {
	Pause()
	Unpause()
	InitializeHandshake(handshake types.Handshake)
	StartRejoin()
	Shutdown()
}

// Handler is everything a channel needs from the manager.
type Handler interface {
	ResponseHandler
	SessionListener
	ClientID() types.ClientID
}
