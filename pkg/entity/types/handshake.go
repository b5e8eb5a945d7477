package types

// ReconnectReference re-attaches a live endpoint to its server
// entity after a reconnect.
type ReconnectReference struct {
	Entity       EntityID
	Version      uint64
	Instance     ClientInstanceID
	ExtendedData []byte
}

// ResendMessage is a message not yet retired by the server, replayed
// during the handshake with its original identifiers.
type ResendMessage struct {
	TransactionID       TransactionID
	Descriptor          EntityDescriptor
	Type                MessageType
	RequiresReplication bool
	Payload             []byte
	OldestTransactionID TransactionID
}

// Handshake collects the client state sent to the server when a
// connection is re-established.
type Handshake interface {
	AddReconnectReference(reference ReconnectReference)
	AddResendMessage(message ResendMessage)
}

// HandshakeMessage is the Handshake the channels put on the wire.
type HandshakeMessage struct {
	Client ClientID

	// Where the server publishes the responses, empty on
	// connection oriented channels.
	ReplyTo string

	References []ReconnectReference
	Resends    []ResendMessage
}

func (h *HandshakeMessage) AddReconnectReference(reference ReconnectReference) {
	h.References = append(h.References, reference)
}

func (h *HandshakeMessage) AddResendMessage(message ResendMessage) {
	h.Resends = append(h.Resends, message)
}

// Message rebuilds the original message from the resend entry.
func (r ResendMessage) Message(source ClientID) *Message {
	return &Message{
		Source:              source,
		TransactionID:       r.TransactionID,
		OldestTransactionID: r.OldestTransactionID,
		Descriptor:          r.Descriptor,
		Type:                r.Type,
		RequiresReplication: r.RequiresReplication,
		Payload:             r.Payload,
	}
}
