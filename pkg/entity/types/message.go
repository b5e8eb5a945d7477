package types

import "fmt"

// MessageType is the operation a message asks the server to execute.
type MessageType uint8

const (
	CreateEntity MessageType = iota
	DestroyEntity
	ReconfigureEntity
	FetchEntity
	ReleaseEntity
	InvokeAction
	DoesExist
)

func (m MessageType) String() string {
	switch m {
	case CreateEntity:
		return "CREATE_ENTITY"
	case DestroyEntity:
		return "DESTROY_ENTITY"
	case ReconfigureEntity:
		return "RECONFIGURE_ENTITY"
	case FetchEntity:
		return "FETCH_ENTITY"
	case ReleaseEntity:
		return "RELEASE_ENTITY"
	case InvokeAction:
		return "INVOKE_ACTION"
	case DoesExist:
		return "DOES_EXIST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

// Message is the unit sent from the client to the server.
type Message struct {
	// Client that issued the message.
	Source ClientID

	// Identifier allocated when the message was created.
	TransactionID TransactionID

	// Low-water mark, the oldest transaction still pending when
	// this message was created.
	OldestTransactionID TransactionID

	// Which entity attachment the message is addressed to.
	Descriptor EntityDescriptor

	Type MessageType

	// If the operation must be replicated to passive servers.
	RequiresReplication bool

	// Opaque operation payload.
	Payload []byte

	// Acks the issuer asked to observe.
	Acks Acks
}

func (m *Message) String() string {
	return fmt.Sprintf("%s{txn=%d, oldest=%d, %s}", m.Type, m.TransactionID, m.OldestTransactionID, m.Descriptor)
}
