package types

import "strings"

// Ack is a lifecycle milestone of a single message.
type Ack uint8

const (
	// Sent means the message was handed to the channel.
	Sent Ack = 1 << iota

	// Received means the server received and queued the message.
	Received

	// Completed means the server finished processing, the result
	// or the exception is available.
	Completed

	// Retired means the server will not send anything else
	// referencing the transaction.
	Retired
)

// Applied is an alias for Completed.
const Applied = Completed

var ackNames = []struct {
	ack  Ack
	name string
}{
	{Sent, "SENT"},
	{Received, "RECEIVED"},
	{Completed, "COMPLETED"},
	{Retired, "RETIRED"},
}

func (a Ack) String() string {
	for _, n := range ackNames {
		if n.ack == a {
			return n.name
		}
	}
	return "UNKNOWN"
}

// Acks is a set of independent acks.
type Acks uint8

// NoAcks is the empty set.
const NoAcks Acks = 0

// AllAcks contains every ack.
const AllAcks = Acks(Sent | Received | Completed | Retired)

func NewAcks(acks ...Ack) Acks {
	var set Acks
	for _, a := range acks {
		set = set.With(a)
	}
	return set
}

func (a Acks) Has(ack Ack) bool {
	return a&Acks(ack) != 0
}

func (a Acks) With(ack Ack) Acks {
	return a | Acks(ack)
}

func (a Acks) Without(ack Ack) Acks {
	return a &^ Acks(ack)
}

func (a Acks) IsEmpty() bool {
	return a == NoAcks
}

func (a Acks) String() string {
	var names []string
	for _, n := range ackNames {
		if a.Has(n.ack) {
			names = append(names, n.name)
		}
	}
	return "[" + strings.Join(names, ",") + "]"
}
