package types

import (
	"fmt"
	"strconv"
)

// ClientID identifies a single client process towards the server.
// Every message carries it as its source.
type ClientID string

// EntityID identifies a logical entity on the server, the pair of
// the entity class and the entity name.
type EntityID struct {
	ClassName  string
	EntityName string
}

func NewEntityID(className, entityName string) EntityID {
	return EntityID{ClassName: className, EntityName: entityName}
}

// Less gives the total ordering over entity identifiers.
func (e EntityID) Less(other EntityID) bool {
	if e.ClassName != other.ClassName {
		return e.ClassName < other.ClassName
	}
	return e.EntityName < other.EntityName
}

func (e EntityID) String() string {
	return fmt.Sprintf("%s:%s", e.ClassName, e.EntityName)
}

// ClientInstanceID identifies one client-local attachment to an entity.
type ClientInstanceID uint64

// NullInstanceID is used by messages that need a descriptor but
// are not bound to a live endpoint.
const NullInstanceID ClientInstanceID = 0

func (c ClientInstanceID) String() string {
	if c == NullInstanceID {
		return "NULL"
	}
	return strconv.FormatUint(uint64(c), 10)
}

// EntityDescriptor identifies one client-local attachment to a server
// entity. Many descriptors can reference the same EntityID.
type EntityDescriptor struct {
	Entity   EntityID
	Instance ClientInstanceID
	Version  uint64
}

// NewDescriptor creates the descriptor for a fetched entity.
func NewDescriptor(eid EntityID, instance ClientInstanceID, version uint64) EntityDescriptor {
	return EntityDescriptor{Entity: eid, Instance: instance, Version: version}
}

// NewLifecycleDescriptor creates the descriptor used by lifecycle
// operations, which are never bound to an instance.
func NewLifecycleDescriptor(eid EntityID, version uint64) EntityDescriptor {
	return EntityDescriptor{Entity: eid, Instance: NullInstanceID, Version: version}
}

// IsIndexed returns true if the descriptor references a live instance.
func (d EntityDescriptor) IsIndexed() bool {
	return d.Instance != NullInstanceID
}

func (d EntityDescriptor) Less(other EntityDescriptor) bool {
	if d.Entity != other.Entity {
		return d.Entity.Less(other.Entity)
	}
	if d.Instance != other.Instance {
		return d.Instance < other.Instance
	}
	return d.Version < other.Version
}

func (d EntityDescriptor) String() string {
	return fmt.Sprintf("%s@%d[%s]", d.Entity, d.Version, d.Instance)
}

// TransactionID is the per-manager monotonic identifier of a message.
// Valid identifiers start above zero.
type TransactionID uint64

// NullTransactionID is never allocated.
const NullTransactionID TransactionID = 0

func (t TransactionID) IsNull() bool {
	return t == NullTransactionID
}

func (t TransactionID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// FetchID is assigned by the server to every fetch of an entity.
type FetchID uint64
