package types

import (
	"fmt"
	"runtime"
	"strings"
)

// ExceptionKind is the closed set of entity-domain failures.
type ExceptionKind uint8

const (
	UnknownKind ExceptionKind = iota
	NotFound
	AlreadyExists
	VersionMismatch
	User
	Permanent
	ConfigurationKind
	NotProvided
	ConnectionClosed
	Referenced
	ServerUncaught
)

func (k ExceptionKind) String() string {
	switch k {
	case NotFound:
		return "EntityNotFound"
	case AlreadyExists:
		return "EntityAlreadyExists"
	case VersionMismatch:
		return "EntityVersionMismatch"
	case User:
		return "EntityUser"
	case Permanent:
		return "PermanentEntity"
	case ConfigurationKind:
		return "EntityConfiguration"
	case NotProvided:
		return "EntityNotProvided"
	case ConnectionClosed:
		return "ConnectionClosed"
	case Referenced:
		return "EntityReferenced"
	case ServerUncaught:
		return "EntityServerUncaught"
	default:
		return "Entity"
	}
}

// EntityException is a structured failure produced while the server
// processed an entity operation. Exceptions travel on the wire, the
// local stack is attached only on the client.
type EntityException struct {
	Kind        ExceptionKind
	ClassName   string
	EntityName  string
	Description string

	// Trace captured where the exception was created on the server.
	RemoteTrace string

	stack []uintptr
}

func NewEntityException(kind ExceptionKind, className, entityName, description string) *EntityException {
	return &EntityException{
		Kind:        kind,
		ClassName:   className,
		EntityName:  entityName,
		Description: description,
	}
}

func NewNotFound(eid EntityID) *EntityException {
	return NewEntityException(NotFound, eid.ClassName, eid.EntityName, "entity not found")
}

func NewAlreadyExists(eid EntityID) *EntityException {
	return NewEntityException(AlreadyExists, eid.ClassName, eid.EntityName, "entity already exists")
}

func NewVersionMismatch(eid EntityID, expected, actual uint64) *EntityException {
	description := fmt.Sprintf("version mismatch, expected %d got %d", expected, actual)
	return NewEntityException(VersionMismatch, eid.ClassName, eid.EntityName, description)
}

func NewConnectionClosed(eid EntityID) *EntityException {
	return NewEntityException(ConnectionClosed, eid.ClassName, eid.EntityName, "connection closed")
}

// WithStack returns a copy carrying the given program counters.
func (e *EntityException) WithStack(pcs []uintptr) *EntityException {
	c := *e
	c.stack = pcs
	return &c
}

// StackTrace renders the local stack, if one was attached.
func (e *EntityException) StackTrace() string {
	if len(e.stack) == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}

// HasLocalStack returns true when the exception was localized.
func (e *EntityException) HasLocalStack() bool {
	return len(e.stack) > 0
}

func (e *EntityException) Error() string {
	return fmt.Sprintf("%s: %s:%s %s", e.Kind, e.ClassName, e.EntityName, e.Description)
}

// Is matches by kind. A target without class and entity names
// matches every exception of the same kind.
func (e *EntityException) Is(target error) bool {
	t, ok := target.(*EntityException)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.ClassName == "" && t.EntityName == "" {
		return true
	}
	return t.ClassName == e.ClassName && t.EntityName == e.EntityName
}
