package types

import "errors"

var (
	// ErrNotRunning is returned once the manager stopped.
	// The manager is not usable again.
	ErrNotRunning = errors.New("client entity manager not running")

	// ErrRejoinInProgress is returned while the client rejoins the
	// cluster. Operations may be retried after the rejoin.
	ErrRejoinInProgress = errors.New("rejoin in progress")

	// ErrTimeout is returned by the timed waits. The message
	// is still pending.
	ErrTimeout = errors.New("timed out waiting for message")

	// ErrInterrupted is returned to waiters woken by an interrupt.
	ErrInterrupted = errors.New("wait interrupted")

	ErrEndpointClosed = errors.New("endpoint already closed")

	ErrChannelClosed = errors.New("channel closed")
)

// Sentinels matching exceptions by kind through errors.Is.
var (
	ErrEntityNotFound        = &EntityException{Kind: NotFound}
	ErrEntityAlreadyExists   = &EntityException{Kind: AlreadyExists}
	ErrEntityVersionMismatch = &EntityException{Kind: VersionMismatch}
	ErrEntityUser            = &EntityException{Kind: User}
	ErrPermanentEntity       = &EntityException{Kind: Permanent}
	ErrEntityConfiguration   = &EntityException{Kind: ConfigurationKind}
	ErrEntityNotProvided     = &EntityException{Kind: NotProvided}
	ErrConnectionClosed      = &EntityException{Kind: ConnectionClosed}
	ErrEntityReferenced      = &EntityException{Kind: Referenced}
	ErrEntityServerUncaught  = &EntityException{Kind: ServerUncaught}
)
