package core

import (
	"errors"
	"runtime"

	"github.com/jabolina/go-entity/pkg/entity/types"
)

const maxStackDepth = 64

// Localize replaces the stack of an entity exception with the stack
// of the calling goroutine. Other errors are returned unchanged.
func Localize(err error) error {
	var exception *types.EntityException
	if !errors.As(err, &exception) {
		return err
	}
	return rewrap(exception, 3)
}

// Rewrap returns a same kind copy of the exception, carrying the
// stack of the calling goroutine.
func Rewrap(exception *types.EntityException) *types.EntityException {
	return rewrap(exception, 3)
}

func rewrap(e *types.EntityException, skip int) *types.EntityException {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	stack := pcs[:n]

	var local *types.EntityException
	switch e.Kind {
	case types.NotFound:
		local = types.NewEntityException(types.NotFound, e.ClassName, e.EntityName, e.Description)
	case types.AlreadyExists:
		local = types.NewEntityException(types.AlreadyExists, e.ClassName, e.EntityName, e.Description)
	case types.VersionMismatch:
		local = types.NewEntityException(types.VersionMismatch, e.ClassName, e.EntityName, e.Description)
	case types.User:
		local = types.NewEntityException(types.User, e.ClassName, e.EntityName, e.Description)
	case types.Permanent:
		local = types.NewEntityException(types.Permanent, e.ClassName, e.EntityName, e.Description)
	case types.ConfigurationKind:
		local = types.NewEntityException(types.ConfigurationKind, e.ClassName, e.EntityName, e.Description)
	case types.NotProvided:
		local = types.NewEntityException(types.NotProvided, e.ClassName, e.EntityName, e.Description)
	case types.ConnectionClosed:
		local = types.NewEntityException(types.ConnectionClosed, e.ClassName, e.EntityName, e.Description)
	case types.Referenced:
		local = types.NewEntityException(types.Referenced, e.ClassName, e.EntityName, e.Description)
	case types.ServerUncaught:
		local = types.NewEntityException(types.ServerUncaught, e.ClassName, e.EntityName, e.Description)
	default:
		local = types.NewEntityException(types.UnknownKind, e.ClassName, e.EntityName, e.Description)
	}
	local.RemoteTrace = e.RemoteTrace
	return local.WithStack(stack)
}
