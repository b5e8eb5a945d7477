package core

import (
	"errors"
	"testing"

	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/stretchr/testify/require"
)

func TestLocalize_KeepsKindAndNames(t *testing.T) {
	eid := types.NewEntityID("counter", "first")
	kinds := []types.ExceptionKind{
		types.NotFound, types.AlreadyExists, types.VersionMismatch, types.User,
		types.Permanent, types.ConfigurationKind, types.NotProvided,
		types.ConnectionClosed, types.Referenced, types.ServerUncaught,
	}

	for _, kind := range kinds {
		remote := types.NewEntityException(kind, eid.ClassName, eid.EntityName, "remote failure")
		remote.RemoteTrace = "server frame"

		err := Localize(remote)
		var local *types.EntityException
		require.True(t, errors.As(err, &local))
		require.Equal(t, kind, local.Kind)
		require.Equal(t, "remote failure", local.Description)
		require.Equal(t, "server frame", local.RemoteTrace)
		require.True(t, local.HasLocalStack())
		require.False(t, remote.HasLocalStack())
		require.NotSame(t, remote, local)
	}
}

func TestLocalize_StackStartsAtCaller(t *testing.T) {
	err := Localize(types.NewNotFound(types.NewEntityID("a", "b")))
	var local *types.EntityException
	require.True(t, errors.As(err, &local))

	trace := local.StackTrace()
	require.Contains(t, trace, "TestLocalize_StackStartsAtCaller")
	require.NotContains(t, trace, "core.rewrap")
	require.NotContains(t, trace, "core.Localize")
}

func TestLocalize_UnknownKindFallsBack(t *testing.T) {
	remote := types.NewEntityException(types.ExceptionKind(200), "class", "name", "odd")
	local := Rewrap(remote)
	require.Equal(t, types.UnknownKind, local.Kind)
	require.Equal(t, "class", local.ClassName)
	require.Equal(t, "name", local.EntityName)
	require.Equal(t, "odd", local.Description)
}

func TestLocalize_PlainErrorsUnchanged(t *testing.T) {
	require.Equal(t, types.ErrNotRunning, Localize(types.ErrNotRunning))
	require.Nil(t, Localize(nil))
}
