package passthrough

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var counter = types.NewEntityID("counter", "passthrough")

func echoService() Service {
	return ServiceFunc(func(invocation *Invocation) ([]byte, error) {
		if string(invocation.Payload) == "fail" {
			return nil, errors.New("refused")
		}
		return append([]byte("echo:"), invocation.Payload...), nil
	})
}

func startManager(t *testing.T, server *Server) (*core.Manager, *Connection) {
	config := types.DefaultConfiguration()
	config.Logger = hclog.NewNullLogger()
	config.Registerer = prometheus.NewRegistry()

	connection := server.NewConnection()
	m, err := core.NewManager(connection, config)
	require.NoError(t, err)
	require.NoError(t, connection.Start(m))
	return m, connection
}

func closeAll(m *core.Manager, connection *Connection) {
	_ = connection.Close()
	m.Shutdown()
}

func TestServer_LifecycleSemantics(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := NewServer(nil)
	server.RegisterService(counter.ClassName, echoService())
	m, connection := startManager(t, server)
	defer closeAll(m, connection)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	future, err := m.CreateEntity(ctx, types.NewEntityID("unknown", "x"), 1, nil)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.ErrorIs(t, err, types.ErrEntityNotProvided)

	future, err = m.CreateEntity(ctx, counter, 1, []byte("config"))
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.NoError(t, err)
	require.True(t, server.Exists(counter))

	future, err = m.CreateEntity(ctx, counter, 1, nil)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.ErrorIs(t, err, types.ErrEntityAlreadyExists)

	_, err = m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 2), nil)
	require.ErrorIs(t, err, types.ErrEntityVersionMismatch)

	endpoint, err := m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 1), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("config"), endpoint.GetEntityConfiguration())
	require.NotZero(t, endpoint.FetchID())

	future, err = m.DestroyEntity(ctx, counter, 1)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.ErrorIs(t, err, types.ErrEntityReferenced)

	require.NoError(t, endpoint.Close(ctx))
	future, err = m.DestroyEntity(ctx, counter, 1)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.NoError(t, err)
	require.False(t, server.Exists(counter))

	exists, err := m.DoesEntityExist(ctx, counter, 1)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestServer_InvocationErrorsAreUserExceptions(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := NewServer(nil)
	server.RegisterService(counter.ClassName, echoService())
	m, connection := startManager(t, server)
	defer closeAll(m, connection)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	future, err := m.CreateEntity(ctx, counter, 1, nil)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.NoError(t, err)

	endpoint, err := m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 1), nil)
	require.NoError(t, err)

	future, err = endpoint.BeginInvoke().Message([]byte("hi")).Invoke(ctx)
	require.NoError(t, err)
	value, err := future.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("echo:hi"), value)

	future, err = endpoint.BeginInvoke().Message([]byte("fail")).Invoke(ctx)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.ErrorIs(t, err, types.ErrEntityUser)
	require.Contains(t, err.Error(), "refused")
}

func TestServer_FetchIDsAreUnique(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := NewServer(hclog.NewNullLogger())
	server.RegisterService(counter.ClassName, echoService())
	m, connection := startManager(t, server)
	defer closeAll(m, connection)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	future, err := m.CreateEntity(ctx, counter, 1, nil)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.NoError(t, err)

	first, err := m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 1), nil)
	require.NoError(t, err)
	second, err := m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 1), nil)
	require.NoError(t, err)
	require.NotEqual(t, first.FetchID(), second.FetchID())
	require.Equal(t, 2, server.Publish(counter, []byte("event")))
}

func TestConnection_ResendIsAppliedOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	server := NewServer(nil)
	applied := 0
	server.RegisterService(counter.ClassName, ServiceFunc(func(invocation *Invocation) ([]byte, error) {
		applied++
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(applied))
		return value, nil
	}))
	m, connection := startManager(t, server)
	defer closeAll(m, connection)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	future, err := m.CreateEntity(ctx, counter, 1, nil)
	require.NoError(t, err)
	_, err = future.Get(ctx)
	require.NoError(t, err)
	endpoint, err := m.FetchEntity(ctx, types.NewDescriptor(counter, m.NextInstanceID(), 1), nil)
	require.NoError(t, err)

	connection.Hold()
	future, err = endpoint.BeginInvoke().Message([]byte("once")).Ack(types.Sent).Invoke(ctx)
	require.NoError(t, err)

	connection.Disconnect()
	require.Equal(t, core.Paused, m.State())
	connection.Reconnect()
	require.True(t, m.IsRunning())

	value, err := future.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(value))

	connection.Resume()
	future, err = endpoint.BeginInvoke().Message([]byte("next")).Invoke(ctx)
	require.NoError(t, err)
	value, err = future.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), binary.BigEndian.Uint64(value))
}
