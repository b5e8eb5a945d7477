package types

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcks_SetOperations(t *testing.T) {
	acks := NewAcks(Received, Completed)
	require.True(t, acks.Has(Received))
	require.True(t, acks.Has(Applied))
	require.False(t, acks.Has(Sent))

	acks = acks.Without(Received).Without(Completed)
	require.True(t, acks.IsEmpty())
	require.Equal(t, AllAcks, NoAcks.With(Sent).With(Received).With(Completed).With(Retired))
	require.Equal(t, "[SENT,RETIRED]", NewAcks(Retired, Sent).String())
}

func TestEntityException_MatchesByKind(t *testing.T) {
	eid := NewEntityID("counter", "first")
	err := fmt.Errorf("fetch failed: %w", NewNotFound(eid))

	require.True(t, errors.Is(err, ErrEntityNotFound))
	require.True(t, errors.Is(err, NewNotFound(eid)))
	require.False(t, errors.Is(err, NewNotFound(NewEntityID("counter", "second"))))
	require.False(t, errors.Is(err, ErrEntityAlreadyExists))
	require.False(t, errors.Is(err, ErrNotRunning))

	var exception *EntityException
	require.True(t, errors.As(err, &exception))
	require.Equal(t, "first", exception.EntityName)
	require.False(t, exception.HasLocalStack())
	require.Empty(t, exception.StackTrace())
}

func TestEntityException_WithStackCopies(t *testing.T) {
	original := NewAlreadyExists(NewEntityID("counter", "first"))
	pcs := make([]uintptr, 1)
	stacked := original.WithStack(pcs)

	require.True(t, stacked.HasLocalStack())
	require.False(t, original.HasLocalStack())
	require.Equal(t, original.Error(), stacked.Error())
}

func TestDescriptor_Ordering(t *testing.T) {
	first := NewEntityID("a", "x")
	second := NewEntityID("b", "x")
	descriptors := []EntityDescriptor{
		NewDescriptor(second, 1, 1),
		NewDescriptor(first, 2, 1),
		NewDescriptor(first, 1, 2),
		NewDescriptor(first, 1, 1),
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Less(descriptors[j])
	})

	require.Equal(t, []EntityDescriptor{
		NewDescriptor(first, 1, 1),
		NewDescriptor(first, 1, 2),
		NewDescriptor(first, 2, 1),
		NewDescriptor(second, 1, 1),
	}, descriptors)
	require.False(t, NewLifecycleDescriptor(first, 1).IsIndexed())
	require.True(t, descriptors[0].IsIndexed())
}

func TestResendMessage_RebuildsMessage(t *testing.T) {
	resend := ResendMessage{
		TransactionID:       7,
		Descriptor:          NewDescriptor(NewEntityID("a", "x"), 1, 1),
		Type:                InvokeAction,
		RequiresReplication: true,
		Payload:             []byte("p"),
		OldestTransactionID: 3,
	}
	message := resend.Message("client")
	require.Equal(t, ClientID("client"), message.Source)
	require.Equal(t, TransactionID(7), message.TransactionID)
	require.Equal(t, TransactionID(3), message.OldestTransactionID)
	require.True(t, message.RequiresReplication)
	require.Equal(t, "INVOKE_ACTION", message.Type.String())
}

func TestConfiguration_Validation(t *testing.T) {
	config := DefaultConfiguration()
	require.NoError(t, ValidateConfiguration(config))
	require.NotNil(t, config.Logger)

	config = DefaultConfiguration()
	config.LogLevel = "LOUD"
	require.Error(t, ValidateConfiguration(config))

	config = DefaultConfiguration()
	config.MaxInFlight = 0
	require.Error(t, ValidateConfiguration(config))

	transport := DefaultTransportConfiguration()
	require.Error(t, ValidateTransportConfiguration(transport))
	transport.Address = "localhost:9410"
	require.NoError(t, ValidateTransportConfiguration(transport))

	broker := DefaultBrokerConfiguration()
	require.NoError(t, ValidateBrokerConfiguration(broker))
	broker.ServerExchange = broker.Name
	require.Error(t, ValidateBrokerConfiguration(broker))
}

func TestEntityException_ConfigurationKind(t *testing.T) {
	err := NewEntityException(ConfigurationKind, "counter", "first", "bad configuration")
	require.ErrorIs(t, err, ErrEntityConfiguration)
	require.NotErrorIs(t, err, ErrEntityUser)
	require.Equal(t, "EntityConfiguration", ConfigurationKind.String())

	var config *Configuration = DefaultConfiguration()
	require.Equal(t, "entity-client", config.Name)
}
