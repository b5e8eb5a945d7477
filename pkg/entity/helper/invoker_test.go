package helper

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestInvoker_StopWaitsSpawned(t *testing.T) {
	defer goleak.VerifyNone(t)
	invoker := NewInvoker()
	var counter int32
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		require.NoError(t, invoker.Spawn(func() {
			<-release
			atomic.AddInt32(&counter, 1)
		}))
	}

	close(release)
	invoker.Stop()
	require.Equal(t, int32(10), atomic.LoadInt32(&counter))
	require.ErrorIs(t, invoker.Spawn(func() {}), ErrInvokerClosed)
}

func TestFlag_InactivateOnce(t *testing.T) {
	var f Flag
	require.True(t, f.IsActive())
	require.True(t, f.Inactivate())
	require.False(t, f.Inactivate())
	require.True(t, f.IsInactive())
}

func TestAssert_PanicsWithAssertionError(t *testing.T) {
	require.NotPanics(t, func() { Assert(true, "never") })

	defer func() {
		r := recover()
		err, ok := r.(*AssertionError)
		require.True(t, ok)
		require.Contains(t, err.Error(), "duplicate 42")
	}()
	Assert(false, "duplicate %d", 42)
}

func TestGenerateUID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
