package helper

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFlag_SingleWinnerInactivates(t *testing.T) {
	defer goleak.VerifyNone(t)
	var flag Flag
	require.True(t, flag.IsActive())

	var winners int32
	group := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			if flag.Inactivate() {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	group.Wait()

	require.Equal(t, int32(1), winners)
	require.True(t, flag.IsInactive())
	require.False(t, flag.Inactivate())
}
