package core

import (
	"sync"
	"testing"
	"time"

	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func verifyPurgatory(t *testing.T, p Purgatory) {
	wg := &sync.WaitGroup{}
	var ids []string
	for i := 0; i < 50; i++ {
		ids = append(ids, helper.GenerateUID())
	}

	wg.Add(len(ids))
	for _, id := range ids {
		go func(id string) {
			defer wg.Done()
			assert.True(t, p.Set(id))
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		require.True(t, p.Contains(id))
		require.False(t, p.Set(id))
	}
	require.False(t, p.Contains(helper.GenerateUID()))
}

func TestRetiredPurgatory_ConcurrentSet(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewRetiredPurgatory(time.Minute)
	defer p.Close()
	verifyPurgatory(t, p)
}

func TestReleasedPurgatory_ConcurrentSet(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := NewReleasedPurgatory(1024*1024, time.Minute)
	defer p.Close()
	verifyPurgatory(t, p)

	id := helper.GenerateUID()
	p.Set(id)
	p.Forget(id)
	require.False(t, p.Contains(id))
}
