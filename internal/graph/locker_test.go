package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, PairKey(KindFollow, "a", "b"), PairKey(KindFollow, "b", "a"))
	assert.NotEqual(t, PairKey(KindFollow, "a", "b"), PairKey(KindLike, "a", "b"))
}

func TestKeyedMutexSerializesOneKey(t *testing.T) {
	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		inside  int32
		overlap int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "follow:a:b")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Zero(t, k.Len(), "idle keys must be released")
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "key")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "key")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	other, err := k.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Zero(t, k.Len())
}
