package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCompletionCounter_DuplicatesCountOnce(t *testing.T) {
	ctx := context.Background()
	counter := NewCompletionCounter(newTestRedis(t), "test")

	finished, added, err := counter.MarkFinished(ctx, "b1", "A", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), finished)
	assert.True(t, added)

	finished, added, err = counter.MarkFinished(ctx, "b1", "A", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), finished)
	assert.False(t, added)

	finished, _, err = counter.MarkFinished(ctx, "b1", "A", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), finished)

	other, err := counter.Finished(ctx, "b1", "B")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestCompletionCounter_ExactlyOneObservesLast(t *testing.T) {
	ctx := context.Background()
	counter := NewCompletionCounter(newTestRedis(t), "test")

	const total = 20
	var mu sync.Mutex
	last := 0

	var wg sync.WaitGroup
	for i := 1; i <= total; i++ {
		wg.Add(1)
		go func(taskID int) {
			defer wg.Done()
			finished, added, err := counter.MarkFinished(ctx, "b1", "A", taskID)
			assert.NoError(t, err)
			if added && finished == total {
				mu.Lock()
				last++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, last)
}
