package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/embedr/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestQueue(t *testing.T) (*RedisQueue, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	q := NewRedisQueue(client, Config{Prefix: "test", VisibilityTimeout: time.Minute})
	q.SetClock(clock.now)
	return q, clock
}

func TestRedisQueue_DelayIsHonored(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)
	ref := domain.TaskRef{BatchID: "b1", TaskID: 1}

	require.NoError(t, q.Enqueue(ctx, ref, 10*time.Second))

	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.t = clock.t.Add(10 * time.Second)
	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ref, got)

	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisQueue_ClaimsInReadyOrder(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, domain.TaskRef{BatchID: "b1", TaskID: 2}, 2*time.Second))
	require.NoError(t, q.Enqueue(ctx, domain.TaskRef{BatchID: "b1", TaskID: 1}, time.Second))
	clock.t = clock.t.Add(5 * time.Second)

	first, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, first.TaskID)
	assert.Equal(t, 2, second.TaskID)
}

func TestRedisQueue_UnackedEntriesAreRedelivered(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(t)
	acked := domain.TaskRef{BatchID: "b1", TaskID: 1}
	lost := domain.TaskRef{BatchID: "b1", TaskID: 2}

	require.NoError(t, q.Enqueue(ctx, acked, 0))
	require.NoError(t, q.Enqueue(ctx, lost, 0))
	for i := 0; i < 2; i++ {
		_, ok, err := q.Claim(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, q.Ack(ctx, acked))

	n, err := q.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.t = clock.t.Add(2 * time.Minute)
	n, err = q.RequeueExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lost, got)

	ready, inflight, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Equal(t, int64(1), inflight)
}
