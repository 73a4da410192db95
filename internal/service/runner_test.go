package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/embedr/internal/domain"
	"github.com/timmy/embedr/internal/metrics"
)

type memoryClaimQueue struct {
	mu      sync.Mutex
	ready   []domain.TaskRef
	acked   []domain.TaskRef
	reaped  int
	claimed int
}

func (q *memoryClaimQueue) Enqueue(ctx context.Context, ref domain.TaskRef, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, ref)
	return nil
}

func (q *memoryClaimQueue) Claim(ctx context.Context) (domain.TaskRef, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return domain.TaskRef{}, false, nil
	}
	ref := q.ready[0]
	q.ready = q.ready[1:]
	q.claimed++
	return ref, true, nil
}

func (q *memoryClaimQueue) Ack(ctx context.Context, ref domain.TaskRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, ref)
	return nil
}

func (q *memoryClaimQueue) RequeueExpired(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reaped++
	return 0, nil
}

func (q *memoryClaimQueue) snapshot() (acked []domain.TaskRef, claimed, reaped int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.TaskRef(nil), q.acked...), q.claimed, q.reaped
}

type processorFunc func(ctx context.Context, ref domain.TaskRef) error

func (f processorFunc) ProcessTask(ctx context.Context, ref domain.TaskRef) error {
	return f(ctx, ref)
}

func TestRunner_ProcessesAndAcks(t *testing.T) {
	q := &memoryClaimQueue{}
	for i := 1; i <= 6; i++ {
		require.NoError(t, q.Enqueue(context.Background(), domain.TaskRef{BatchID: "b", TaskID: i}, 0))
	}

	var mu sync.Mutex
	seen := map[int]bool{}
	proc := processorFunc(func(ctx context.Context, ref domain.TaskRef) error {
		mu.Lock()
		seen[ref.TaskID] = true
		mu.Unlock()
		switch ref.TaskID {
		case 5:
			return errors.New("store unavailable")
		case 6:
			return domain.ErrTaskUnavailable
		}
		return nil
	})

	r := NewRunner(q, proc, metrics.New(), newTestLogger(), RunnerConfig{
		Workers:      3,
		PollInterval: 5 * time.Millisecond,
		ReapInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		acked, claimed, reaped := q.snapshot()
		return claimed == 6 && len(acked) == 5 && reaped > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	acked, _, _ := q.snapshot()
	var ids []int
	for _, ref := range acked {
		ids = append(ids, ref.TaskID)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 6}, ids)
	assert.Len(t, seen, 6)
}
