// Package queue provides a delayed, at-least-once task queue on Redis sorted sets.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/embedr/internal/domain"
)

// Entries become claimable once their score (unix ms) is in the past.
// A claimed entry moves to the in-flight set until acked or its visibility timeout lapses.
var claimScript = redis.NewScript(`
	local items = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
	if #items == 0 then
		return false
	end
	redis.call("zrem", KEYS[1], items[1])
	redis.call("zadd", KEYS[2], ARGV[2], items[1])
	return items[1]
`)

var requeueScript = redis.NewScript(`
	local items = redis.call("zrangebyscore", KEYS[2], "-inf", ARGV[1])
	for _, item in ipairs(items) do
		redis.call("zrem", KEYS[2], item)
		redis.call("zadd", KEYS[1], "NX", ARGV[1], item)
	end
	return #items
`)

// Config holds the queue settings.
type Config struct {
	Prefix            string
	VisibilityTimeout time.Duration
}

// RedisQueue is a delayed task queue. Delivery is at-least-once.
type RedisQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	visibility  time.Duration
	now         func() time.Time
}

// NewRedisQueue creates a queue on an existing Redis client.
func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "embedr"
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Minute
	}
	return &RedisQueue{
		client:      client,
		readyKey:    prefix + ":queue:ready",
		inflightKey: prefix + ":queue:inflight",
		visibility:  visibility,
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (q *RedisQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue schedules ref to become claimable after delay.
func (q *RedisQueue) Enqueue(ctx context.Context, ref domain.TaskRef, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	readyAt := q.now().Add(delay).UnixMilli()
	err := q.client.ZAdd(ctx, q.readyKey, redis.Z{Score: float64(readyAt), Member: ref.String()}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", ref, err)
	}
	return nil
}

// Claim takes the next due entry. ok is false when nothing is due.
func (q *RedisQueue) Claim(ctx context.Context) (ref domain.TaskRef, ok bool, err error) {
	now := q.now()
	deadline := now.Add(q.visibility).UnixMilli()
	member, err := claimScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, now.UnixMilli(), deadline).Text()
	if errors.Is(err, redis.Nil) {
		return domain.TaskRef{}, false, nil
	}
	if err != nil {
		return domain.TaskRef{}, false, fmt.Errorf("failed to claim task: %w", err)
	}
	ref, err = domain.ParseTaskRef(member)
	if err != nil {
		// Drop malformed entries so they do not come back after the visibility timeout
		_ = q.client.ZRem(ctx, q.inflightKey, member).Err()
		return domain.TaskRef{}, false, err
	}
	return ref, true, nil
}

// Ack removes a claimed entry from the in-flight set.
func (q *RedisQueue) Ack(ctx context.Context, ref domain.TaskRef) error {
	if err := q.client.ZRem(ctx, q.inflightKey, ref.String()).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", ref, err)
	}
	return nil
}

// RequeueExpired returns in-flight entries whose visibility timeout lapsed to the ready set.
func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, q.now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue expired tasks: %w", err)
	}
	return n, nil
}

// Depth returns the number of ready and in-flight entries.
func (q *RedisQueue) Depth(ctx context.Context) (ready, inflight int64, err error) {
	pipe := q.client.Pipeline()
	readyCmd := pipe.ZCard(ctx, q.readyKey)
	inflightCmd := pipe.ZCard(ctx, q.inflightKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}
