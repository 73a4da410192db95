package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps finished sets around long enough to absorb late duplicate deliveries.
const counterTTL = 7 * 24 * time.Hour

// CompletionCounter tracks which tasks of an item in a batch reached a terminal status.
// The counter is a set of task IDs so a duplicate delivery never counts twice.
type CompletionCounter struct {
	client *redis.Client
	prefix string
}

// NewCompletionCounter creates a counter storing its sets under prefix.
func NewCompletionCounter(client *redis.Client, prefix string) *CompletionCounter {
	return &CompletionCounter{client: client, prefix: prefix}
}

func (c *CompletionCounter) key(batchID, itemID string) string {
	return fmt.Sprintf("%s:finished:%s:%s", c.prefix, batchID, itemID)
}

// MarkFinished records taskID as finished and returns the number of finished tasks.
// added is false when the task had already been recorded.
func (c *CompletionCounter) MarkFinished(ctx context.Context, batchID, itemID string, taskID int) (finished int64, added bool, err error) {
	key := c.key(batchID, itemID)
	var sadd *redis.IntCmd
	var scard *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		sadd = pipe.SAdd(ctx, key, strconv.Itoa(taskID))
		scard = pipe.SCard(ctx, key)
		pipe.Expire(ctx, key, counterTTL)
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to record finished task %d: %w", taskID, err)
	}
	return scard.Val(), sadd.Val() == 1, nil
}

// Finished returns the number of finished tasks recorded for an item in a batch.
func (c *CompletionCounter) Finished(ctx context.Context, batchID, itemID string) (int64, error) {
	return c.client.SCard(ctx, c.key(batchID, itemID)).Result()
}
