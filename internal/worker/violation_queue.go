package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ViolationQueue parks violations in a Redis list until ViolationWorker
// can write them.
type ViolationQueue struct {
	rdb *redis.Client
}

// NewViolationQueue creates a new ViolationQueue.
func NewViolationQueue(rdb *redis.Client) *ViolationQueue {
	return &ViolationQueue{rdb: rdb}
}

// Enqueue appends v to the retry queue.
func (q *ViolationQueue) Enqueue(ctx context.Context, v model.ViolationRecord) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode violation: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err()
}

// Len reports how many violations are waiting.
func (q *ViolationQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.PersistViolationsQueue).Result()
}
