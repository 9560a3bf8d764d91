// Package cache holds the Redis-backed read caches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// genTTLFactor keeps a packet's generation counter alive well past any entry
// written under it, so a counter reset cannot resurrect an old entry.
const genTTLFactor = 6

// QuestionCache stores each packet's redacted question list as one JSON value.
// Only the student view is cached, so a cache hit can never carry an answer key.
//
// Entries are keyed by a per-packet generation. Invalidate bumps the
// generation, so a reader that loaded rows before an authoring change writes
// under a generation nobody reads any more.
type QuestionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuestionCache creates a new QuestionCache. A non-positive ttl falls back to 10 minutes.
func NewQuestionCache(rdb *redis.Client, ttl time.Duration) *QuestionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QuestionCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached list and the generation it was looked up at. ok is
// false on a miss; gen is still valid for a following Set.
func (c *QuestionCache) Get(ctx context.Context, packetID uuid.UUID) ([]model.QuestionForStudent, int64, bool, error) {
	id := packetID.String()
	gen, err := c.rdb.Get(ctx, config.CacheKey.PacketQuestionsGenKey(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("redis get generation: %w", err)
	}

	raw, err := c.rdb.Get(ctx, config.CacheKey.PacketQuestionsKey(id, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get: %w", err)
	}

	questions, err := decodeQuestions(raw)
	if err != nil {
		// A corrupt entry is treated as a miss and replaced on the next Set.
		return nil, gen, false, nil
	}
	return questions, gen, true, nil
}

// Set stores the list under gen with the configured TTL.
func (c *QuestionCache) Set(ctx context.Context, packetID uuid.UUID, gen int64, questions []model.QuestionForStudent) error {
	raw, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.PacketQuestionsKey(packetID.String(), gen), raw, c.ttl).Err()
}

// Invalidate moves the packet to a new generation after an authoring change.
// Entries under older generations are left to expire.
func (c *QuestionCache) Invalidate(ctx context.Context, packetID uuid.UUID) error {
	key := config.CacheKey.PacketQuestionsGenKey(packetID.String())
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, genTTLFactor*c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func decodeQuestions(raw []byte) ([]model.QuestionForStudent, error) {
	var questions []model.QuestionForStudent
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []model.QuestionForStudent{}
	}
	return questions, nil
}
