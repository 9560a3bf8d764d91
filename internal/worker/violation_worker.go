package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWriter is the persistence side of the worker.
type ViolationWriter interface {
	CopyBatch(ctx context.Context, batch []model.ViolationRecord) (int64, error)
	Insert(ctx context.Context, v *model.ViolationRecord) (uuid.UUID, error)
}

// ViolationWorker drains the retry queue into the violation log in batches.
type ViolationWorker struct {
	store ViolationWriter
	rdb   *redis.Client
	log   zerolog.Logger
	// requeueDelay throttles the loop after pushing failures back.
	requeueDelay time.Duration
}

func NewViolationWorker(store ViolationWriter, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "violation_worker").Logger(),
		requeueDelay: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationRecord, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		rec, ok := w.decode(result[1])
		if !ok {
			continue
		}
		buffer = append(buffer, rec)
	}
}

// decode parses a queued record. Malformed entries cannot be retried and are dropped.
func (w *ViolationWorker) decode(raw string) (model.ViolationRecord, bool) {
	var rec model.ViolationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed violation")
		return rec, false
	}
	if rec.SessionID == uuid.Nil || rec.Kind == "" {
		w.log.Error().Str("data", raw).Msg("Discarding incomplete violation")
		return rec, false
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	return rec, true
}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationRecord) {
	failed := w.flush(ctx, batch)
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

// flush writes batch and returns the records that should be retried later.
func (w *ViolationWorker) flush(ctx context.Context, batch []model.ViolationRecord) []model.ViolationRecord {
	n, err := w.store.CopyBatch(ctx, batch)
	if err == nil {
		if skipped := int64(len(batch)) - n; skipped > 0 {
			w.log.Warn().Int64("skipped", skipped).Msg("Dropping violations for unknown or foreign sessions")
		}
		w.log.Debug().Int64("count", n).Msg("Violation batch persisted")
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	failed := make([]model.ViolationRecord, 0)
	for i := range batch {
		rec := batch[i]
		_, err := w.store.Insert(ctx, &rec)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrSessionMismatch):
			// Session deleted or never existed; retrying cannot succeed.
			w.log.Warn().
				Str("session_id", rec.SessionID.String()).
				Int("student_id", rec.StudentID).
				Msg("Dropping violation for unknown session")
		case repository.IsDataError(err):
			w.log.Error().Err(err).
				Str("session_id", rec.SessionID.String()).
				Str("kind", rec.Kind).
				Msg("Dropping violation the database rejects as malformed")
		default:
			w.log.Error().Err(err).Int("student_id", rec.StudentID).Msg("Insert failed, requeueing")
			failed = append(failed, rec)
		}
	}
	return failed
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	time.Sleep(w.requeueDelay)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
