package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ViolationRepository handles the append-only proctoring log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Insert appends one record and returns the session's packet. The row is
// only written when the session exists and belongs to v.StudentID;
// otherwise ErrSessionMismatch.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.ViolationRecord) (uuid.UUID, error) {
	var packetID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`WITH owned AS (
		     SELECT id, student_id, packet_id FROM exam_sessions
		     WHERE id = $1 AND student_id = $2
		 ), ins AS (
		     INSERT INTO violation_records (session_id, student_id, kind, recorded_at)
		     SELECT id, student_id, $3, $4 FROM owned
		     RETURNING id
		 )
		 SELECT ins.id, owned.packet_id FROM ins, owned`,
		v.SessionID, v.StudentID, v.Kind, v.RecordedAt,
	).Scan(&v.ID, &packetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrSessionMismatch
	}
	if err != nil {
		return uuid.Nil, err
	}
	return packetID, nil
}

// CopyBatch bulk-inserts records with COPY into a transaction-scoped staging
// table, then moves only rows whose session belongs to the recorded student.
// It returns the number of rows written; foreign or unknown sessions are
// skipped. Any malformed row fails the whole batch.
func (r *ViolationRepository) CopyBatch(ctx context.Context, batch []model.ViolationRecord) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin copy tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE violation_staging (
		     session_id  UUID         NOT NULL,
		     student_id  INT          NOT NULL,
		     kind        VARCHAR(100) NOT NULL,
		     recorded_at TIMESTAMPTZ  NOT NULL
		 ) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.SessionID, v.StudentID, v.Kind, v.RecordedAt})
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"violation_staging"},
		[]string{"session_id", "student_id", "kind", "recorded_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO violation_records (session_id, student_id, kind, recorded_at)
		 SELECT s.session_id, s.student_id, s.kind, s.recorded_at
		 FROM violation_staging s
		 JOIN exam_sessions e ON e.id = s.session_id AND e.student_id = s.student_id`)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit copy tx: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListBySession returns a session's violations in recording order.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, student_id, kind, recorded_at
		 FROM violation_records WHERE session_id = $1
		 ORDER BY recorded_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.ViolationRecord{}
	for rows.Next() {
		var v model.ViolationRecord
		if err := rows.Scan(&v.ID, &v.SessionID, &v.StudentID, &v.Kind, &v.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, v)
	}
	return records, rows.Err()
}
