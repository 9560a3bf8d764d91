package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// AnswerRepository handles answer record data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// The SELECT guard makes a question outside the session's packet insert zero
// rows instead of a foreign row.
const upsertAnswerSQL = `INSERT INTO answer_records (session_id, question_id, student_id, selected_option, client_time, synced, updated_at)
	SELECT $1, q.id, $3, $4, $5, TRUE, NOW()
	FROM questions q
	WHERE q.id = $2 AND q.packet_id = $6
	ON CONFLICT (session_id, question_id) DO UPDATE
	SET selected_option = EXCLUDED.selected_option,
	    client_time     = EXCLUDED.client_time,
	    synced          = TRUE,
	    updated_at      = NOW()`

// UpsertBatch writes every answer or none and returns the session's packet.
// The session row is held FOR SHARE for the duration, which serializes the
// batch against Finalize. Entries later in the batch win over earlier ones
// for the same question.
func (r *AnswerRepository) UpsertBatch(ctx context.Context, sessionID uuid.UUID, studentID int, answers []model.AnswerUpsert) (uuid.UUID, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		owner    int
		packetID uuid.UUID
		status   model.SessionStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT student_id, packet_id, status FROM exam_sessions WHERE id = $1 FOR SHARE`, sessionID,
	).Scan(&owner, &packetID, &status)
	if err != nil {
		return uuid.Nil, notFound(err)
	}
	if owner != studentID {
		return uuid.Nil, ErrSessionMismatch
	}
	if status != model.SessionStatusRunning {
		return uuid.Nil, ErrSessionClosed
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(upsertAnswerSQL, sessionID, a.QuestionID, studentID, a.SelectedOption, a.ClientTime, packetID)
	}

	br := tx.SendBatch(ctx, batch)
	for range answers {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return uuid.Nil, fmt.Errorf("upsert answer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return uuid.Nil, ErrUnknownQuestion
		}
	}
	if err := br.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit sync: %w", err)
	}
	return packetID, nil
}

// ListBySession returns all answer records of a session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	return listAnswers(ctx, r.pool, sessionID)
}

func listAnswers(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT session_id, question_id, student_id, selected_option, client_time, synced, updated_at
		 FROM answer_records WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.AnswerRecord{}
	for rows.Next() {
		var a model.AnswerRecord
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.StudentID, &a.SelectedOption,
			&a.ClientTime, &a.Synced, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
