package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// startAttempts bounds the insert-or-fetch loop in StartOrResume. A retry is
// only needed when the conflicting running row finishes between the two steps.
const startAttempts = 3

const sessionColumns = `id, packet_id, student_id, status, started_at, finished_at, final_score`

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.PacketID, &s.StudentID, &s.Status, &s.StartedAt, &s.FinishedAt, &s.FinalScore)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// StartOrResume returns the running session for (packet, student), creating it
// if none exists. The partial unique index on running sessions makes the
// insert and the existence check a single atomic decision in the store.
// created reports whether a new row was inserted.
func (r *ExamSessionRepository) StartOrResume(ctx context.Context, packetID uuid.UUID, studentID int) (*model.ExamSession, bool, error) {
	for attempt := 0; attempt < startAttempts; attempt++ {
		s := &model.ExamSession{
			PacketID:  packetID,
			StudentID: studentID,
			Status:    model.SessionStatusRunning,
		}
		err := r.pool.QueryRow(ctx,
			`INSERT INTO exam_sessions (packet_id, student_id, status)
			 VALUES ($1, $2, 'RUNNING')
			 ON CONFLICT (packet_id, student_id) WHERE status = 'RUNNING' DO NOTHING
			 RETURNING id, started_at`,
			packetID, studentID,
		).Scan(&s.ID, &s.StartedAt)
		if err == nil {
			return s, true, nil
		}
		if isForeignKeyViolation(err) {
			return nil, false, ErrNotFound
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("insert session: %w", err)
		}

		// Conflict: someone else holds the running slot.
		existing, err := scanSession(r.pool.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM exam_sessions
			 WHERE packet_id = $1 AND student_id = $2 AND status = 'RUNNING'`,
			packetID, studentID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, fmt.Errorf("fetch running session: %w", err)
		}
	}
	return nil, false, ErrStartContention
}

// GetByID retrieves a session by ID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// FindRunningByStudent returns the student's most recently started running session.
func (r *ExamSessionRepository) FindRunningByStudent(ctx context.Context, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE student_id = $1 AND status = 'RUNNING'
		 ORDER BY started_at DESC
		 LIMIT 1`, studentID))
}

// HasSession reports whether the student has any session, running or finished, for the packet.
func (r *ExamSessionRepository) HasSession(ctx context.Context, packetID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_sessions WHERE packet_id = $1 AND student_id = $2)`,
		packetID, studentID,
	).Scan(&exists)
	return exists, err
}

// Finalize grades and closes a session in one transaction. The session row is
// locked FOR UPDATE before answers are read, so a concurrent sync (which holds
// FOR SHARE) either commits entirely before grading or observes the finished
// status afterwards. finished_at keeps its first value when a finished session
// is graded again.
func (r *ExamSessionRepository) Finalize(ctx context.Context, id uuid.UUID, grade GradeFunc) (*model.ExamSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	answers, err := listAnswers(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	questions, err := listQuestions(ctx, tx, s.PacketID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	score, err := grade(s, answers, questions)
	if err != nil {
		return nil, err
	}

	var finishedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = 'FINISHED', final_score = $2, finished_at = COALESCE(finished_at, NOW())
		 WHERE id = $1
		 RETURNING finished_at`,
		id, score,
	).Scan(&finishedAt)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}

	s.Status = model.SessionStatusFinished
	s.FinishedAt = &finishedAt
	s.FinalScore = &score
	return s, nil
}

// ListOverdue returns running sessions whose advisory deadline plus grace is before now.
func (r *ExamSessionRepository) ListOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.packet_id, s.student_id, s.status, s.started_at, s.finished_at, s.final_score
		 FROM exam_sessions s
		 JOIN exam_packets p ON p.id = s.packet_id
		 WHERE s.status = 'RUNNING'
		   AND s.started_at + make_interval(mins => p.duration_minutes, secs => $2) < $1
		 ORDER BY s.started_at`,
		now, grace.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []model.ExamSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
