package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// ReportRepository serves the read-only teacher views.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// Recap lists every session of a packet with student info and violation count.
// Running sessions come first, then finished ones by score.
func (r *ReportRepository) Recap(ctx context.Context, packetID uuid.UUID) ([]model.RecapRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_id, u.full_name, u.username, u.class_name,
		        s.status, s.started_at, s.finished_at, s.final_score,
		        COALESCE(v.cnt, 0)
		 FROM exam_sessions s
		 JOIN users u ON u.id = s.student_id
		 LEFT JOIN (
		     SELECT session_id, COUNT(*) AS cnt FROM violation_records GROUP BY session_id
		 ) v ON v.session_id = s.id
		 WHERE s.packet_id = $1
		 ORDER BY CASE s.status WHEN 'RUNNING' THEN 0 ELSE 1 END,
		          s.final_score DESC NULLS LAST,
		          u.full_name ASC`, packetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.RecapRow{}
	for rows.Next() {
		var row model.RecapRow
		if err := rows.Scan(&row.SessionID, &row.StudentID, &row.FullName, &row.Username, &row.ClassName,
			&row.Status, &row.StartedAt, &row.FinishedAt, &row.FinalScore, &row.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Progress returns answered and violation counts for each session of a packet.
func (r *ReportRepository) Progress(ctx context.Context, packetID uuid.UUID) ([]model.StudentProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_id,
		        (SELECT COUNT(*) FROM answer_records a WHERE a.session_id = s.id AND a.selected_option <> ''),
		        (SELECT COUNT(*) FROM violation_records v WHERE v.session_id = s.id)
		 FROM exam_sessions s
		 WHERE s.packet_id = $1`, packetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StudentProgress{}
	for rows.Next() {
		var p model.StudentProgress
		if err := rows.Scan(&p.SessionID, &p.StudentID, &p.AnsweredCount, &p.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
