package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByPacket retrieves all questions for a packet, ordered by order_num.
func (r *QuestionRepository) ListByPacket(ctx context.Context, packetID uuid.UUID) ([]model.Question, error) {
	return listQuestions(ctx, r.pool, packetID)
}

func listQuestions(ctx context.Context, q querier, packetID uuid.UUID) ([]model.Question, error) {
	rows, err := q.Query(ctx,
		`SELECT id, packet_id, question_type, prompt, options, answer_key, points, order_num, created_at
		 FROM questions WHERE packet_id = $1
		 ORDER BY order_num, created_at`, packetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var qu model.Question
		if err := rows.Scan(&qu.ID, &qu.PacketID, &qu.QuestionType, &qu.Prompt, &qu.Options,
			&qu.AnswerKey, &qu.Points, &qu.OrderNum, &qu.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, qu)
	}
	return questions, rows.Err()
}

// Create appends a question at the end of its packet.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	options := q.Options
	if options == nil {
		options = map[string]string{}
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO questions (packet_id, question_type, prompt, options, answer_key, points, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         COALESCE((SELECT MAX(order_num) FROM questions WHERE packet_id = $1), 0) + 1)
		 RETURNING id, order_num, created_at`,
		q.PacketID, q.QuestionType, q.Prompt, options, q.AnswerKey, q.Points,
	).Scan(&q.ID, &q.OrderNum, &q.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Delete removes a question from a packet.
func (r *QuestionRepository) Delete(ctx context.Context, packetID, questionID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM questions WHERE id = $1 AND packet_id = $2`, questionID, packetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
