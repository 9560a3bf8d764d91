package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates supported question formats.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFreeResponse   QuestionType = "FREE_RESPONSE"
)

// Question is a single item in a packet, answer key included.
// Never serialize it to a student; use ForStudent.
type Question struct {
	ID           uuid.UUID         `json:"id"`
	PacketID     uuid.UUID         `json:"packet_id"`
	QuestionType QuestionType      `json:"question_type"`
	Prompt       string            `json:"prompt"`
	Options      map[string]string `json:"options"`
	AnswerKey    string            `json:"answer_key"`
	Points       int               `json:"points"`
	OrderNum     int               `json:"order_num"`
	CreatedAt    time.Time         `json:"created_at"`
}

// QuestionForStudent is what a student receives. It has no key field at all,
// so the answer key cannot leak through serialization.
type QuestionForStudent struct {
	ID           uuid.UUID         `json:"id"`
	QuestionType QuestionType      `json:"question_type"`
	Prompt       string            `json:"prompt"`
	Options      map[string]string `json:"options,omitempty"`
	Points       int               `json:"points"`
	OrderNum     int               `json:"order_num"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	var opts map[string]string
	if len(q.Options) > 0 {
		opts = make(map[string]string, len(q.Options))
		for k, v := range q.Options {
			opts[k] = v
		}
	}
	return QuestionForStudent{
		ID:           q.ID,
		QuestionType: q.QuestionType,
		Prompt:       q.Prompt,
		Options:      opts,
		Points:       q.Points,
		OrderNum:     q.OrderNum,
	}
}

// CreateQuestionRequest is the payload for adding a question to a packet.
// QuestionType defaults to MULTIPLE_CHOICE and Points to 1.
type CreateQuestionRequest struct {
	QuestionType QuestionType      `json:"question_type" binding:"omitempty,oneof=MULTIPLE_CHOICE FREE_RESPONSE"`
	Prompt       string            `json:"prompt" binding:"required"`
	Options      map[string]string `json:"options" binding:"omitempty,max=10"`
	AnswerKey    string            `json:"answer_key" binding:"required,max=2000"`
	Points       int               `json:"points" binding:"omitempty,min=1,max=1000"`
}
