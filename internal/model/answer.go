package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRecord is the latest answer a student gave for one question in a session.
type AnswerRecord struct {
	SessionID      uuid.UUID  `json:"session_id"`
	QuestionID     uuid.UUID  `json:"question_id"`
	StudentID      int        `json:"student_id"`
	SelectedOption string     `json:"selected_option"`
	ClientTime     *time.Time `json:"client_time,omitempty"`
	Synced         bool       `json:"synced"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AnswerUpsert is one entry of a validated sync batch.
type AnswerUpsert struct {
	QuestionID     uuid.UUID
	SelectedOption string
	ClientTime     *time.Time
}

// AnswerInput is one answer in a sync request body.
type AnswerInput struct {
	QuestionID     string     `json:"question_id" binding:"required,uuid"`
	SelectedOption string     `json:"selected_option" binding:"max=10000"`
	ClientTime     *time.Time `json:"client_time"`
}

// SyncAnswersRequest is the payload for syncing a batch of answers.
type SyncAnswersRequest struct {
	Answers []AnswerInput `json:"answers" binding:"required,min=1,max=500,dive"`
}

// SyncAck acknowledges a sync batch.
type SyncAck struct {
	SessionID uuid.UUID `json:"session_id"`
	Saved     int       `json:"saved"`
	SyncedAt  time.Time `json:"synced_at"`
}
