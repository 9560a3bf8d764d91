package model

import (
	"time"

	"github.com/google/uuid"
)

// RecapRow is one session in a packet recap.
type RecapRow struct {
	SessionID      uuid.UUID     `json:"session_id"`
	StudentID      int           `json:"student_id"`
	FullName       string        `json:"full_name"`
	Username       string        `json:"username"`
	ClassName      string        `json:"class_name"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	FinalScore     *float64      `json:"final_score,omitempty"`
	ViolationCount int64         `json:"violation_count"`
}

// PacketRecap is the full recap for one packet.
type PacketRecap struct {
	Packet   Packet     `json:"packet"`
	Sessions []RecapRow `json:"sessions"`
}

// QuestionResult is one graded item in a session detail.
type QuestionResult struct {
	QuestionID     uuid.UUID         `json:"question_id"`
	QuestionType   QuestionType      `json:"question_type"`
	Prompt         string            `json:"prompt"`
	Options        map[string]string `json:"options,omitempty"`
	AnswerKey      string            `json:"answer_key"`
	Points         int               `json:"points"`
	SelectedOption *string           `json:"selected_option"`
	IsCorrect      bool              `json:"is_correct"`
	Earned         int               `json:"earned"`
}

// SessionDetail is the teacher's per-session breakdown.
type SessionDetail struct {
	Session    ExamSession       `json:"session"`
	Student    User              `json:"student"`
	Packet     Packet            `json:"packet"`
	Achieved   int               `json:"achieved"`
	Maximum    int               `json:"maximum"`
	Violations []ViolationRecord `json:"violations"`
	Questions  []QuestionResult  `json:"questions"`
}

// StudentProgress is the live progress of one session for the monitor.
type StudentProgress struct {
	SessionID      uuid.UUID `json:"session_id"`
	StudentID      int       `json:"student_id"`
	AnsweredCount  int64     `json:"answered_count"`
	ViolationCount int64     `json:"violation_count"`
}
