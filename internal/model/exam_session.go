package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusRunning  SessionStatus = "RUNNING"
	SessionStatusFinished SessionStatus = "FINISHED"
)

// ExamSession is one student's attempt at one packet.
type ExamSession struct {
	ID         uuid.UUID     `json:"id"`
	PacketID   uuid.UUID     `json:"packet_id"`
	StudentID  int           `json:"student_id"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	FinalScore *float64      `json:"final_score,omitempty"`
}

// IsFinished reports whether the session has been finalized.
func (s *ExamSession) IsFinished() bool {
	return s.Status == SessionStatusFinished
}

// StartSessionRequest is the payload for entering an exam with a join token.
type StartSessionRequest struct {
	JoinToken string `json:"join_token" binding:"required,alphanum,max=32"`
}

// StartSessionResult is returned by StartSession.
type StartSessionResult struct {
	SessionID uuid.UUID `json:"session_id"`
	PacketID  uuid.UUID `json:"packet_id"`
	StartedAt time.Time `json:"started_at"`
	Resumed   bool      `json:"resumed"`
}

// Status values reported by GetStatus.
const (
	StatusIdle       = "idle"
	StatusHasSession = "has_session"
)

// ActiveSession describes the running session a reconnecting client should resume.
type ActiveSession struct {
	SessionID        uuid.UUID `json:"session_id"`
	PacketID         uuid.UUID `json:"packet_id"`
	Title            string    `json:"title"`
	DurationMinutes  int       `json:"duration_minutes"`
	StartedAt        time.Time `json:"started_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// SessionStatusView is the GetStatus result.
type SessionStatusView struct {
	Status  string         `json:"status"`
	Session *ActiveSession `json:"session,omitempty"`
}

// FinishResult is returned by FinishSession.
type FinishResult struct {
	SessionID  uuid.UUID `json:"session_id"`
	FinalScore float64   `json:"final_score"`
	Achieved   int       `json:"achieved"`
	Maximum    int       `json:"maximum"`
	FinishedAt time.Time `json:"finished_at"`
}
