package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationRecord is a proctoring event. Append-only.
type ViolationRecord struct {
	ID         int64     `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	StudentID  int       `json:"student_id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LogViolationRequest is the payload for reporting a violation.
type LogViolationRequest struct {
	Kind string `json:"kind" binding:"required,max=100"`
}
