package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType enumerates live monitor events.
type MonitorEventType string

const (
	MonitorSessionStarted  MonitorEventType = "session_started"
	MonitorSessionResumed  MonitorEventType = "session_resumed"
	MonitorAnswersSynced   MonitorEventType = "answers_synced"
	MonitorViolation       MonitorEventType = "violation"
	MonitorSessionFinished MonitorEventType = "session_finished"
)

// MonitorEvent is published to a packet's monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	PacketID  uuid.UUID        `json:"packet_id"`
	SessionID uuid.UUID        `json:"session_id"`
	StudentID int              `json:"student_id"`
	Data      map[string]any   `json:"data,omitempty"`
	At        time.Time        `json:"at"`
}
