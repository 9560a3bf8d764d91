package websocket

import (
	"time"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSync      Action = "sync"
	ActionViolation Action = "violation"
	ActionFinish    Action = "finish"
	ActionPing      Action = "ping"
)

// Request is the single client frame shape. Fields unused by an action are
// ignored. Sync and violation frames are checked against the same rules as
// their REST request bodies.
type Request struct {
	Action Action `json:"action"`
	// Ref is echoed back on the reply so clients can match acks to frames.
	Ref     string              `json:"ref,omitempty"`
	Answers []model.AnswerInput `json:"answers,omitempty"`
	Kind    string              `json:"kind,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck      Event = "ack"
	EventRecorded Event = "recorded"
	EventGraded   Event = "graded"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

type AckResponse struct {
	Event    Event     `json:"event"`
	Ref      string    `json:"ref,omitempty"`
	Saved    int       `json:"saved"`
	SyncedAt time.Time `json:"synced_at"`
}

type RecordedResponse struct {
	Event Event  `json:"event"`
	Ref   string `json:"ref,omitempty"`
}

type GradedResponse struct {
	Event  Event               `json:"event"`
	Ref    string              `json:"ref,omitempty"`
	Result *model.FinishResult `json:"result"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Ref    string            `json:"ref,omitempty"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	// Result is the stored grade when a finish is refused.
	Result *model.FinishResult `json:"result,omitempty"`
}

type PongResponse struct {
	Event      Event     `json:"event"`
	Ref        string    `json:"ref,omitempty"`
	ServerTime time.Time `json:"server_time"`
}
