package model

import (
	"time"

	"github.com/google/uuid"
)

// Packet is an exam definition: metadata plus the gate students pass through.
type Packet struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         int       `json:"owner_id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	JoinToken       string    `json:"join_token"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	QuestionCount   int       `json:"question_count"`
}

// Duration returns the advisory time allowance.
func (p *Packet) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

// PacketDetail is the authoring view, including answer keys.
type PacketDetail struct {
	Packet
	Questions []Question `json:"questions"`
}

// CreatePacketRequest is the payload for creating a packet.
type CreatePacketRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1,max=1440"`
}

// SetPacketActiveRequest toggles whether students may start the packet.
type SetPacketActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}
