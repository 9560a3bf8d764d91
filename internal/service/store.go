package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// PacketStore is the packet half of the question bank.
type PacketStore interface {
	Create(ctx context.Context, p *model.Packet) error
	TokenExists(ctx context.Context, token string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Packet, error)
	GetByToken(ctx context.Context, token string) (*model.Packet, error)
	ListByOwner(ctx context.Context, ownerID int) ([]model.Packet, error)
	ListAll(ctx context.Context) ([]model.Packet, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// QuestionStore is the question half of the question bank.
type QuestionStore interface {
	Create(ctx context.Context, q *model.Question) error
	ListByPacket(ctx context.Context, packetID uuid.UUID) ([]model.Question, error)
	Delete(ctx context.Context, packetID, questionID uuid.UUID) error
}

// SessionStore is the session ledger.
type SessionStore interface {
	StartOrResume(ctx context.Context, packetID uuid.UUID, studentID int) (*model.ExamSession, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	FindRunningByStudent(ctx context.Context, studentID int) (*model.ExamSession, error)
	HasSession(ctx context.Context, packetID uuid.UUID, studentID int) (bool, error)
	Finalize(ctx context.Context, id uuid.UUID, grade repository.GradeFunc) (*model.ExamSession, error)
	ListOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]model.ExamSession, error)
}

// AnswerStore is the answer log.
type AnswerStore interface {
	UpsertBatch(ctx context.Context, sessionID uuid.UUID, studentID int, answers []model.AnswerUpsert) (uuid.UUID, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error)
}

// ViolationStore is the violation log.
type ViolationStore interface {
	Insert(ctx context.Context, v *model.ViolationRecord) (uuid.UUID, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ViolationRecord, error)
}

// ReportStore serves aggregate teacher views.
type ReportStore interface {
	Recap(ctx context.Context, packetID uuid.UUID) ([]model.RecapRow, error)
	Progress(ctx context.Context, packetID uuid.UUID) ([]model.StudentProgress, error)
}

// UserStore reads accounts.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
}

// Stores bundles the persistence collaborators.
type Stores struct {
	Packets    PacketStore
	Questions  QuestionStore
	Sessions   SessionStore
	Answers    AnswerStore
	Violations ViolationStore
	Reports    ReportStore
	Users      UserStore
}

// QuestionCache caches the redacted question list per packet. Get reports the
// generation it read at; Set only lands where a later Get can see it if no
// Invalidate happened in between.
type QuestionCache interface {
	Get(ctx context.Context, packetID uuid.UUID) ([]model.QuestionForStudent, int64, bool, error)
	Set(ctx context.Context, packetID uuid.UUID, gen int64, questions []model.QuestionForStudent) error
	Invalidate(ctx context.Context, packetID uuid.UUID) error
}

// EventPublisher fans session events out to live monitors.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.MonitorEvent) error
}

// ViolationQueue holds violations that could not be written synchronously.
type ViolationQueue interface {
	Enqueue(ctx context.Context, v model.ViolationRecord) error
}

// Actor is the authenticated caller of a teacher-side operation.
type Actor struct {
	UserID int
	Role   model.Role
}

func (a Actor) canManage(p *model.Packet) bool {
	return a.Role == model.RoleAdmin || p.OwnerID == a.UserID
}
