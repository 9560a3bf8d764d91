package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/scoring"
)

// ReportService serves read-only results to the owning teacher and admins.
type ReportService struct {
	packets    PacketStore
	questions  QuestionStore
	sessions   SessionStore
	answers    AnswerStore
	violations ViolationStore
	reports    ReportStore
	users      UserStore
}

// NewReportService creates a new ReportService.
func NewReportService(stores Stores) *ReportService {
	return &ReportService{
		packets:    stores.Packets,
		questions:  stores.Questions,
		sessions:   stores.Sessions,
		answers:    stores.Answers,
		violations: stores.Violations,
		reports:    stores.Reports,
		users:      stores.Users,
	}
}

// GetPacket returns a packet the actor may view.
func (s *ReportService) GetPacket(ctx context.Context, actor Actor, packetID uuid.UUID) (*model.Packet, error) {
	p, err := s.packets.GetByID(ctx, packetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, fmt.Errorf("get packet: %w", err)
	}
	if !actor.canManage(p) {
		return nil, ErrNotPacketOwner
	}
	return p, nil
}

// Recap lists every session of the packet with scores and violation counts.
func (s *ReportService) Recap(ctx context.Context, actor Actor, packetID uuid.UUID) (*model.PacketRecap, error) {
	p, err := s.GetPacket(ctx, actor, packetID)
	if err != nil {
		return nil, err
	}
	rows, err := s.reports.Recap(ctx, packetID)
	if err != nil {
		return nil, fmt.Errorf("recap: %w", err)
	}
	return &model.PacketRecap{Packet: *p, Sessions: rows}, nil
}

// Progress returns live answered/violation counts per session.
func (s *ReportService) Progress(ctx context.Context, actor Actor, packetID uuid.UUID) ([]model.StudentProgress, error) {
	if _, err := s.GetPacket(ctx, actor, packetID); err != nil {
		return nil, err
	}
	return s.reports.Progress(ctx, packetID)
}

// SessionDetail returns the per-question breakdown of one session, graded
// with the same rules as FinishSession.
func (s *ReportService) SessionDetail(ctx context.Context, actor Actor, sessionID uuid.UUID) (*model.SessionDetail, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	p, err := s.GetPacket(ctx, actor, sess.PacketID)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.ListByPacket(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.answers.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	violations, err := s.violations.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	student := model.User{ID: sess.StudentID}
	if u, err := s.users.GetByID(ctx, sess.StudentID); err == nil {
		student = *u
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get student: %w", err)
	}

	items := scoring.Evaluate(answers, questions)
	summary := scoring.Summarize(items)

	results := make([]model.QuestionResult, 0, len(items))
	for _, it := range items {
		qr := model.QuestionResult{
			QuestionID:   it.Question.ID,
			QuestionType: it.Question.QuestionType,
			Prompt:       it.Question.Prompt,
			Options:      it.Question.Options,
			AnswerKey:    it.Question.AnswerKey,
			Points:       it.Question.Points,
			IsCorrect:    it.Correct,
			Earned:       it.Earned,
		}
		if it.Answer != nil {
			selected := it.Answer.SelectedOption
			qr.SelectedOption = &selected
		}
		results = append(results, qr)
	}

	return &model.SessionDetail{
		Session:    *sess,
		Student:    student,
		Packet:     *p,
		Achieved:   summary.Achieved,
		Maximum:    summary.Maximum,
		Violations: violations,
		Questions:  results,
	}, nil
}
