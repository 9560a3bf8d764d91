package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// PacketService is the teacher-side authoring surface for packets and questions.
type PacketService struct {
	packets   PacketStore
	questions QuestionStore
	tokens    *TokenGenerator
	cache     QuestionCache
	log       zerolog.Logger
}

// NewPacketService creates a new PacketService. cache may be nil.
func NewPacketService(stores Stores, tokens *TokenGenerator, cache QuestionCache, log zerolog.Logger) *PacketService {
	return &PacketService{
		packets:   stores.Packets,
		questions: stores.Questions,
		tokens:    tokens,
		cache:     cache,
		log:       log.With().Str("component", "packet_service").Logger(),
	}
}

// CreatePacket creates an inactive packet owned by the actor with a freshly
// generated join token.
func (s *PacketService) CreatePacket(ctx context.Context, actor Actor, req model.CreatePacketRequest) (*model.Packet, error) {
	p := &model.Packet{
		OwnerID:         actor.UserID,
		Title:           strings.TrimSpace(req.Title),
		DurationMinutes: req.DurationMinutes,
		IsActive:        false,
	}

	_, err := s.tokens.Generate(ctx, func(ctx context.Context, token string) (bool, error) {
		p.JoinToken = token
		err := s.packets.Create(ctx, p)
		if errors.Is(err, repository.ErrDuplicateToken) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("create packet: %w", err)
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenExhausted) {
			s.log.Error().Int("owner_id", actor.UserID).Msg("Join token space exhausted")
		}
		return nil, err
	}

	s.log.Info().
		Str("packet_id", p.ID.String()).
		Int("owner_id", p.OwnerID).
		Msg("Packet created")
	return p, nil
}

// ListPackets lists the actor's packets; admins see all of them.
func (s *PacketService) ListPackets(ctx context.Context, actor Actor) ([]model.Packet, error) {
	if actor.Role == model.RoleAdmin {
		return s.packets.ListAll(ctx)
	}
	return s.packets.ListByOwner(ctx, actor.UserID)
}

// GetPacketDetail returns a packet with its questions and answer keys.
func (s *PacketService) GetPacketDetail(ctx context.Context, actor Actor, packetID uuid.UUID) (*model.PacketDetail, error) {
	p, err := s.authorize(ctx, actor, packetID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListByPacket(ctx, packetID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return &model.PacketDetail{Packet: *p, Questions: questions}, nil
}

// SetActive opens or closes the packet to new sessions. Running sessions are unaffected.
func (s *PacketService) SetActive(ctx context.Context, actor Actor, packetID uuid.UUID, active bool) (*model.Packet, error) {
	p, err := s.authorize(ctx, actor, packetID)
	if err != nil {
		return nil, err
	}
	if err := s.packets.SetActive(ctx, packetID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, fmt.Errorf("set active: %w", err)
	}
	p.IsActive = active
	return p, nil
}

// DeletePacket hard-deletes a packet together with its questions, sessions,
// scores, answers and violations.
func (s *PacketService) DeletePacket(ctx context.Context, actor Actor, packetID uuid.UUID) error {
	if _, err := s.authorize(ctx, actor, packetID); err != nil {
		return err
	}
	if err := s.packets.Delete(ctx, packetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPacketNotFound
		}
		return fmt.Errorf("delete packet: %w", err)
	}
	s.invalidate(ctx, packetID)
	s.log.Warn().
		Str("packet_id", packetID.String()).
		Int("actor_id", actor.UserID).
		Msg("Packet deleted with all sessions")
	return nil
}

// AddQuestion validates and appends a question to the packet.
func (s *PacketService) AddQuestion(ctx context.Context, actor Actor, packetID uuid.UUID, req model.CreateQuestionRequest) (*model.Question, error) {
	if _, err := s.authorize(ctx, actor, packetID); err != nil {
		return nil, err
	}

	q, err := buildQuestion(packetID, req)
	if err != nil {
		return nil, err
	}

	if err := s.questions.Create(ctx, q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, fmt.Errorf("create question: %w", err)
	}
	s.invalidate(ctx, packetID)
	return q, nil
}

// DeleteQuestion removes a question from the packet.
func (s *PacketService) DeleteQuestion(ctx context.Context, actor Actor, packetID, questionID uuid.UUID) error {
	if _, err := s.authorize(ctx, actor, packetID); err != nil {
		return err
	}
	if err := s.questions.Delete(ctx, packetID, questionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("delete question: %w", err)
	}
	s.invalidate(ctx, packetID)
	return nil
}

func (s *PacketService) authorize(ctx context.Context, actor Actor, packetID uuid.UUID) (*model.Packet, error) {
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

func (s *PacketService) invalidate(ctx context.Context, packetID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, packetID); err != nil {
		s.log.Warn().Err(err).Str("packet_id", packetID.String()).Msg("Question cache invalidation failed")
	}
}

// buildQuestion applies defaults and enforces the item invariants: points of
// at least 1, and for multiple choice an answer key that names one of the options.
func buildQuestion(packetID uuid.UUID, req model.CreateQuestionRequest) (*model.Question, error) {
	qType := req.QuestionType
	if qType == "" {
		qType = model.QuestionTypeMultipleChoice
	}

	points := req.Points
	if points == 0 {
		points = 1
	}
	if points < 1 {
		return nil, fmt.Errorf("%w: points must be at least 1", ErrInvalidQuestion)
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidQuestion)
	}
	if req.AnswerKey == "" {
		return nil, fmt.Errorf("%w: answer key is required", ErrInvalidQuestion)
	}

	options := map[string]string{}
	switch qType {
	case model.QuestionTypeMultipleChoice:
		if len(req.Options) < 2 {
			return nil, fmt.Errorf("%w: multiple choice needs at least two options", ErrInvalidQuestion)
		}
		for label, text := range req.Options {
			label = strings.TrimSpace(label)
			if label == "" || strings.TrimSpace(text) == "" {
				return nil, fmt.Errorf("%w: option labels and texts must be non-empty", ErrInvalidQuestion)
			}
			options[label] = text
		}
		if _, ok := options[req.AnswerKey]; !ok {
			return nil, fmt.Errorf("%w: answer key %q is not one of the options", ErrInvalidQuestion, req.AnswerKey)
		}
	case model.QuestionTypeFreeResponse:
		if len(req.Options) > 0 {
			return nil, fmt.Errorf("%w: free response questions take no options", ErrInvalidQuestion)
		}
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidQuestion, qType)
	}

	return &model.Question{
		PacketID:     packetID,
		QuestionType: qType,
		Prompt:       prompt,
		Options:      options,
		AnswerKey:    req.AnswerKey,
		Points:       points,
	}, nil
}
