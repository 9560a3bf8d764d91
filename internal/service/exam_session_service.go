package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/scoring"
)

const maxViolationKindLen = 100

// errAlreadyFinished aborts a sweep finalize for a session a student finished first.
var errAlreadyFinished = errors.New("session finished before sweep")

// ExamSessionService owns the session lifecycle: start or resume, answer sync,
// violation logging, and finish with grading. It holds no per-session state;
// every call is a store round trip.
type ExamSessionService struct {
	packets    PacketStore
	questions  QuestionStore
	sessions   SessionStore
	answers    AnswerStore
	violations ViolationStore

	cache  QuestionCache
	events EventPublisher
	queue  ViolationQueue

	policy           config.FinishPolicy
	violationTimeout time.Duration
	now              func() time.Time
	log              zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService. cache, events and
// queue may be nil.
func NewExamSessionService(
	stores Stores,
	cache QuestionCache,
	events EventPublisher,
	queue ViolationQueue,
	cfg *config.Config,
	log zerolog.Logger,
) *ExamSessionService {
	timeout := cfg.ViolationWriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExamSessionService{
		packets:          stores.Packets,
		questions:        stores.Questions,
		sessions:         stores.Sessions,
		answers:          stores.Answers,
		violations:       stores.Violations,
		cache:            cache,
		events:           events,
		queue:            queue,
		policy:           cfg.FinishPolicy,
		violationTimeout: timeout,
		now:              time.Now,
		log:              log.With().Str("component", "exam_session_service").Logger(),
	}
}

// SetClock overrides the clock. Intended for tests.
func (s *ExamSessionService) SetClock(now func() time.Time) {
	s.now = now
}

// GetStatus reports whether the student has a running session to resume.
func (s *ExamSessionService) GetStatus(ctx context.Context, studentID int) (*model.SessionStatusView, error) {
	idle := &model.SessionStatusView{Status: model.StatusIdle}

	sess, err := s.sessions.FindRunningByStudent(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return idle, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running session: %w", err)
	}

	packet, err := s.packets.GetByID(ctx, sess.PacketID)
	if errors.Is(err, repository.ErrNotFound) {
		return idle, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get packet: %w", err)
	}

	remaining := sess.StartedAt.Add(packet.Duration()).Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}

	return &model.SessionStatusView{
		Status: model.StatusHasSession,
		Session: &model.ActiveSession{
			SessionID:        sess.ID,
			PacketID:         sess.PacketID,
			Title:            packet.Title,
			DurationMinutes:  packet.DurationMinutes,
			StartedAt:        sess.StartedAt,
			RemainingSeconds: int64(remaining / time.Second),
		},
	}, nil
}

// StartSession resolves a join token and returns the student's running
// session for that packet, creating it when there is none. Repeated calls
// return the same session until it is finished.
func (s *ExamSessionService) StartSession(ctx context.Context, token string, studentID int) (*model.StartSessionResult, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return nil, ErrInvalidToken
	}

	packet, err := s.packets.GetByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPacketUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if !packet.IsActive {
		return nil, ErrPacketUnavailable
	}

	sess, created, err := s.sessions.StartOrResume(ctx, packet.ID, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPacketUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	evType := model.MonitorSessionResumed
	if created {
		evType = model.MonitorSessionStarted
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Str("packet_id", packet.ID.String()).
			Int("student_id", studentID).
			Msg("Session started")
	}
	s.publish(ctx, model.MonitorEvent{
		Type:      evType,
		PacketID:  packet.ID,
		SessionID: sess.ID,
		StudentID: studentID,
	})

	return &model.StartSessionResult{
		SessionID: sess.ID,
		PacketID:  packet.ID,
		StartedAt: sess.StartedAt,
		Resumed:   !created,
	}, nil
}

// GetQuestions returns a packet's questions with answer keys removed.
func (s *ExamSessionService) GetQuestions(ctx context.Context, packetID uuid.UUID) ([]model.QuestionForStudent, error) {
	var (
		gen      int64
		writable bool
	)
	if s.cache != nil {
		cached, g, ok, err := s.cache.Get(ctx, packetID)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("packet_id", packetID.String()).Msg("Question cache read failed")
		case ok:
			return cached, nil
		default:
			gen, writable = g, true
		}
	}

	if _, err := s.packets.GetByID(ctx, packetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPacketNotFound
		}
		return nil, fmt.Errorf("get packet: %w", err)
	}

	questions, err := s.questions.ListByPacket(ctx, packetID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	out := make([]model.QuestionForStudent, 0, len(questions))
	for i := range questions {
		out = append(out, questions[i].ForStudent())
	}

	if writable {
		if err := s.cache.Set(ctx, packetID, gen, out); err != nil {
			s.log.Warn().Err(err).Str("packet_id", packetID.String()).Msg("Question cache write failed")
		}
	}
	return out, nil
}

// GetQuestionsForStudent is GetQuestions gated on the student holding a
// session, running or finished, for the packet.
func (s *ExamSessionService) GetQuestionsForStudent(ctx context.Context, packetID uuid.UUID, studentID int) ([]model.QuestionForStudent, error) {
	ok, err := s.sessions.HasSession(ctx, packetID, studentID)
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !ok {
		return nil, ErrNotEnrolled
	}
	return s.GetQuestions(ctx, packetID)
}

// SyncAnswers upserts a batch of answers in one transaction. Last write wins
// per question; the batch is rejected whole if any entry is invalid.
func (s *ExamSessionService) SyncAnswers(ctx context.Context, sessionID uuid.UUID, studentID int, answers []model.AnswerUpsert) (*model.SyncAck, error) {
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: no answers", ErrMalformedAnswers)
	}
	for i, a := range answers {
		if a.QuestionID == uuid.Nil {
			return nil, fmt.Errorf("%w: answer %d has no question id", ErrMalformedAnswers, i)
		}
	}

	packetID, err := s.answers.UpsertBatch(ctx, sessionID, studentID, answers)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrSessionMismatch):
		return nil, ErrSessionNotFound
	case errors.Is(err, repository.ErrSessionClosed):
		return nil, ErrSessionFinished
	case errors.Is(err, repository.ErrUnknownQuestion):
		return nil, ErrUnknownQuestion
	default:
		return nil, fmt.Errorf("upsert answers: %w", err)
	}

	s.publish(ctx, model.MonitorEvent{
		Type:      model.MonitorAnswersSynced,
		PacketID:  packetID,
		SessionID: sessionID,
		StudentID: studentID,
		Data:      map[string]any{"count": len(answers)},
	})

	return &model.SyncAck{
		SessionID: sessionID,
		Saved:     len(answers),
		SyncedAt:  s.now().UTC(),
	}, nil
}

// LogViolation records a proctoring event. Store failures never reach the
// caller: the record is queued for the background writer, and if that also
// fails it is logged and dropped. Only an empty kind is rejected.
func (s *ExamSessionService) LogViolation(ctx context.Context, sessionID uuid.UUID, studentID int, kind string) error {
	kind = sanitizeKind(kind)
	if kind == "" {
		return ErrInvalidViolation
	}

	rec := model.ViolationRecord{
		SessionID:  sessionID,
		StudentID:  studentID,
		Kind:       kind,
		RecordedAt: s.now().UTC(),
	}

	log := s.log.With().
		Str("session_id", sessionID.String()).
		Int("student_id", studentID).
		Str("kind", kind).
		Logger()

	// Detached from the request so a client disconnect does not cancel the write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.violationTimeout)
	defer cancel()

	packetID, err := s.violations.Insert(writeCtx, &rec)
	switch {
	case err == nil:
		s.publish(ctx, model.MonitorEvent{
			Type:      model.MonitorViolation,
			PacketID:  packetID,
			SessionID: sessionID,
			StudentID: studentID,
			Data:      map[string]any{"kind": kind},
		})
	case errors.Is(err, repository.ErrSessionMismatch):
		log.Warn().Msg("Violation for unknown or foreign session dropped")
	default:
		log.Warn().Err(err).Msg("Violation insert failed, queueing for retry")
		if s.queue == nil {
			log.Error().Msg("No violation queue configured, record dropped")
			return nil
		}
		if qerr := s.queue.Enqueue(writeCtx, rec); qerr != nil {
			log.Error().Err(qerr).Msg("Violation enqueue failed, record dropped")
		}
	}
	return nil
}

// sanitizeKind drops invalid UTF-8 and NUL bytes, trims whitespace and caps
// the kind at maxViolationKindLen characters.
func sanitizeKind(kind string) string {
	kind = strings.ToValidUTF8(kind, "")
	kind = strings.ReplaceAll(kind, "\x00", "")
	kind = strings.TrimSpace(kind)
	if utf8.RuneCountInString(kind) <= maxViolationKindLen {
		return kind
	}
	n := 0
	for i := range kind {
		if n == maxViolationKindLen {
			return strings.TrimSpace(kind[:i])
		}
		n++
	}
	return kind
}

// FinishSession grades the session and marks it finished. The read of
// answers, the grading and the status write happen in one transaction.
// For a session that is already finished the configured policy applies:
// recompute re-grades and overwrites the score, reject returns a
// *FinishedError holding the stored result.
func (s *ExamSessionService) FinishSession(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.FinishResult, error) {
	var result scoring.Result
	grade := func(sess *model.ExamSession, answers []model.AnswerRecord, questions []model.Question) (float64, error) {
		if sess.StudentID != studentID {
			return 0, ErrSessionNotFound
		}
		result = scoring.Score(answers, questions)
		if sess.IsFinished() && s.policy == config.FinishPolicyReject {
			return 0, storedResult(sess, result)
		}
		return result.Score, nil
	}

	sess, err := s.sessions.Finalize(ctx, sessionID, grade)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, ErrSessionFinished):
		var finished *FinishedError
		if errors.As(err, &finished) {
			return nil, finished
		}
		return nil, ErrSessionFinished
	default:
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("student_id", studentID).
		Float64("score", result.Score).
		Int("achieved", result.Achieved).
		Int("maximum", result.Maximum).
		Msg("Session finished")

	s.publish(ctx, model.MonitorEvent{
		Type:      model.MonitorSessionFinished,
		PacketID:  sess.PacketID,
		SessionID: sess.ID,
		StudentID: studentID,
		Data:      map[string]any{"final_score": result.Score},
	})

	return &model.FinishResult{
		SessionID:  sess.ID,
		FinalScore: result.Score,
		Achieved:   result.Achieved,
		Maximum:    result.Maximum,
		FinishedAt: *sess.FinishedAt,
	}, nil
}

// storedResult reports the grade a finished session already holds. Achieved
// and maximum come from the current answers, which a finished session no
// longer accepts.
func storedResult(sess *model.ExamSession, current scoring.Result) *FinishedError {
	res := &model.FinishResult{
		SessionID:  sess.ID,
		FinalScore: current.Score,
		Achieved:   current.Achieved,
		Maximum:    current.Maximum,
	}
	if sess.FinalScore != nil {
		res.FinalScore = *sess.FinalScore
	}
	if sess.FinishedAt != nil {
		res.FinishedAt = *sess.FinishedAt
	}
	return &FinishedError{Result: res}
}

// FinishOverdue finalizes running sessions whose duration plus grace has
// elapsed at now. Sessions finished by their student in the meantime are left
// alone. It returns the number of sessions it closed.
func (s *ExamSessionService) FinishOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	overdue, err := s.sessions.ListOverdue(ctx, now, grace)
	if err != nil {
		return 0, fmt.Errorf("list overdue sessions: %w", err)
	}

	closed := 0
	for _, o := range overdue {
		var result scoring.Result
		sess, err := s.sessions.Finalize(ctx, o.ID, func(sess *model.ExamSession, answers []model.AnswerRecord, questions []model.Question) (float64, error) {
			if sess.IsFinished() {
				return 0, errAlreadyFinished
			}
			result = scoring.Score(answers, questions)
			return result.Score, nil
		})
		if errors.Is(err, errAlreadyFinished) || errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("session_id", o.ID.String()).Msg("Auto-finish failed")
			continue
		}
		closed++
		s.publish(ctx, model.MonitorEvent{
			Type:      model.MonitorSessionFinished,
			PacketID:  sess.PacketID,
			SessionID: sess.ID,
			StudentID: sess.StudentID,
			Data:      map[string]any{"final_score": result.Score, "auto": true},
		})
	}
	return closed, nil
}

// publish is best-effort; monitor delivery never affects the exam flow.
func (s *ExamSessionService) publish(ctx context.Context, ev model.MonitorEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Monitor publish failed")
	}
}
