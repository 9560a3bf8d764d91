// Package memrepo is an in-memory implementation of the repository contracts.
// It keeps the same uniqueness and all-or-nothing guarantees as the
// PostgreSQL repositories so services can be exercised without a database.
package memrepo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

// DB holds every table behind one mutex.
type DB struct {
	mu         sync.Mutex
	users      map[int]*model.User
	packets    map[uuid.UUID]*model.Packet
	questions  map[uuid.UUID]*model.Question
	sessions   map[uuid.UUID]*model.ExamSession
	answers    map[answerKey]*model.AnswerRecord
	violations []model.ViolationRecord
	nextUserID int
	nextViolID int64
	nextOrder  map[uuid.UUID]int

	// Failure injection for tests. A non-nil value is returned from the
	// corresponding operation instead of touching state.
	FailViolationInsert error
	FailUpsert          error
	FailFinalize        error

	now func() time.Time
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		users:     map[int]*model.User{},
		packets:   map[uuid.UUID]*model.Packet{},
		questions: map[uuid.UUID]*model.Question{},
		sessions:  map[uuid.UUID]*model.ExamSession{},
		answers:   map[answerKey]*model.AnswerRecord{},
		nextOrder: map[uuid.UUID]int{},
		now:       time.Now,
	}
}

// SetClock overrides the time source used for store-assigned timestamps.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func (db *DB) Users() *Users           { return &Users{db} }
func (db *DB) Packets() *Packets       { return &Packets{db} }
func (db *DB) Questions() *Questions   { return &Questions{db} }
func (db *DB) Sessions() *Sessions     { return &Sessions{db} }
func (db *DB) Answers() *Answers       { return &Answers{db} }
func (db *DB) Violations() *Violations { return &Violations{db} }
func (db *DB) Reports() *Reports       { return &Reports{db} }

// CountSessions returns how many sessions exist for (packet, student) in status.
func (db *DB) CountSessions(packetID uuid.UUID, studentID int, status model.SessionStatus) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, s := range db.sessions {
		if s.PacketID == packetID && s.StudentID == studentID && s.Status == status {
			n++
		}
	}
	return n
}

// CountAnswers returns the number of answer records stored for a session.
func (db *DB) CountAnswers(sessionID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for k := range db.answers {
		if k.session == sessionID {
			n++
		}
	}
	return n
}

// ViolationCount returns the number of stored violations for a session.
func (db *DB) ViolationCount(sessionID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, v := range db.violations {
		if v.SessionID == sessionID {
			n++
		}
	}
	return n
}

// ─── Users ─────────────────────────────────────────────────────────────

type Users struct{ db *DB }

func (r *Users) GetByID(_ context.Context, id int) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *Users) Create(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.users {
		if existing.Username == u.Username {
			return repository.ErrDuplicateUsername
		}
	}
	r.db.nextUserID++
	u.ID = r.db.nextUserID
	u.CreatedAt = r.db.now()
	cp := *u
	r.db.users[u.ID] = &cp
	return nil
}

// ─── Packets ───────────────────────────────────────────────────────────

type Packets struct{ db *DB }

func (r *Packets) Create(_ context.Context, p *model.Packet) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.packets {
		if strings.EqualFold(existing.JoinToken, p.JoinToken) {
			return repository.ErrDuplicateToken
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = r.db.now()
	cp := *p
	r.db.packets[p.ID] = &cp
	return nil
}

func (r *Packets) TokenExists(_ context.Context, token string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.packets {
		if strings.EqualFold(p.JoinToken, token) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Packets) GetByID(_ context.Context, id uuid.UUID) (*model.Packet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.packets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.db.packetView(p), nil
}

func (r *Packets) GetByToken(_ context.Context, token string) (*model.Packet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.packets {
		if strings.EqualFold(p.JoinToken, token) {
			return r.db.packetView(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Packets) ListByOwner(_ context.Context, ownerID int) ([]model.Packet, error) {
	return r.list(func(p *model.Packet) bool { return p.OwnerID == ownerID }), nil
}

func (r *Packets) ListAll(_ context.Context) ([]model.Packet, error) {
	return r.list(func(*model.Packet) bool { return true }), nil
}

func (r *Packets) list(keep func(*model.Packet) bool) []model.Packet {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.Packet{}
	for _, p := range r.db.packets {
		if keep(p) {
			out = append(out, *r.db.packetView(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *Packets) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.packets[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsActive = active
	return nil
}

// Delete cascades to questions, sessions, answers and violations.
func (r *Packets) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.packets[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.packets, id)
	for qid, q := range r.db.questions {
		if q.PacketID == id {
			delete(r.db.questions, qid)
		}
	}
	for sid, s := range r.db.sessions {
		if s.PacketID == id {
			r.db.dropSession(sid)
		}
	}
	return nil
}

func (db *DB) packetView(p *model.Packet) *model.Packet {
	cp := *p
	cp.QuestionCount = 0
	for _, q := range db.questions {
		if q.PacketID == p.ID {
			cp.QuestionCount++
		}
	}
	return &cp
}

func (db *DB) dropSession(id uuid.UUID) {
	delete(db.sessions, id)
	for k := range db.answers {
		if k.session == id {
			delete(db.answers, k)
		}
	}
	kept := db.violations[:0]
	for _, v := range db.violations {
		if v.SessionID != id {
			kept = append(kept, v)
		}
	}
	db.violations = kept
}

// ─── Questions ─────────────────────────────────────────────────────────

type Questions struct{ db *DB }

func (r *Questions) Create(_ context.Context, q *model.Question) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.packets[q.PacketID]; !ok {
		return repository.ErrNotFound
	}
	r.db.nextOrder[q.PacketID]++
	q.ID = uuid.New()
	q.OrderNum = r.db.nextOrder[q.PacketID]
	q.CreatedAt = r.db.now()
	cp := *q
	r.db.questions[q.ID] = &cp
	return nil
}

func (r *Questions) ListByPacket(_ context.Context, packetID uuid.UUID) ([]model.Question, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.questionsOf(packetID), nil
}

func (r *Questions) Delete(_ context.Context, packetID, questionID uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q, ok := r.db.questions[questionID]
	if !ok || q.PacketID != packetID {
		return repository.ErrNotFound
	}
	delete(r.db.questions, questionID)
	for k := range r.db.answers {
		if k.question == questionID {
			delete(r.db.answers, k)
		}
	}
	return nil
}

func (db *DB) questionsOf(packetID uuid.UUID) []model.Question {
	out := []model.Question{}
	for _, q := range db.questions {
		if q.PacketID == packetID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out
}

// ─── Sessions ──────────────────────────────────────────────────────────

type Sessions struct{ db *DB }

func (r *Sessions) StartOrResume(_ context.Context, packetID uuid.UUID, studentID int) (*model.ExamSession, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.packets[packetID]; !ok {
		return nil, false, repository.ErrNotFound
	}
	for _, s := range r.db.sessions {
		if s.PacketID == packetID && s.StudentID == studentID && s.Status == model.SessionStatusRunning {
			cp := *s
			return &cp, false, nil
		}
	}
	s := &model.ExamSession{
		ID:        uuid.New(),
		PacketID:  packetID,
		StudentID: studentID,
		Status:    model.SessionStatusRunning,
		StartedAt: r.db.now(),
	}
	r.db.sessions[s.ID] = s
	cp := *s
	return &cp, true, nil
}

func (r *Sessions) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *Sessions) FindRunningByStudent(_ context.Context, studentID int) (*model.ExamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *model.ExamSession
	for _, s := range r.db.sessions {
		if s.StudentID != studentID || s.Status != model.SessionStatusRunning {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *Sessions) HasSession(_ context.Context, packetID uuid.UUID, studentID int) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sessions {
		if s.PacketID == packetID && s.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

// Finalize holds the DB lock for the whole read-grade-write sequence, which
// gives the same isolation as the row lock in the SQL implementation.
func (r *Sessions) Finalize(_ context.Context, id uuid.UUID, grade repository.GradeFunc) (*model.ExamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.FailFinalize != nil {
		return nil, r.db.FailFinalize
	}
	s, ok := r.db.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	answers := []model.AnswerRecord{}
	for k, a := range r.db.answers {
		if k.session == id {
			answers = append(answers, *a)
		}
	}
	locked := *s
	score, err := grade(&locked, answers, r.db.questionsOf(s.PacketID))
	if err != nil {
		return nil, err
	}

	s.Status = model.SessionStatusFinished
	s.FinalScore = &score
	if s.FinishedAt == nil {
		t := r.db.now()
		s.FinishedAt = &t
	}
	cp := *s
	return &cp, nil
}

func (r *Sessions) ListOverdue(_ context.Context, now time.Time, grace time.Duration) ([]model.ExamSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.ExamSession{}
	for _, s := range r.db.sessions {
		if s.Status != model.SessionStatusRunning {
			continue
		}
		p, ok := r.db.packets[s.PacketID]
		if !ok {
			continue
		}
		if s.StartedAt.Add(p.Duration() + grace).Before(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ─── Answers ───────────────────────────────────────────────────────────

type Answers struct{ db *DB }

// UpsertBatch validates the whole batch before writing anything.
func (r *Answers) UpsertBatch(_ context.Context, sessionID uuid.UUID, studentID int, answers []model.AnswerUpsert) (uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.FailUpsert != nil {
		return uuid.Nil, r.db.FailUpsert
	}
	s, ok := r.db.sessions[sessionID]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	if s.StudentID != studentID {
		return uuid.Nil, repository.ErrSessionMismatch
	}
	if s.Status != model.SessionStatusRunning {
		return uuid.Nil, repository.ErrSessionClosed
	}
	for _, a := range answers {
		q, ok := r.db.questions[a.QuestionID]
		if !ok || q.PacketID != s.PacketID {
			return uuid.Nil, repository.ErrUnknownQuestion
		}
	}

	now := r.db.now()
	for _, a := range answers {
		r.db.answers[answerKey{sessionID, a.QuestionID}] = &model.AnswerRecord{
			SessionID:      sessionID,
			QuestionID:     a.QuestionID,
			StudentID:      studentID,
			SelectedOption: a.SelectedOption,
			ClientTime:     a.ClientTime,
			Synced:         true,
			UpdatedAt:      now,
		}
	}
	return s.PacketID, nil
}

func (r *Answers) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.AnswerRecord{}
	for k, a := range r.db.answers {
		if k.session == sessionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// ─── Violations ────────────────────────────────────────────────────────

type Violations struct{ db *DB }

func (r *Violations) Insert(_ context.Context, v *model.ViolationRecord) (uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.FailViolationInsert != nil {
		return uuid.Nil, r.db.FailViolationInsert
	}
	s, ok := r.db.sessions[v.SessionID]
	if !ok || s.StudentID != v.StudentID {
		return uuid.Nil, repository.ErrSessionMismatch
	}
	r.db.nextViolID++
	v.ID = r.db.nextViolID
	r.db.violations = append(r.db.violations, *v)
	return s.PacketID, nil
}

// CopyBatch writes the records whose session belongs to the recorded student
// and skips the rest.
func (r *Violations) CopyBatch(_ context.Context, batch []model.ViolationRecord) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.FailViolationInsert != nil {
		return 0, r.db.FailViolationInsert
	}
	var n int64
	for _, v := range batch {
		s, ok := r.db.sessions[v.SessionID]
		if !ok || s.StudentID != v.StudentID {
			continue
		}
		r.db.nextViolID++
		v.ID = r.db.nextViolID
		r.db.violations = append(r.db.violations, v)
		n++
	}
	return n, nil
}

func (r *Violations) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.ViolationRecord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.ViolationRecord{}
	for _, v := range r.db.violations {
		if v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	return out, nil
}

// ─── Reports ───────────────────────────────────────────────────────────

type Reports struct{ db *DB }

func (r *Reports) Recap(_ context.Context, packetID uuid.UUID) ([]model.RecapRow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.RecapRow{}
	for _, s := range r.db.sessions {
		if s.PacketID != packetID {
			continue
		}
		row := model.RecapRow{
			SessionID:  s.ID,
			StudentID:  s.StudentID,
			Status:     s.Status,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
			FinalScore: s.FinalScore,
		}
		if u, ok := r.db.users[s.StudentID]; ok {
			row.FullName, row.Username, row.ClassName = u.FullName, u.Username, u.ClassName
		}
		for _, v := range r.db.violations {
			if v.SessionID == s.ID {
				row.ViolationCount++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Status == model.SessionStatusRunning) != (b.Status == model.SessionStatusRunning) {
			return a.Status == model.SessionStatusRunning
		}
		as, bs := scoreOf(a.FinalScore), scoreOf(b.FinalScore)
		if as != bs {
			return as > bs
		}
		return a.FullName < b.FullName
	})
	return out, nil
}

func (r *Reports) Progress(_ context.Context, packetID uuid.UUID) ([]model.StudentProgress, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []model.StudentProgress{}
	for _, s := range r.db.sessions {
		if s.PacketID != packetID {
			continue
		}
		p := model.StudentProgress{SessionID: s.ID, StudentID: s.StudentID}
		for k, a := range r.db.answers {
			if k.session == s.ID && a.SelectedOption != "" {
				p.AnsweredCount++
			}
		}
		for _, v := range r.db.violations {
			if v.SessionID == s.ID {
				p.ViolationCount++
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func scoreOf(p *float64) float64 {
	if p == nil {
		return -1
	}
	return *p
}

// ErrInjected is a convenience error for failure injection in tests.
var ErrInjected = errors.New("memrepo: injected failure")
