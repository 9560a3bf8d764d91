package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository/memrepo"
)

type fixture struct {
	db      *memrepo.DB
	stores  Stores
	cfg     *config.Config
	events  *recordingPublisher
	queue   *recordingQueue
	exams   *ExamSessionService
	packets *PacketService
	reports *ReportService

	teacher model.User
	student model.User
	other   model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := memrepo.New()
	stores := Stores{
		Packets:    db.Packets(),
		Questions:  db.Questions(),
		Sessions:   db.Sessions(),
		Answers:    db.Answers(),
		Violations: db.Violations(),
		Reports:    db.Reports(),
		Users:      db.Users(),
	}
	cfg := &config.Config{
		FinishPolicy:          config.FinishPolicyRecompute,
		JoinTokenLength:       6,
		JoinTokenMaxAttempts:  10,
		ViolationWriteTimeout: time.Second,
	}

	f := &fixture{
		db:     db,
		stores: stores,
		cfg:    cfg,
		events: &recordingPublisher{},
		queue:  &recordingQueue{},
	}
	log := zerolog.Nop()
	f.exams = NewExamSessionService(stores, nil, f.events, f.queue, cfg, log)
	f.packets = NewPacketService(stores, NewTokenGenerator(6, 10, stores.Packets), nil, log)
	f.reports = NewReportService(stores)

	f.teacher = f.createUser(t, "guru1", "Bu Guru", model.RoleTeacher)
	f.student = f.createUser(t, "siswa1", "Andi", model.RoleStudent)
	f.other = f.createUser(t, "siswa2", "Budi", model.RoleStudent)
	return f
}

func (f *fixture) createUser(t *testing.T, username, name string, role model.Role) model.User {
	t.Helper()
	u := &model.User{Username: username, FullName: name, ClassName: "XII IPA 1", Role: role}
	if err := f.db.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return *u
}

func (f *fixture) teacherActor() Actor {
	return Actor{UserID: f.teacher.ID, Role: model.RoleTeacher}
}

// newPacket creates an active packet with one multiple-choice question per
// weight, each keyed "A".
func (f *fixture) newPacket(t *testing.T, weights ...int) (*model.Packet, []model.Question) {
	t.Helper()
	ctx := context.Background()

	p, err := f.packets.CreatePacket(ctx, f.teacherActor(), model.CreatePacketRequest{
		Title:           "Ujian Matematika",
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("create packet: %v", err)
	}

	questions := make([]model.Question, 0, len(weights))
	for _, w := range weights {
		q, err := f.packets.AddQuestion(ctx, f.teacherActor(), p.ID, model.CreateQuestionRequest{
			QuestionType: model.QuestionTypeMultipleChoice,
			Prompt:       "2 + 2 = ?",
			Options:      map[string]string{"A": "4", "B": "5"},
			AnswerKey:    "A",
			Points:       w,
		})
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		questions = append(questions, *q)
	}

	if _, err := f.packets.SetActive(ctx, f.teacherActor(), p.ID, true); err != nil {
		t.Fatalf("activate packet: %v", err)
	}
	p.IsActive = true
	return p, questions
}

func (f *fixture) start(t *testing.T, p *model.Packet, studentID int) *model.StartSessionResult {
	t.Helper()
	res, err := f.exams.StartSession(context.Background(), p.JoinToken, studentID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return res
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.MonitorEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.MonitorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []model.MonitorEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.MonitorEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingQueue struct {
	mu      sync.Mutex
	records []model.ViolationRecord
	err     error
}

func (q *recordingQueue) Enqueue(_ context.Context, v model.ViolationRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, v)
	return nil
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

type cacheSlot struct {
	packet uuid.UUID
	gen    int64
}

// memCache mirrors the generation scheme of the Redis cache.
type memCache struct {
	mu      sync.Mutex
	gen     map[uuid.UUID]int64
	entries map[cacheSlot][]model.QuestionForStudent
	gets    int
	// onSet runs once, before the next Set is applied and outside the lock.
	onSet func()
}

func newMemCache() *memCache {
	return &memCache{
		gen:     map[uuid.UUID]int64{},
		entries: map[cacheSlot][]model.QuestionForStudent{},
	}
}

func (c *memCache) Get(_ context.Context, packetID uuid.UUID) ([]model.QuestionForStudent, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	gen := c.gen[packetID]
	qs, ok := c.entries[cacheSlot{packetID, gen}]
	return qs, gen, ok, nil
}

func (c *memCache) Set(_ context.Context, packetID uuid.UUID, gen int64, qs []model.QuestionForStudent) error {
	if hook := c.onSet; hook != nil {
		c.onSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheSlot{packetID, gen}] = qs
	return nil
}

// cached reports whether an entry exists at the packet's current generation.
func (c *memCache) cached(packetID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cacheSlot{packetID, c.gen[packetID]}]
	return ok
}

func (c *memCache) Invalidate(_ context.Context, packetID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[packetID]++
	return nil
}

// failingCache fails every read.
type failingCache struct{ sets int }

func (c *failingCache) Get(context.Context, uuid.UUID) ([]model.QuestionForStudent, int64, bool, error) {
	return nil, 0, false, errors.New("redis down")
}

func (c *failingCache) Set(context.Context, uuid.UUID, int64, []model.QuestionForStudent) error {
	c.sets++
	return nil
}

func (c *failingCache) Invalidate(context.Context, uuid.UUID) error { return nil }
