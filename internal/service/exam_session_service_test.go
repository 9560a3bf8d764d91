package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository/memrepo"
)

func TestStartSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)

	first := f.start(t, p, f.student.ID)
	if first.Resumed {
		t.Fatal("first start reported resumed")
	}
	second := f.start(t, p, f.student.ID)
	if !second.Resumed {
		t.Fatal("second start did not report resumed")
	}
	if first.SessionID != second.SessionID {
		t.Fatalf("got two sessions %s and %s", first.SessionID, second.SessionID)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatal("resume changed started_at")
	}

	want := []model.MonitorEventType{model.MonitorSessionStarted, model.MonitorSessionResumed}
	got := f.events.types()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStartSession_ConcurrentYieldsOneSession(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)

	const callers = 20
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.exams.StartSession(context.Background(), p.JoinToken, f.student.ID)
			errs[i] = err
			if err == nil {
				ids[i] = res.SessionID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got session %s, want %s", i, ids[i], ids[0])
		}
	}
	if n := f.db.CountSessions(p.ID, f.student.ID, model.SessionStatusRunning); n != 1 {
		t.Fatalf("running sessions = %d, want 1", n)
	}
}

func TestStartSession_TokenHandling(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	ctx := context.Background()

	if _, err := f.exams.StartSession(ctx, "   ", f.student.ID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blank token: got %v", err)
	}
	if _, err := f.exams.StartSession(ctx, "NOPE99", f.student.ID); !errors.Is(err, ErrPacketUnavailable) {
		t.Fatalf("unknown token: got %v", err)
	}
	if _, err := f.exams.StartSession(ctx, " "+strings.ToLower(p.JoinToken)+" ", f.student.ID); err != nil {
		t.Fatalf("lowercase token: %v", err)
	}

	if _, err := f.packets.SetActive(ctx, f.teacherActor(), p.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.exams.StartSession(ctx, p.JoinToken, f.other.ID); !errors.Is(err, ErrPacketUnavailable) {
		t.Fatalf("inactive packet: got %v", err)
	}
}

func TestStartSession_RetakeAfterFinish(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	ctx := context.Background()

	first := f.start(t, p, f.student.ID)
	if _, err := f.exams.FinishSession(ctx, first.SessionID, f.student.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	second := f.start(t, p, f.student.ID)
	if second.SessionID == first.SessionID || second.Resumed {
		t.Fatal("start after finish should open a new session")
	}
	if n := f.db.CountSessions(p.ID, f.student.ID, model.SessionStatusFinished); n != 1 {
		t.Fatalf("finished sessions = %d, want 1", n)
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f.db.SetClock(func() time.Time { return base })

	view, err := f.exams.GetStatus(ctx, f.student.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != model.StatusIdle || view.Session != nil {
		t.Fatalf("want idle, got %+v", view)
	}

	res := f.start(t, p, f.student.ID)

	f.exams.SetClock(func() time.Time { return base.Add(15 * time.Minute) })
	view, err = f.exams.GetStatus(ctx, f.student.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != model.StatusHasSession {
		t.Fatalf("status = %q", view.Status)
	}
	if view.Session.SessionID != res.SessionID {
		t.Fatal("status returned another session")
	}
	if view.Session.RemainingSeconds != 45*60 {
		t.Fatalf("remaining = %d, want %d", view.Session.RemainingSeconds, 45*60)
	}

	f.exams.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	view, _ = f.exams.GetStatus(ctx, f.student.ID)
	if view.Session.RemainingSeconds != 0 {
		t.Fatalf("remaining past deadline = %d, want 0", view.Session.RemainingSeconds)
	}
}

func TestGetQuestions_RedactsAnswerKey(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1, 2, 3)
	f.start(t, p, f.student.ID)

	qs, err := f.exams.GetQuestionsForStudent(context.Background(), p.ID, f.student.ID)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("got %d questions, want 3", len(qs))
	}

	raw, err := json.Marshal(qs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "answer_key") {
		t.Fatalf("payload leaks answer key: %s", raw)
	}
}

func TestGetQuestionsForStudent_RequiresSession(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)

	_, err := f.exams.GetQuestionsForStudent(context.Background(), p.ID, f.other.ID)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("got %v, want ErrNotEnrolled", err)
	}
	if _, err := f.exams.GetQuestions(context.Background(), uuid.New()); !errors.Is(err, ErrPacketNotFound) {
		t.Fatalf("unknown packet: got %v", err)
	}
}

func TestGetQuestions_UsesCache(t *testing.T) {
	f := newFixture(t)
	cache := newMemCache()
	f.exams.cache = cache
	f.packets.cache = cache
	p, _ := f.newPacket(t, 1)
	ctx := context.Background()

	if _, err := f.exams.GetQuestions(ctx, p.ID); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if !cache.cached(p.ID) {
		t.Fatal("question list was not cached")
	}

	if _, err := f.packets.AddQuestion(ctx, f.teacherActor(), p.ID, model.CreateQuestionRequest{
		QuestionType: model.QuestionTypeFreeResponse,
		Prompt:       "Ibu kota Indonesia?",
		AnswerKey:    "Jakarta",
	}); err != nil {
		t.Fatalf("add question: %v", err)
	}
	if cache.cached(p.ID) {
		t.Fatal("adding a question did not invalidate the cache")
	}

	qs, err := f.exams.GetQuestions(ctx, p.ID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d questions after invalidation, want 2", len(qs))
	}
}

func TestGetQuestions_InvalidationDuringFill(t *testing.T) {
	f := newFixture(t)
	cache := newMemCache()
	f.exams.cache = cache
	f.packets.cache = cache
	p, _ := f.newPacket(t, 1)
	ctx := context.Background()

	// The reader has loaded one question and is about to fill the cache when
	// the teacher adds a second one.
	cache.onSet = func() {
		if _, err := f.packets.AddQuestion(ctx, f.teacherActor(), p.ID, model.CreateQuestionRequest{
			QuestionType: model.QuestionTypeFreeResponse,
			Prompt:       "Lambang unsur besi?",
			AnswerKey:    "Fe",
		}); err != nil {
			t.Errorf("add question: %v", err)
		}
	}
	stale, err := f.exams.GetQuestions(ctx, p.ID)
	if err != nil {
		t.Fatalf("racing read: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("racing read saw %d questions, want 1", len(stale))
	}

	qs, err := f.exams.GetQuestions(ctx, p.ID)
	if err != nil {
		t.Fatalf("next read: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("next read served %d questions from a stale fill, want 2", len(qs))
	}
}

func TestGetQuestions_NoFillAfterCacheError(t *testing.T) {
	f := newFixture(t)
	cache := &failingCache{}
	f.exams.cache = cache
	p, _ := f.newPacket(t, 1)

	if _, err := f.exams.GetQuestions(context.Background(), p.ID); err != nil {
		t.Fatalf("read with cache down: %v", err)
	}
	if cache.sets != 0 {
		t.Fatalf("cache filled %d times after a failed read", cache.sets)
	}
}

func TestSyncAnswers_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	for _, opt := range []string{"B", "A"} {
		ack, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.student.ID, []model.AnswerUpsert{
			{QuestionID: qs[0].ID, SelectedOption: opt},
		})
		if err != nil {
			t.Fatalf("sync %s: %v", opt, err)
		}
		if ack.Saved != 1 {
			t.Fatalf("saved = %d, want 1", ack.Saved)
		}
	}

	answers, _ := f.db.Answers().ListBySession(ctx, sess.SessionID)
	if len(answers) != 1 {
		t.Fatalf("records = %d, want 1", len(answers))
	}
	if answers[0].SelectedOption != "A" {
		t.Fatalf("selected = %q, want A", answers[0].SelectedOption)
	}
}

func TestSyncAnswers_ForeignQuestionRollsBackBatch(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1, 1)
	_, otherQs := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)

	_, err := f.exams.SyncAnswers(context.Background(), sess.SessionID, f.student.ID, []model.AnswerUpsert{
		{QuestionID: qs[0].ID, SelectedOption: "A"},
		{QuestionID: otherQs[0].ID, SelectedOption: "A"},
		{QuestionID: qs[1].ID, SelectedOption: "B"},
	})
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("got %v, want ErrUnknownQuestion", err)
	}
	if n := f.db.CountAnswers(sess.SessionID); n != 0 {
		t.Fatalf("partial write: %d records stored", n)
	}
}

func TestSyncAnswers_Rejections(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()
	batch := []model.AnswerUpsert{{QuestionID: qs[0].ID, SelectedOption: "A"}}

	if _, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.student.ID, nil); !errors.Is(err, ErrMalformedAnswers) {
		t.Fatalf("empty batch: got %v", err)
	}
	if _, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.student.ID, []model.AnswerUpsert{{SelectedOption: "A"}}); !errors.Is(err, ErrMalformedAnswers) {
		t.Fatalf("missing question id: got %v", err)
	}
	if _, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.other.ID, batch); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign session: got %v", err)
	}
	if _, err := f.exams.SyncAnswers(ctx, uuid.New(), f.student.ID, batch); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session: got %v", err)
	}

	if _, err := f.exams.FinishSession(ctx, sess.SessionID, f.student.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.student.ID, batch); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("sync after finish: got %v", err)
	}
}

func TestSyncAnswers_StoreFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	f.db.FailUpsert = memrepo.ErrInjected

	_, err := f.exams.SyncAnswers(context.Background(), sess.SessionID, f.student.ID, []model.AnswerUpsert{
		{QuestionID: qs[0].ID, SelectedOption: "A"},
	})
	if !errors.Is(err, memrepo.ErrInjected) {
		t.Fatalf("got %v, want injected failure", err)
	}
}

func TestFinishSession_Scores(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1, 4)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	if _, err := f.exams.SyncAnswers(ctx, sess.SessionID, f.student.ID, []model.AnswerUpsert{
		{QuestionID: qs[0].ID, SelectedOption: "A"},
		{QuestionID: qs[1].ID, SelectedOption: "B"},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	res, err := f.exams.FinishSession(ctx, sess.SessionID, f.student.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.FinalScore != 20 || res.Achieved != 1 || res.Maximum != 5 {
		t.Fatalf("got %+v, want score 20 (1/5)", res)
	}

	stored, _ := f.db.Sessions().GetByID(ctx, sess.SessionID)
	if stored.Status != model.SessionStatusFinished || stored.FinalScore == nil || *stored.FinalScore != 20 {
		t.Fatalf("stored session = %+v", stored)
	}
}

func TestFinishSession_EmptyPacketScoresZero(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t)
	sess := f.start(t, p, f.student.ID)

	res, err := f.exams.FinishSession(context.Background(), sess.SessionID, f.student.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if res.FinalScore != 0 || res.Maximum != 0 {
		t.Fatalf("got %+v, want zero score", res)
	}
}

func TestFinishSession_RecomputeKeepsFinishedAt(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	t1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.db.SetClock(func() time.Time { return t1 })
	first, err := f.exams.FinishSession(ctx, sess.SessionID, f.student.ID)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}

	f.db.SetClock(func() time.Time { return t1.Add(time.Hour) })
	second, err := f.exams.FinishSession(ctx, sess.SessionID, f.student.ID)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if !second.FinishedAt.Equal(first.FinishedAt) {
		t.Fatalf("finished_at moved from %v to %v", first.FinishedAt, second.FinishedAt)
	}
	if second.FinalScore != first.FinalScore {
		t.Fatalf("recomputed score changed: %v -> %v", first.FinalScore, second.FinalScore)
	}
}

func TestFinishSession_RejectPolicy(t *testing.T) {
	f := newFixture(t)
	f.exams.policy = config.FinishPolicyReject
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	first, err := f.exams.FinishSession(ctx, sess.SessionID, f.student.ID)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	_, err = f.exams.FinishSession(ctx, sess.SessionID, f.student.ID)
	if !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("second finish: got %v, want ErrSessionFinished", err)
	}
	var finished *FinishedError
	if !errors.As(err, &finished) || finished.Result == nil {
		t.Fatalf("second finish: %v carries no stored result", err)
	}
	got := finished.Result
	if got.SessionID != first.SessionID || got.FinalScore != first.FinalScore ||
		got.Achieved != first.Achieved || got.Maximum != first.Maximum ||
		!got.FinishedAt.Equal(first.FinishedAt) {
		t.Fatalf("stored result = %+v, want %+v", finished.Result, first)
	}
}

func TestFinishSession_ForeignOrUnknown(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	if _, err := f.exams.FinishSession(ctx, sess.SessionID, f.other.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign finish: got %v", err)
	}
	if _, err := f.exams.FinishSession(ctx, uuid.New(), f.student.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown finish: got %v", err)
	}
	if n := f.db.CountSessions(p.ID, f.student.ID, model.SessionStatusRunning); n != 1 {
		t.Fatal("foreign finish closed the session")
	}
}

func TestLogViolation_Stored(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "tab_switch"); err != nil {
			t.Fatalf("log violation: %v", err)
		}
	}
	if n := f.db.ViolationCount(sess.SessionID); n != 3 {
		t.Fatalf("violations = %d, want 3", n)
	}
	if f.queue.len() != 0 {
		t.Fatal("successful write should not be queued")
	}
}

func TestLogViolation_NeverFailsCaller(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()
	f.db.FailViolationInsert = memrepo.ErrInjected

	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "fullscreen_exit"); err != nil {
		t.Fatalf("store failure reached caller: %v", err)
	}
	if f.queue.len() != 1 {
		t.Fatalf("queued = %d, want 1", f.queue.len())
	}

	f.queue.err = errors.New("redis down")
	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "fullscreen_exit"); err != nil {
		t.Fatalf("queue failure reached caller: %v", err)
	}

	f.exams.queue = nil
	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "fullscreen_exit"); err != nil {
		t.Fatalf("missing queue reached caller: %v", err)
	}
}

func TestLogViolation_Validation(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "  "); !errors.Is(err, ErrInvalidViolation) {
		t.Fatalf("blank kind: got %v", err)
	}

	if err := f.exams.LogViolation(ctx, sess.SessionID, f.other.ID, "tab_switch"); err != nil {
		t.Fatalf("foreign session: %v", err)
	}
	if f.db.ViolationCount(sess.SessionID) != 0 || f.queue.len() != 0 {
		t.Fatal("foreign violation was stored or queued")
	}

	long := strings.Repeat("x", 250)
	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, long); err != nil {
		t.Fatalf("long kind: %v", err)
	}
	vs, _ := f.db.Violations().ListBySession(ctx, sess.SessionID)
	if len(vs) != 1 || len(vs[0].Kind) != maxViolationKindLen {
		t.Fatalf("kind not truncated: %+v", vs)
	}
}

func TestLogViolation_SanitizesKind(t *testing.T) {
	f := newFixture(t)
	p, _ := f.newPacket(t, 1)
	sess := f.start(t, p, f.student.ID)
	ctx := context.Background()

	inputs := []string{
		strings.Repeat("切", 34),
		strings.Repeat("切", 150),
		"tab\x00_switch",
		"blur\xff\xfe",
	}
	for _, in := range inputs {
		if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, in); err != nil {
			t.Fatalf("log %q: %v", in, err)
		}
	}
	if err := f.exams.LogViolation(ctx, sess.SessionID, f.student.ID, "\x00\xff"); !errors.Is(err, ErrInvalidViolation) {
		t.Fatalf("kind with no valid text: got %v", err)
	}

	vs, _ := f.db.Violations().ListBySession(ctx, sess.SessionID)
	if len(vs) != len(inputs) {
		t.Fatalf("stored %d violations, want %d", len(vs), len(inputs))
	}
	got := map[string]bool{}
	for _, v := range vs {
		if !utf8.ValidString(v.Kind) || strings.ContainsRune(v.Kind, 0) {
			t.Fatalf("stored kind %q is not clean UTF-8", v.Kind)
		}
		if n := utf8.RuneCountInString(v.Kind); n > maxViolationKindLen {
			t.Fatalf("stored kind has %d characters", n)
		}
		got[v.Kind] = true
	}
	for _, want := range []string{strings.Repeat("切", 34), strings.Repeat("切", maxViolationKindLen), "tab_switch", "blur"} {
		if !got[want] {
			t.Errorf("missing stored kind %q", want)
		}
	}
}

func TestFinishOverdue(t *testing.T) {
	f := newFixture(t)
	p, qs := f.newPacket(t, 1)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f.db.SetClock(func() time.Time { return base })
	late := f.start(t, p, f.student.ID)
	done := f.start(t, p, f.other.ID)

	if _, err := f.exams.SyncAnswers(ctx, late.SessionID, f.student.ID, []model.AnswerUpsert{
		{QuestionID: qs[0].ID, SelectedOption: "A"},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := f.exams.FinishSession(ctx, done.SessionID, f.other.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	closed, err := f.exams.FinishOverdue(ctx, base.Add(30*time.Minute), 5*time.Minute)
	if err != nil || closed != 0 {
		t.Fatalf("early sweep closed %d (err %v)", closed, err)
	}

	closed, err = f.exams.FinishOverdue(ctx, base.Add(66*time.Minute), 5*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	stored, _ := f.db.Sessions().GetByID(ctx, late.SessionID)
	if !stored.IsFinished() || stored.FinalScore == nil || *stored.FinalScore != 100 {
		t.Fatalf("swept session = %+v", stored)
	}
}
