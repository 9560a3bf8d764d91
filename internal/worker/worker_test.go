package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/repository/memrepo"
)

type fakeWriter struct {
	copyErr   error
	insertErr map[uuid.UUID]error
	inserted  []model.ViolationRecord
	copied    int
}

func (f *fakeWriter) CopyBatch(_ context.Context, batch []model.ViolationRecord) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.copied += len(batch)
	return int64(len(batch)), nil
}

func (f *fakeWriter) Insert(_ context.Context, v *model.ViolationRecord) (uuid.UUID, error) {
	if err := f.insertErr[v.SessionID]; err != nil {
		return uuid.Nil, err
	}
	f.inserted = append(f.inserted, *v)
	return uuid.New(), nil
}

func record(session uuid.UUID) model.ViolationRecord {
	return model.ViolationRecord{SessionID: session, StudentID: 1, Kind: "tab_switch", RecordedAt: time.Now()}
}

func TestViolationWorker_FlushBulk(t *testing.T) {
	w := &fakeWriter{}
	vw := NewViolationWorker(w, nil, zerolog.Nop())

	failed := vw.flush(context.Background(), []model.ViolationRecord{record(uuid.New()), record(uuid.New())})
	if len(failed) != 0 || w.copied != 2 {
		t.Fatalf("failed = %d copied = %d", len(failed), w.copied)
	}
}

func TestViolationWorker_FlushFallback(t *testing.T) {
	good, gone, down := uuid.New(), uuid.New(), uuid.New()
	w := &fakeWriter{
		copyErr: errors.New("copy failed"),
		insertErr: map[uuid.UUID]error{
			gone: repository.ErrSessionMismatch,
			down: errors.New("connection reset"),
		},
	}
	vw := NewViolationWorker(w, nil, zerolog.Nop())

	failed := vw.flush(context.Background(), []model.ViolationRecord{record(good), record(gone), record(down)})
	if len(w.inserted) != 1 || w.inserted[0].SessionID != good {
		t.Fatalf("inserted = %+v", w.inserted)
	}
	if len(failed) != 1 || failed[0].SessionID != down {
		t.Fatalf("requeue set = %+v, want only the transient failure", failed)
	}
}

func TestViolationWorker_DropsMalformedRows(t *testing.T) {
	good, bad := uuid.New(), uuid.New()
	w := &fakeWriter{
		copyErr: &pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\""},
		insertErr: map[uuid.UUID]error{
			bad: fmt.Errorf("insert violation: %w", &pgconn.PgError{Code: "22021"}),
		},
	}
	vw := NewViolationWorker(w, nil, zerolog.Nop())

	failed := vw.flush(context.Background(), []model.ViolationRecord{record(good), record(bad)})
	if len(failed) != 0 {
		t.Fatalf("requeue set = %+v, data errors must not be retried", failed)
	}
	if len(w.inserted) != 1 || w.inserted[0].SessionID != good {
		t.Fatalf("inserted = %+v", w.inserted)
	}
}

func TestViolationWorker_BulkSkipsForeignSessions(t *testing.T) {
	db := memrepo.New()
	ctx := context.Background()
	p := &model.Packet{Title: "Kimia", JoinToken: "KIM1", DurationMinutes: 60}
	if err := db.Packets().Create(ctx, p); err != nil {
		t.Fatalf("create packet: %v", err)
	}
	sess, _, err := db.Sessions().StartOrResume(ctx, p.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	own := record(sess.ID)
	foreign := record(sess.ID)
	foreign.StudentID = 2
	unknown := record(uuid.New())

	vw := NewViolationWorker(db.Violations(), nil, zerolog.Nop())
	if failed := vw.flush(ctx, []model.ViolationRecord{own, foreign, unknown}); len(failed) != 0 {
		t.Fatalf("requeue set = %+v", failed)
	}
	vs, _ := db.Violations().ListBySession(ctx, sess.ID)
	if len(vs) != 1 || vs[0].StudentID != 1 {
		t.Fatalf("stored = %+v, want only the owner's record", vs)
	}
}

func TestViolationWorker_Decode(t *testing.T) {
	vw := NewViolationWorker(&fakeWriter{}, nil, zerolog.Nop())

	if _, ok := vw.decode("{not json"); ok {
		t.Fatal("malformed payload accepted")
	}
	if _, ok := vw.decode(`{"session_id":"00000000-0000-0000-0000-000000000000","kind":"x"}`); ok {
		t.Fatal("nil session accepted")
	}

	id := uuid.New()
	rec, ok := vw.decode(`{"session_id":"` + id.String() + `","student_id":3,"kind":"blur"}`)
	if !ok {
		t.Fatal("valid payload rejected")
	}
	if rec.SessionID != id || rec.StudentID != 3 || rec.RecordedAt.IsZero() {
		t.Fatalf("decoded %+v", rec)
	}
}

type countingFinisher struct {
	calls int
	grace time.Duration
}

func (c *countingFinisher) FinishOverdue(_ context.Context, _ time.Time, grace time.Duration) (int, error) {
	c.calls++
	c.grace = grace
	return 2, nil
}

func TestOverdueSweeper(t *testing.T) {
	f := &countingFinisher{}
	s := NewOverdueSweeper(f, "not a schedule", 5*time.Minute, zerolog.Nop())
	if err := s.Start(); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	s.Stop()

	s.run()
	if f.calls != 1 || f.grace != 5*time.Minute {
		t.Fatalf("calls = %d grace = %v", f.calls, f.grace)
	}

	s = NewOverdueSweeper(f, "@every 1h", time.Minute, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
