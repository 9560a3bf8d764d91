package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// Repository errors. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateToken    = errors.New("join token already in use")
	ErrDuplicateUsername = errors.New("username already in use")
	ErrSessionClosed     = errors.New("session is finished")
	ErrSessionMismatch   = errors.New("session does not belong to student")
	ErrUnknownQuestion   = errors.New("question does not belong to session packet")
	ErrStartContention   = errors.New("could not settle running session")
)

// GradeFunc computes a final score for a locked session. It runs inside the
// finalizing transaction; returning an error aborts the finish and rolls back.
type GradeFunc func(session *model.ExamSession, answers []model.AnswerRecord, questions []model.Question) (float64, error)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDataError reports whether err is a PostgreSQL data exception (class 22),
// such as an invalid byte sequence. Retrying the same row cannot succeed.
func IsDataError(err error) bool { return strings.HasPrefix(pgCode(err), "22") }

func isUniqueViolation(err error) bool { return pgCode(err) == pgUniqueViolation }

func isForeignKeyViolation(err error) bool { return pgCode(err) == pgForeignKeyViolation }

// notFound maps pgx.ErrNoRows to ErrNotFound and passes everything else through.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
