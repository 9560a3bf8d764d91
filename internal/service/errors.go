package service

import (
	"errors"

	"github.com/stemsi/exstem-cbt/internal/model"
)

// Validation errors: the caller sent something unusable. Nothing was mutated.
var (
	ErrInvalidToken     = errors.New("join token is required")
	ErrMalformedAnswers = errors.New("malformed answer batch")
	ErrUnknownQuestion  = errors.New("answer references a question outside the packet")
	ErrInvalidQuestion  = errors.New("invalid question")
	ErrInvalidViolation = errors.New("violation kind is required")
)

// Not-found errors: the entity does not exist or is not available to the caller.
var (
	ErrPacketUnavailable = errors.New("packet not found or not active")
	ErrPacketNotFound    = errors.New("packet not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrSessionNotFound   = errors.New("session not found")
)

// Conflict errors.
var (
	ErrSessionFinished = errors.New("session already finished")
	ErrTokenExhausted  = errors.New("could not generate a unique join token")
)

// FinishedError reports a finish request for a session that is already
// finished under the reject policy. Result carries the stored grade.
// It matches ErrSessionFinished with errors.Is.
type FinishedError struct {
	Result *model.FinishResult
}

func (e *FinishedError) Error() string { return ErrSessionFinished.Error() }

func (e *FinishedError) Is(target error) bool { return target == ErrSessionFinished }

// Authorization errors.
var (
	ErrNotPacketOwner = errors.New("packet belongs to another teacher")
	ErrNotEnrolled    = errors.New("student has no session for this packet")
)
