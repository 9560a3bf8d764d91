package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// errorMapping pairs a service error with its HTTP status and API code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

var serviceErrors = []errorMapping{
	{service.ErrInvalidToken, http.StatusBadRequest, response.ErrInvalidJoinToken},
	{service.ErrMalformedAnswers, http.StatusBadRequest, response.ErrMalformedAnswers},
	{service.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{service.ErrInvalidQuestion, http.StatusBadRequest, response.ErrInvalidQuestion},
	{service.ErrInvalidViolation, http.StatusBadRequest, response.ErrValidation},

	{service.ErrPacketUnavailable, http.StatusNotFound, response.ErrPacketUnavailable},
	{service.ErrPacketNotFound, http.StatusNotFound, response.ErrPacketNotFound},
	{service.ErrQuestionNotFound, http.StatusNotFound, response.ErrQuestionNotFound},
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound},

	{service.ErrSessionFinished, http.StatusConflict, response.ErrSessionFinished},
	{service.ErrTokenExhausted, http.StatusServiceUnavailable, response.ErrTokenExhausted},

	{service.ErrNotPacketOwner, http.StatusForbidden, response.ErrNotPacketOwner},
	{service.ErrNotEnrolled, http.StatusForbidden, response.ErrNotEnrolled},
}

// classify maps err to a status and code. Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the mapped error response. Internal errors are logged with
// the request-scoped logger; their text never reaches the client.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// parseID parses a UUID path parameter, writing a 400 when it is malformed.
func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// toUpserts converts request answers to store entries.
func toUpserts(in []model.AnswerInput) ([]model.AnswerUpsert, error) {
	out := make([]model.AnswerUpsert, 0, len(in))
	for i, a := range in {
		qid, err := uuid.Parse(a.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("%w: answer %d: invalid question_id", service.ErrMalformedAnswers, i)
		}
		out = append(out, model.AnswerUpsert{
			QuestionID:     qid,
			SelectedOption: a.SelectedOption,
			ClientTime:     a.ClientTime,
		})
	}
	return out, nil
}
