package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
)

// StudentExamHandler handles the student side of a session: start or resume,
// question download, answer sync, violations and finish.
type StudentExamHandler struct {
	exams *service.ExamSessionService
}

// NewStudentExamHandler creates a new StudentExamHandler.
func NewStudentExamHandler(exams *service.ExamSessionService) *StudentExamHandler {
	return &StudentExamHandler{exams: exams}
}

// GetStatus godoc
// GET /api/v1/student/exam/status
// Reports whether the student has a running session to resume after a reload.
func (h *StudentExamHandler) GetStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.exams.GetStatus(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// StartSession godoc
// POST /api/v1/student/exam/start
// Resolves a join token and returns the running session, creating it if needed.
func (h *StudentExamHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.exams.StartSession(c.Request.Context(), req.JoinToken, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// GetQuestions godoc
// GET /api/v1/student/packets/:packet_id/questions
// Returns the packet's questions without answer keys.
func (h *StudentExamHandler) GetQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	questions, err := h.exams.GetQuestionsForStudent(c.Request.Context(), packetID, claims.UserID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// SyncAnswers godoc
// POST /api/v1/student/sessions/:session_id/sync
// Upserts a batch of answers. The batch is applied whole or not at all.
func (h *StudentExamHandler) SyncAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	var req model.SyncAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrMalformedAnswers, fields)
		return
	}

	answers, err := toUpserts(req.Answers)
	if err != nil {
		failWith(c, err)
		return
	}

	ack, err := h.exams.SyncAnswers(c.Request.Context(), sessionID, claims.UserID, answers)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// LogViolation godoc
// POST /api/v1/student/sessions/:session_id/violations
// Records a proctoring event. Always accepted once the payload is valid.
func (h *StudentExamHandler) LogViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.exams.LogViolation(c.Request.Context(), sessionID, claims.UserID, req.Kind); err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "recorded"})
}

// FinishSession godoc
// POST /api/v1/student/sessions/:session_id/finish
// Grades and closes the session. Under the reject policy a repeat call is a
// 409 whose data holds the stored result.
func (h *StudentExamHandler) FinishSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	res, err := h.exams.FinishSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		var finished *service.FinishedError
		if errors.As(err, &finished) {
			response.FailWithData(c, http.StatusConflict, response.ErrSessionFinished, finished.Result)
			return
		}
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
