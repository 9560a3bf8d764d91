package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// ReportHandler serves packet recaps and per-session breakdowns.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Recap godoc
// GET /api/v1/teacher/packets/:packet_id/recap
func (h *ReportHandler) Recap(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	recap, err := h.reports.Recap(c.Request.Context(), actor, packetID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, recap)
}

// SessionDetail godoc
// GET /api/v1/teacher/sessions/:session_id
func (h *ReportHandler) SessionDetail(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	detail, err := h.reports.SessionDetail(c.Request.Context(), actor, sessionID)
	if err != nil {
		failWith(c, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}
