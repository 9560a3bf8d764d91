package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

const (
	// frameTimeout bounds the service call made for a single frame.
	frameTimeout = 10 * time.Second
	// maxFrameSize fits a full answer batch at the per-field limits.
	maxFrameSize = 8 << 20
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler carries a session's sync, violation and finish traffic over one
// WebSocket. Every frame goes through the same service calls as the REST
// endpoints, so both transports share the same guarantees.
type WSHandler struct {
	exams     *service.ExamSessionService
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	readLimit int64
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(exams *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		exams:     exams,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
		readLimit: maxFrameSize,
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseID(c, "session_id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	// Oversized frames are refused with close code 1009.
	conn.SetReadLimit(h.readLimit)

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.Request
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				wsLog.Warn().Int64("limit", h.readLimit).Msg("Frame too large, closing")
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(conn, wsLog, sessionID, studentID, &msg); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, closing")
			return
		}
	}
}

func (h *WSHandler) dispatch(conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, studentID int, msg *ws.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch msg.Action {
	case ws.ActionSync:
		if fields := validator.Validate(&model.SyncAnswersRequest{Answers: msg.Answers}); fields != nil {
			return writeFieldErrors(conn, msg.Ref, response.ErrMalformedAnswers, fields)
		}
		answers, err := toUpserts(msg.Answers)
		if err != nil {
			return h.writeServiceError(conn, log, msg.Ref, err)
		}
		ack, err := h.exams.SyncAnswers(ctx, sessionID, studentID, answers)
		if err != nil {
			return h.writeServiceError(conn, log, msg.Ref, err)
		}
		return ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventAck, Ref: msg.Ref, Saved: ack.Saved, SyncedAt: ack.SyncedAt})

	case ws.ActionViolation:
		if fields := validator.Validate(&model.LogViolationRequest{Kind: msg.Kind}); fields != nil {
			return writeFieldErrors(conn, msg.Ref, response.ErrValidation, fields)
		}
		if err := h.exams.LogViolation(ctx, sessionID, studentID, msg.Kind); err != nil {
			return h.writeServiceError(conn, log, msg.Ref, err)
		}
		return ws.WriteTyped(conn, ws.RecordedResponse{Event: ws.EventRecorded, Ref: msg.Ref})

	case ws.ActionFinish:
		res, err := h.exams.FinishSession(ctx, sessionID, studentID)
		var finished *service.FinishedError
		if errors.As(err, &finished) {
			return ws.WriteTyped(conn, ws.ErrorResponse{
				Event:  ws.EventError,
				Ref:    msg.Ref,
				Code:   string(response.ErrSessionFinished),
				Error:  response.GetMessage(response.ErrSessionFinished),
				Result: finished.Result,
			})
		}
		if err != nil {
			return h.writeServiceError(conn, log, msg.Ref, err)
		}
		return ws.WriteTyped(conn, ws.GradedResponse{Event: ws.EventGraded, Ref: msg.Ref, Result: res})

	case ws.ActionPing:
		return ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong, Ref: msg.Ref, ServerTime: time.Now().UTC()})

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		return ws.WriteError(conn, msg.Ref, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, log zerolog.Logger, ref string, err error) error {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Frame failed")
	}
	return ws.WriteError(conn, ref, string(code), response.GetMessage(code))
}

func writeFieldErrors(conn *websocket.Conn, ref string, code response.ErrCode, fields map[string]string) error {
	return ws.WriteTyped(conn, ws.ErrorResponse{
		Event:  ws.EventError,
		Ref:    ref,
		Code:   string(code),
		Error:  response.GetMessage(code),
		Fields: fields,
	})
}
