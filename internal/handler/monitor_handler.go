package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// Subscriber opens a live event subscription for a packet.
type Subscriber interface {
	Subscribe(ctx context.Context, packetID uuid.UUID) *redis.PubSub
}

// MonitorHandler streams a packet's live session events to its teacher.
type MonitorHandler struct {
	reports *service.ReportService
	sub     Subscriber
	log     zerolog.Logger
}

func NewMonitorHandler(reports *service.ReportService, sub Subscriber, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		reports: reports,
		sub:     sub,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorPacketSSE godoc
// GET /api/v1/teacher/packets/:packet_id/monitor
// Sends a snapshot, then forwards session events as they happen with a
// periodic progress refresh.
func (h *MonitorHandler) MonitorPacketSSE(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packetID, ok := parseID(c, "packet_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	recap, err := h.reports.Recap(reqCtx, actor, packetID)
	if err != nil {
		failWith(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.sendSnapshot(c, recap)

	pubsub := h.sub.Subscribe(reqCtx, packetID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until the packet shows any activity.
	active := len(recap.Sessions) > 0

	log := h.log.With().Str("packet_id", packetID.String()).Int("teacher_id", actor.UserID).Logger()
	log.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			// Payload is already a JSON-encoded model.MonitorEvent.
			c.Render(-1, sseData{event: "event", data: msg.Payload})
			c.Writer.Flush()
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, actor, packetID)

		case <-keepAliveTicker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, recap *model.PacketRecap) {
	running, finished := 0, 0
	for _, row := range recap.Sessions {
		if row.Status == model.SessionStatusRunning {
			running++
		} else {
			finished++
		}
	}

	c.SSEvent("snapshot", gin.H{
		"packet": recap.Packet,
		"stats": gin.H{
			"total_sessions": len(recap.Sessions),
			"running":        running,
			"finished":       finished,
		},
		"sessions": recap.Sessions,
	})
	c.Writer.Flush()
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, actor service.Actor, packetID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.reports.Progress(ctx, actor, packetID)
	if err != nil {
		h.log.Warn().Err(err).Str("packet_id", packetID.String()).Msg("Failed to fetch progress for refresh")
		return
	}

	c.SSEvent("refresh", gin.H{"progress": progress})
	c.Writer.Flush()
}

// sseData writes a pre-encoded JSON payload as one SSE frame without
// decoding and re-encoding it.
type sseData struct {
	event string
	data  string
}

func (s sseData) Render(w http.ResponseWriter) error {
	_, err := w.Write([]byte("event:" + s.event + "\ndata:" + s.data + "\n\n"))
	return err
}

func (s sseData) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}
