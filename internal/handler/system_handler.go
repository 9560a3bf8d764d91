package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	healthTimeout   = 2 * time.Second
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// QueueDepth reports the number of violations waiting for the background writer.
type QueueDepth func(ctx context.Context) (int64, error)

// SystemHandler serves health, server time and runtime metrics.
type SystemHandler struct {
	checks     map[string]HealthCheck
	queueDepth QueueDepth
	startTime  time.Time
	log        zerolog.Logger
}

func NewSystemHandler(checks map[string]HealthCheck, queueDepth QueueDepth, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		checks:     checks,
		queueDepth: queueDepth,
		startTime:  time.Now(),
		log:        log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Returns 503 when any dependency check fails.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	response.Success(c, status, gin.H{"status": overall, "dependencies": deps})
}

// ServerTime godoc
// GET /api/v1/time
// Lets clients correct their countdown for local clock skew.
func (h *SystemHandler) ServerTime(c *gin.Context) {
	now := time.Now().UTC()
	response.Success(c, http.StatusOK, gin.H{
		"server_time": now,
		"unix_ms":     now.UnixMilli(),
	})
}

type systemMetrics struct {
	Timestamp      int64   `json:"timestamp"`
	Uptime         string  `json:"uptime"`
	Goroutines     int     `json:"goroutines"`
	HeapAlloc      uint64  `json:"heap_alloc"`
	HeapSys        uint64  `json:"heap_sys"`
	NumGC          uint32  `json:"num_gc"`
	GoVersion      string  `json:"go_version"`
	NumCPU         int     `json:"num_cpu"`
	LoadAvg1       float64 `json:"load_avg_1"`
	ViolationQueue int64   `json:"violation_queue"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	c.SSEvent("metrics", h.collect(reqCtx))
	c.Writer.Flush()

	for {
		select {
		case <-reqCtx.Done():
			return
		case <-ticker.C:
			c.SSEvent("metrics", h.collect(reqCtx))
			c.Writer.Flush()
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := systemMetrics{
		Timestamp:  time.Now().Unix(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}
	m.LoadAvg1, _ = readLoadAvg1()

	if h.queueDepth != nil {
		if n, err := h.queueDepth(ctx); err == nil {
			m.ViolationQueue = n
		}
	}
	return m
}

// readLoadAvg1 returns the one-minute load average from /proc/loadavg.
func readLoadAvg1() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	return strconv.ParseFloat(fields[0], 64)
}
