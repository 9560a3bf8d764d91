package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentExam *handler.StudentExamHandler
	Packet      *handler.PacketHandler
	Report      *handler.ReportHandler
	Monitor     *handler.MonitorHandler
	WS          *handler.WSHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))

	// Monitor streams are long-lived and must not sit in the compressor buffer.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper: func(c *gin.Context) bool {
			return strings.HasSuffix(c.Request.URL.Path, "/monitor") ||
				strings.HasSuffix(c.Request.URL.Path, "/system/metrics")
		},
	}))

	router.GET("/health", handlers.System.Health)
	router.GET("/api/v1/time", handlers.System.ServerTime)

	// Join attempts are throttled per student to slow token guessing.
	startLimiter := middleware.NewRateLimiter(20, time.Minute)
	go func() {
		for range time.Tick(time.Minute) {
			startLimiter.Cleanup(3 * time.Minute)
		}
	}()

	// ─── 1. Student Group ──────────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleStudent),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/exam/status", handlers.StudentExam.GetStatus)
		studentAPI.POST("/exam/start", startLimiter.Middleware(), handlers.StudentExam.StartSession)
		studentAPI.GET("/packets/:packet_id/questions", handlers.StudentExam.GetQuestions)
		studentAPI.POST("/sessions/:session_id/sync", handlers.StudentExam.SyncAnswers)
		studentAPI.POST("/sessions/:session_id/violations", handlers.StudentExam.LogViolation)
		studentAPI.POST("/sessions/:session_id/finish", handlers.StudentExam.FinishSession)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Teacher Group ──────────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleTeacher, model.RoleAdmin),
		middleware.NoStore(),
	)
	{
		teacherAPI.GET("/packets", handlers.Packet.ListPackets)
		teacherAPI.POST("/packets", handlers.Packet.CreatePacket)
		teacherAPI.GET("/packets/:packet_id", handlers.Packet.GetPacket)
		teacherAPI.PATCH("/packets/:packet_id/active", handlers.Packet.SetActive)
		teacherAPI.DELETE("/packets/:packet_id", handlers.Packet.DeletePacket)

		teacherAPI.POST("/packets/:packet_id/questions", handlers.Packet.AddQuestion)
		teacherAPI.DELETE("/packets/:packet_id/questions/:question_id", handlers.Packet.DeleteQuestion)

		teacherAPI.GET("/packets/:packet_id/recap", handlers.Report.Recap)
		teacherAPI.GET("/packets/:packet_id/monitor", handlers.Monitor.MonitorPacketSSE)
		teacherAPI.GET("/sessions/:session_id", handlers.Report.SessionDetail)
	}

	// ─── 4. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleAdmin),
	)
	{
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
