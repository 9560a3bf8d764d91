package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/cache"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/monitor"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stemsi/exstem-cbt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("finish_policy", string(cfg.FinishPolicy)).
		Msg("Starting ExStem CBT")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Apply Migrations ──────────────────────────────────────────────
	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	violationRepo := repository.NewViolationRepository(pool)
	stores := service.Stores{
		Packets:    repository.NewPacketRepository(pool),
		Questions:  repository.NewQuestionRepository(pool),
		Sessions:   repository.NewExamSessionRepository(pool),
		Answers:    repository.NewAnswerRepository(pool),
		Violations: violationRepo,
		Reports:    repository.NewReportRepository(pool),
		Users:      repository.NewUserRepository(pool),
	}

	// ─── Initialize Services ──────────────────────────────────────────
	questionCache := cache.NewQuestionCache(rdb, cfg.QuestionCacheTTL)
	publisher := monitor.NewPublisher(rdb)
	violationQueue := worker.NewViolationQueue(rdb)
	tokens := service.NewTokenGenerator(cfg.JoinTokenLength, cfg.JoinTokenMaxAttempts, stores.Packets)

	authService := service.NewAuthService(cfg)
	examService := service.NewExamSessionService(stores, questionCache, publisher, violationQueue, cfg, log)
	packetService := service.NewPacketService(stores, tokens, questionCache, log)
	reportService := service.NewReportService(stores)

	// ─── Initialize Handlers ──────────────────────────────────────────
	healthChecks := map[string]handler.HealthCheck{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	handlers := &router.Handlers{
		StudentExam: handler.NewStudentExamHandler(examService),
		Packet:      handler.NewPacketHandler(packetService),
		Report:      handler.NewReportHandler(reportService),
		Monitor:     handler.NewMonitorHandler(reportService, publisher, log),
		WS:          handler.NewWSHandler(examService, log, cfg.AllowedOrigins),
		System:      handler.NewSystemHandler(healthChecks, violationQueue.Len, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	violationWorker := worker.NewViolationWorker(violationRepo, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		violationWorker.Start(workerCtx)
	}()

	var sweeper *worker.OverdueSweeper
	if cfg.AutoFinishCron != "" {
		sweeper = worker.NewOverdueSweeper(examService, cfg.AutoFinishCron, cfg.AutoFinishGrace, log)
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start overdue sweeper")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the sweeper, then let the violation worker flush its buffer.
	if sweeper != nil {
		sweeper.Stop()
	}
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
