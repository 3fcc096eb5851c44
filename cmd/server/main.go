// Package main is the entry point for the Voice Tutor Hub API server.
//
// The server owns the full call pipeline: it receives signed end-of-call
// webhooks, queues them, fetches authoritative call data, resolves the caller
// to a student, runs AI analysis and atomically applies the validated delta.
// It also exposes the operator review API and health probes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/application/pipeline"
	"github.com/voicetutor/voice-tutor-hub/internal/application/query"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/ai"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/external/voice"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/redis"
	httpiface "github.com/voicetutor/voice-tutor-hub/internal/interface/http"
	"github.com/voicetutor/voice-tutor-hub/internal/interface/http/handlers"
	"github.com/voicetutor/voice-tutor-hub/pkg/circuitbreaker"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─────────────────────────────────────────────────────────────────────────
	// Configuration & Logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})

	log.Info("starting voice tutor hub",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sessionRepo := postgres.NewSessionRepository(conn)
	studentRepo := postgres.NewStudentRepository(conn)
	profileRepo := postgres.NewProfileRepository(conn)
	curriculumRepo := postgres.NewCurriculumRepository(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (accelerator, never source of truth)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := openRedis(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if cache != nil {
		defer cache.Close()
	}

	usage := redisinfra.NewUsageTracker(cache, cfg.Analysis.DailyCostCeilingUSD)
	contexts := redisinfra.NewContextCache(cache, cfg.Pipeline.ContextCacheTTL)

	// ─────────────────────────────────────────────────────────────────────────
	// External Services
	// ─────────────────────────────────────────────────────────────────────────
	voiceClient := voice.NewClient(cfg.Voice, log)

	analyzer, err := ai.NewManager(cfg.Analysis, usage, log)
	if err != nil {
		return fmt.Errorf("init analysis providers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Pipeline
	// ─────────────────────────────────────────────────────────────────────────
	expiry := student.ExpiryPolicy{
		student.ScopePersonalFact: cfg.Pipeline.PersonalFactTTL,
		student.ScopeGameState:    cfg.Pipeline.GameStateTTL,
		student.ScopeStrategyLog:  cfg.Pipeline.StrategyLogTTL,
	}
	applier := postgres.NewDeltaApplier(conn, expiry, cfg.Pipeline.PlaceholderNamePrefix)

	processor := pipeline.NewProcessor(
		sessionRepo,
		studentRepo,
		profileRepo,
		voiceClient,
		analyzer,
		applier,
		contexts,
		pipeline.Config{
			DefaultCountryCode:    cfg.Pipeline.DefaultCountryCode,
			PlaceholderNamePrefix: cfg.Pipeline.PlaceholderNamePrefix,
			MaxTranscriptChars:    cfg.Analysis.MaxTranscriptChars,
		},
		log,
	)

	queue, err := messaging.NewQueue(messaging.QueueConfig{
		QueueSize: cfg.Pipeline.QueueSize,
		Workers:   cfg.Pipeline.Workers,
		Logger:    log,
	}, processor.ProcessCall)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	queue.Start(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP Surface
	// ─────────────────────────────────────────────────────────────────────────
	verifier := voice.NewSignatureVerifier(cfg.Voice.WebhookSecret, cfg.Voice.SignatureHeader)
	webhook := handlers.NewWebhookIngress(verifier, queue, cfg.Server.MaxBodyBytes, log)
	auth := handlers.NewOperatorAuth(cfg.Server.OperatorKeyHashes, log)

	health := handlers.NewHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(conn))
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}
	health.AddCheck("voice_api", func(ctx context.Context) error {
		if state := voiceClient.BreakerState(); state == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit breaker %s", state)
		}
		return nil
	})

	sessionQueries := query.NewSessionQueryService(sessionRepo, processor, log)
	studentQueries := query.NewStudentQueryService(studentRepo, profileRepo, curriculumRepo, log)

	server := httpiface.NewServer(cfg.Server, httpiface.Dependencies{
		Sessions: sessionQueries,
		Students: studentQueries,
		Webhook:  webhook,
		Health:   health,
		Auth:     auth,
		Logger:   log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// Shutdown
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	if err := queue.Close(); err != nil && !errors.Is(err, messaging.ErrQueueClosed) {
		log.Error("queue shutdown failed", logger.Err(err))
	}

	log.Info("shutdown complete")
	return nil
}

// openRedis connects the cache layer, or returns nil when Redis is disabled.
// Every consumer of the cache degrades gracefully on nil.
func openRedis(cfg config.RedisConfig, log *logger.Logger) (*redisinfra.Cache, error) {
	if cfg.Disabled {
		log.Warn("redis disabled, running without cost ceiling and context cache")
		return nil, nil
	}
	if cfg.URL != "" {
		return redisinfra.NewCacheFromURL(cfg.URL)
	}
	return redisinfra.NewCache(redisinfra.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}
