// Package main is the entry point for the background worker.
//
// The worker runs the periodic recovery jobs: resuming sessions deferred at
// fetched (cost ceiling, crash), re-applying sessions that reached analyzed
// but never applied, and purging memories past their retention window.
// Resuming a deferred session runs analysis, so the worker carries the same
// provider chain and cost ceiling as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicetutor/voice-tutor-hub/config"
	"github.com/voicetutor/voice-tutor-hub/internal/application/pipeline"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/ai"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/external/voice"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/redis"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/scheduler"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/scheduler/jobs"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker has nothing to do")
		return nil
	}

	log.Info("starting voice tutor hub worker",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()

	sessionRepo := postgres.NewSessionRepository(conn)
	studentRepo := postgres.NewStudentRepository(conn)
	profileRepo := postgres.NewProfileRepository(conn)

	var cache *redisinfra.Cache
	if !cfg.Redis.Disabled {
		if cfg.Redis.URL != "" {
			cache, err = redisinfra.NewCacheFromURL(cfg.Redis.URL)
		} else {
			cache, err = redisinfra.NewCache(redisinfra.Config{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		if err != nil {
			// Stale cached context expires on its own TTL; losing the cost
			// ceiling here matches the server's disabled-Redis behavior.
			log.Warn("redis unavailable, continuing without cache invalidation and cost ceiling", logger.Err(err))
			cache = nil
		}
	}
	if cache != nil {
		defer cache.Close()
	}
	contexts := redisinfra.NewContextCache(cache, cfg.Pipeline.ContextCacheTTL)
	usage := redisinfra.NewUsageTracker(cache, cfg.Analysis.DailyCostCeilingUSD)

	// ─────────────────────────────────────────────────────────────────────────
	// Recovery Pipeline
	// ─────────────────────────────────────────────────────────────────────────
	expiry := student.ExpiryPolicy{
		student.ScopePersonalFact: cfg.Pipeline.PersonalFactTTL,
		student.ScopeGameState:    cfg.Pipeline.GameStateTTL,
		student.ScopeStrategyLog:  cfg.Pipeline.StrategyLogTTL,
	}
	applier := postgres.NewDeltaApplier(conn, expiry, cfg.Pipeline.PlaceholderNamePrefix)

	voiceClient := voice.NewClient(cfg.Voice, log)

	analyzer, err := ai.NewManager(cfg.Analysis, usage, log)
	if err != nil {
		return fmt.Errorf("init analysis providers: %w", err)
	}

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

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(log, cfg.Scheduler.JobTimeout)

	retryJob := jobs.NewRetryStuckSessionsJob(sessionRepo, processor, cfg.Scheduler.StuckThreshold, log)
	if err := sched.Register(retryJob, cfg.Scheduler.RetryStuckInterval); err != nil {
		return fmt.Errorf("register %s: %w", retryJob.Name(), err)
	}

	purgeJob := jobs.NewPurgeExpiredMemoriesJob(profileRepo, log)
	if err := sched.Register(purgeJob, cfg.Scheduler.PurgeMemoriesInterval); err != nil {
		return fmt.Errorf("register %s: %w", purgeJob.Name(), err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	sched.Stop()
	log.Info("shutdown complete")
	return nil
}
