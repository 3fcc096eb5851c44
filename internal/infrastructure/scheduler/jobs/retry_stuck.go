// Package jobs contains the scheduled jobs for Voice Tutor Hub: resuming
// deferred sessions, re-applying stuck ones, and purging expired memories.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRY STUCK SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline is the processor surface the job drives: resuming sessions stuck
// before analysis and re-applying persisted deltas.
type Pipeline interface {
	ProcessCall(ctx context.Context, job messaging.CallJob) error
	Reapply(ctx context.Context, sess *session.Session) (*postgres.ApplyReport, error)
}

// RetryStuckSessionsJob finishes sessions the pipeline left behind. Two kinds
// exist: sessions stuck at fetched (cost-ceiling deferral, or a crash before
// analysis) are resumed through the full pipeline from their persisted call
// data, and sessions stuck at analyzed (a crash or database outage between
// the delta write and the apply) are re-applied from the persisted delta
// without re-invoking the AI provider.
type RetryStuckSessionsJob struct {
	sessions  session.Repository
	pipeline  Pipeline
	threshold time.Duration
	batchSize int
	logger    *logger.Logger
}

// NewRetryStuckSessionsJob creates the job. threshold is how long a session
// may sit in fetched or analyzed before it counts as stuck.
func NewRetryStuckSessionsJob(sessions session.Repository, pipeline Pipeline, threshold time.Duration, log *logger.Logger) *RetryStuckSessionsJob {
	if log == nil {
		log = logger.Default()
	}
	return &RetryStuckSessionsJob{
		sessions:  sessions,
		pipeline:  pipeline,
		threshold: threshold,
		batchSize: 50,
		logger:    log.With(logger.Component("retry-stuck-job")),
	}
}

// Name returns the job name.
func (j *RetryStuckSessionsJob) Name() string { return "retry_stuck_sessions" }

// Description returns a human-readable description.
func (j *RetryStuckSessionsJob) Description() string {
	return "Re-applies analyzed sessions that never reached applied"
}

// Run resumes one batch of deferred sessions, then re-applies one batch of
// stuck ones.
func (j *RetryStuckSessionsJob) Run(ctx context.Context) error {
	before := time.Now().UTC().Add(-j.threshold)

	if err := j.resumeDeferred(ctx, before); err != nil {
		return err
	}
	return j.reapplyStuck(ctx, before)
}

// resumeDeferred pushes fetched sessions back through the pipeline. A cost
// ceiling hit stops the batch: every remaining session would hit it too.
func (j *RetryStuckSessionsJob) resumeDeferred(ctx context.Context, before time.Time) error {
	deferred, err := j.sessions.ListStuckFetched(ctx, before, j.batchSize)
	if err != nil {
		return err
	}
	if len(deferred) == 0 {
		return nil
	}

	j.logger.Info("found deferred sessions", logger.Int("count", len(deferred)))

	for _, sess := range deferred {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := j.pipeline.ProcessCall(ctx, messaging.CallJob{CallID: sess.CallID})
		if errors.Is(err, shared.ErrCostCeilingReached) {
			j.logger.Warn("cost ceiling still reached, deferring remaining sessions")
			return nil
		}
		if err != nil {
			j.logger.Error("failed to resume deferred session",
				logger.SessionID(sess.ID),
				logger.CallID(sess.CallID),
				logger.Err(err),
			)
			continue
		}

		j.logger.Info("resumed deferred session",
			logger.SessionID(sess.ID),
			logger.CallID(sess.CallID),
		)
	}
	return nil
}

func (j *RetryStuckSessionsJob) reapplyStuck(ctx context.Context, before time.Time) error {
	stuck, err := j.sessions.ListStuckAnalyzed(ctx, before, j.batchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	j.logger.Info("found stuck sessions", logger.Int("count", len(stuck)))

	var failed int
	for _, sess := range stuck {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := j.pipeline.Reapply(ctx, sess); err != nil {
			// A concurrent apply winning the status guard is success, not
			// a failure to report.
			if errors.Is(err, shared.ErrSessionAlreadyProcessed) {
				continue
			}

			failed++
			j.logger.Error("failed to re-apply stuck session",
				logger.SessionID(sess.ID),
				logger.CallID(sess.CallID),
				logger.Err(err),
			)

			// A session with nothing to retry stays failed permanently
			// rather than cycling through this job forever.
			if errors.Is(err, shared.ErrSessionNotRetryable) {
				if markErr := j.sessions.MarkFailed(ctx, sess, "stuck session has no usable delta"); markErr != nil {
					j.logger.Error("failed to mark unretryable session", logger.Err(markErr))
				}
			}
			continue
		}

		j.logger.Info("re-applied stuck session",
			logger.SessionID(sess.ID),
			logger.CallID(sess.CallID),
		)
	}

	if failed > 0 && failed == len(stuck) {
		return errors.New("all stuck session retries failed")
	}
	return nil
}
