package jobs

import (
	"context"
	"time"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE EXPIRED MEMORIES JOB
// ══════════════════════════════════════════════════════════════════════════════

// PurgeExpiredMemoriesJob deletes memories past their expiry. Reads already
// exclude expired rows, so this is garbage collection, not correctness: the
// table just must not grow without bound.
type PurgeExpiredMemoriesJob struct {
	profiles student.ProfileRepository
	logger   *logger.Logger
}

// NewPurgeExpiredMemoriesJob creates the job.
func NewPurgeExpiredMemoriesJob(profiles student.ProfileRepository, log *logger.Logger) *PurgeExpiredMemoriesJob {
	if log == nil {
		log = logger.Default()
	}
	return &PurgeExpiredMemoriesJob{
		profiles: profiles,
		logger:   log.With(logger.Component("purge-memories-job")),
	}
}

// Name returns the job name.
func (j *PurgeExpiredMemoriesJob) Name() string { return "purge_expired_memories" }

// Description returns a human-readable description.
func (j *PurgeExpiredMemoriesJob) Description() string {
	return "Deletes student memories past their retention window"
}

// Run deletes all memories whose expiry has passed.
func (j *PurgeExpiredMemoriesJob) Run(ctx context.Context) error {
	purged, err := j.profiles.PurgeExpiredMemories(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	if purged > 0 {
		j.logger.Info("purged expired memories", logger.Int64("purged", purged))
	}
	return nil
}
