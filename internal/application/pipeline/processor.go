// Package pipeline implements the call-processing pipeline: from a deduped
// webhook job to an applied analysis delta. The processor owns orchestration
// and failure routing; atomicity lives in the persistence layer.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/analysis"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/ai"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/external/voice"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/redis"
	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// CallFetcher fetches the authoritative call record from the voice platform.
type CallFetcher interface {
	FetchCall(ctx context.Context, callID string) (*voice.CallDTO, error)
}

// Analyzer walks the AI provider chain for one prompt.
type Analyzer interface {
	Analyze(ctx context.Context, prompt ai.Prompt) (*ai.Outcome, error)
}

// DeltaApplier applies a validated delta atomically.
type DeltaApplier interface {
	Apply(ctx context.Context, sess *session.Session, stu *student.Student, delta *analysis.Delta) (*postgres.ApplyReport, error)
}

// ContextCache caches per-student context snapshots.
type ContextCache interface {
	Get(ctx context.Context, studentID string) (*redisinfra.CachedContext, error)
	Put(ctx context.Context, studentID string, snapshot *redisinfra.CachedContext) error
	Invalidate(ctx context.Context, studentID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// PROCESSOR
// ══════════════════════════════════════════════════════════════════════════════

// Config holds pipeline behavior settings.
type Config struct {
	DefaultCountryCode    string
	PlaceholderNamePrefix string
	MaxTranscriptChars    int
}

// Processor runs one call end to end: dedupe, fetch, identity resolution,
// analysis, validation, and atomic application.
type Processor struct {
	sessions session.Repository
	students student.Repository
	profiles student.ProfileRepository
	fetcher  CallFetcher
	analyzer Analyzer
	applier  DeltaApplier
	contexts ContextCache
	cfg      Config
	logger   *logger.Logger
}

// NewProcessor wires the pipeline. The context cache may be nil.
func NewProcessor(
	sessions session.Repository,
	students student.Repository,
	profiles student.ProfileRepository,
	fetcher CallFetcher,
	analyzer Analyzer,
	applier DeltaApplier,
	contexts ContextCache,
	cfg Config,
	log *logger.Logger,
) *Processor {
	if log == nil {
		log = logger.Default()
	}
	return &Processor{
		sessions: sessions,
		students: students,
		profiles: profiles,
		fetcher:  fetcher,
		analyzer: analyzer,
		applier:  applier,
		contexts: contexts,
		cfg:      cfg,
		logger:   log.With(logger.Component("pipeline")),
	}
}

// ProcessCall runs the pipeline for one webhook job. Safe to call repeatedly
// for the same call_id: the session row dedupes, and an already-processed
// call returns nil immediately.
func (p *Processor) ProcessCall(ctx context.Context, job messaging.CallJob) error {
	log := p.logger.With(logger.CallID(job.CallID))

	sess, created, err := p.sessions.CreateOrGet(ctx, job.CallID)
	if err != nil {
		return err
	}
	switch {
	case !created && sess.Status == session.StatusFetched:
		// A previous delivery stalled after persisting call data (cost
		// ceiling, crash). Resume from the stored transcript.
		log.Info("resuming deferred session", logger.SessionStatus(string(sess.Status)))
	case !created && sess.Status != session.StatusReceived:
		// A previous delivery already carried this call past analysis.
		log.Info("duplicate call delivery ignored", logger.SessionStatus(string(sess.Status)))
		return nil
	}

	log = log.With(logger.SessionID(sess.ID))

	// Authoritative call data, or webhook fallback when the platform is down.
	if err := p.fetchCallData(ctx, sess, job, log); err != nil {
		return err
	}

	if strings.TrimSpace(sess.Transcript) == "" {
		detail := "call has no transcript"
		log.Warn(detail)
		return p.sessions.MarkFailed(ctx, sess, detail)
	}

	// Identity resolution.
	res, err := p.resolveCaller(ctx, sess, log)
	if err != nil {
		return err
	}

	classification := p.classify(ctx, res)
	log.Info("caller classified",
		logger.StudentID(res.Student.ID),
		logger.String("classification", string(classification)),
	)

	// Analysis.
	outcome, delta, done, err := p.analyze(ctx, sess, res, classification, log)
	if done || err != nil {
		return err
	}

	// Persist the validated delta before applying, so a crash between here
	// and the apply leaves a session the retry job can finish.
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	sess.Delta = deltaJSON
	sess.RawAnalysis = outcome.Raw
	sess.Attempts = outcome.Attempts

	if err := sess.Advance(session.StatusAnalyzed); err != nil {
		return err
	}
	if err := p.sessions.SaveAnalysis(ctx, sess); err != nil {
		return err
	}

	// Atomic application.
	report, err := p.applier.Apply(ctx, sess, res.Student, delta)
	if err != nil {
		if errors.Is(err, shared.ErrSessionAlreadyProcessed) {
			log.Info("session already applied by a concurrent worker")
			return nil
		}
		// Session stays analyzed; the stuck-session job retries from the
		// persisted delta.
		return err
	}

	if err := p.contexts.Invalidate(ctx, res.Student.ID); err != nil {
		log.Warn("failed to invalidate context cache", logger.Err(err))
	}

	log.Info("analysis applied",
		logger.StudentID(res.Student.ID),
		logger.Provider(outcome.Provider),
		logger.CostUSD(sess.TotalCostUSD()),
		logger.Bool("profile_version_created", report.ProfileVersionCreated),
		logger.Int("memories_upserted", report.MemoriesUpserted),
		logger.Int("goals_patched", report.GoalsPatched),
		logger.Int("kcs_patched", report.KCsPatched),
		logger.Bool("name_updated", report.NameUpdated),
	)
	return nil
}

// Reapply re-runs the atomic apply for a session that already holds a
// validated delta. Used by the stuck-session job and the operator requeue.
func (p *Processor) Reapply(ctx context.Context, sess *session.Session) (*postgres.ApplyReport, error) {
	if len(sess.Delta) == 0 {
		return nil, shared.ErrSessionNotRetryable
	}
	if sess.StudentID == "" {
		return nil, shared.ErrSessionNotRetryable
	}

	stu, err := p.students.GetByID(ctx, sess.StudentID)
	if err != nil {
		return nil, err
	}

	var delta analysis.Delta
	if err := json.Unmarshal(sess.Delta, &delta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal persisted delta: %w", err)
	}

	report, err := p.applier.Apply(ctx, sess, stu, &delta)
	if err != nil {
		return nil, err
	}

	if err := p.contexts.Invalidate(ctx, stu.ID); err != nil {
		p.logger.Warn("failed to invalidate context cache", logger.Err(err))
	}

	return report, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline Stages
// ─────────────────────────────────────────────────────────────────────────────

// fetchCallData fetches the authoritative record, degrading to webhook data
// when the platform cannot serve the call. Degraded sessions are flagged so
// operators can spot-check them.
func (p *Processor) fetchCallData(ctx context.Context, sess *session.Session, job messaging.CallJob, log *logger.Logger) error {
	if sess.Status == session.StatusFetched {
		// Call data was persisted by an earlier delivery; don't re-fetch.
		return nil
	}

	dto, fetchErr := p.fetcher.FetchCall(ctx, sess.CallID)

	switch {
	case fetchErr == nil:
		sess.Transcript = dto.Transcript
		sess.DurationSeconds = dto.DurationSeconds()
		sess.CustomerNumber = dto.Customer.Number
		sess.StartedAt = dto.StartedAt
		sess.EndedAt = dto.EndedAt
		sess.DegradedSource = false

	case job.FallbackTranscript != "":
		log.Warn("call fetch failed, degrading to webhook data", logger.Err(fetchErr))
		sess.Transcript = job.FallbackTranscript
		sess.DurationSeconds = job.FallbackDurationSeconds
		sess.CustomerNumber = job.FallbackCustomerNumber
		sess.StartedAt = job.StartedAt
		sess.EndedAt = job.EndedAt
		sess.DegradedSource = true

	default:
		detail := "call fetch failed and webhook carried no transcript"
		if markErr := p.sessions.MarkFailed(ctx, sess, detail); markErr != nil {
			return markErr
		}
		return fetchErr
	}

	if err := sess.Advance(session.StatusFetched); err != nil {
		return err
	}
	return p.sessions.SaveCallData(ctx, sess)
}

// resolveCaller normalizes the caller number and resolves (or provisions) the
// student behind it.
func (p *Processor) resolveCaller(ctx context.Context, sess *session.Session, log *logger.Logger) (*student.Resolution, error) {
	if strings.TrimSpace(sess.CustomerNumber) == "" {
		detail := "caller number missing"
		if err := p.sessions.MarkFailed(ctx, sess, detail); err != nil {
			return nil, err
		}
		return nil, shared.ErrInvalidPhoneNumber
	}

	normalized, err := student.NormalizePhone(sess.CustomerNumber, p.cfg.DefaultCountryCode)
	if err != nil {
		if markErr := p.sessions.MarkFailed(ctx, sess, "caller number cannot be normalized"); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	res, err := p.students.Resolve(ctx, normalized, p.cfg.PlaceholderNamePrefix)
	if err != nil {
		if markErr := p.sessions.MarkFailed(ctx, sess, "identity resolution failed: "+err.Error()); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	if err := p.sessions.AttachStudent(ctx, sess.ID, res.Student.ID); err != nil {
		return nil, err
	}
	sess.StudentID = res.Student.ID

	if res.Created {
		log.Info("auto-provisioned student",
			logger.StudentID(res.Student.ID),
			logger.Phone(maskPhone(normalized)),
		)
	}
	return res, nil
}

// classify decides which analysis template the caller gets. Errors degrade to
// unknown rather than blocking the pipeline.
func (p *Processor) classify(ctx context.Context, res *student.Resolution) student.Classification {
	if res.Created {
		return student.ClassificationNew
	}

	completed, err := p.sessions.HasCompletedSession(ctx, res.Student.ID)
	if err != nil {
		return student.ClassificationUnknown
	}
	if completed {
		return student.ClassificationKnown
	}
	return student.ClassificationNew
}

// analyze assembles the prompt, walks the provider chain, and validates the
// response. done=true means the session reached a terminal route (failed or
// review) and the caller should stop without error.
func (p *Processor) analyze(ctx context.Context, sess *session.Session, res *student.Resolution, classification student.Classification, log *logger.Logger) (outcome *ai.Outcome, delta *analysis.Delta, done bool, err error) {
	snapshot := p.studentContext(ctx, res, classification, log)

	prompt := ai.BuildPrompt(ai.PromptInput{
		Classification:     classification,
		DisplayName:        res.Student.DisplayName,
		GradeLevel:         res.Student.GradeLevel,
		Transcript:         sess.Transcript,
		Profile:            snapshot.Profile,
		Memories:           snapshot.Memories,
		MaxTranscriptChars: p.cfg.MaxTranscriptChars,
	})

	outcome, err = p.analyzer.Analyze(ctx, prompt)
	if err != nil {
		if errors.Is(err, shared.ErrCostCeilingReached) {
			// The session stays fetched; analysis resumes when the daily
			// budget resets.
			log.Warn("cost ceiling reached, deferring analysis")
			return nil, nil, false, err
		}

		if outcome != nil {
			sess.Attempts = outcome.Attempts
		}
		if markErr := p.sessions.MarkFailed(ctx, sess, "all analysis providers failed"); markErr != nil {
			return nil, nil, false, markErr
		}
		return nil, nil, false, err
	}

	delta, err = analysis.Extract(outcome.Result)
	if err != nil {
		// Malformed AI output goes to a human, never to persistence.
		sess.Attempts = outcome.Attempts
		if markErr := p.sessions.MarkNeedsReview(ctx, sess, outcome.Raw, err.Error()); markErr != nil {
			return nil, nil, false, markErr
		}
		log.Warn("analysis failed schema validation, routed to review",
			logger.Provider(outcome.Provider),
			logger.Err(err),
		)
		return nil, nil, true, nil
	}

	return outcome, delta, false, nil
}

// studentContext returns the cached context snapshot for a known caller,
// reading through to PostgreSQL on a miss. New callers have no context.
func (p *Processor) studentContext(ctx context.Context, res *student.Resolution, classification student.Classification, log *logger.Logger) *redisinfra.CachedContext {
	if classification == student.ClassificationNew {
		return &redisinfra.CachedContext{}
	}

	if snapshot, err := p.contexts.Get(ctx, res.Student.ID); err == nil {
		return snapshot
	}

	snapshot := &redisinfra.CachedContext{Known: true}

	profile, err := p.profiles.CurrentProfile(ctx, res.Student.ID)
	switch {
	case err == nil:
		snapshot.Profile = profile
	case !shared.IsNotFound(err):
		log.Warn("failed to load profile for prompt context", logger.Err(err))
	}

	memories, err := p.profiles.Memories(ctx, res.Student.ID, "")
	if err != nil {
		log.Warn("failed to load memories for prompt context", logger.Err(err))
	} else {
		snapshot.Memories = memories
	}

	if err := p.contexts.Put(ctx, res.Student.ID, snapshot); err != nil {
		log.Warn("failed to cache student context", logger.Err(err))
	}

	return snapshot
}

// maskPhone keeps only the last four digits for logs.
func maskPhone(phone string) string {
	digits := strings.TrimLeft(phone, "+")
	if len(digits) <= 4 {
		return "****"
	}
	return "****" + digits[len(digits)-4:]
}
