package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/analysis"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/student"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/ai"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/external/voice"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/redis"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeSessions struct {
	session.Repository

	sess    *session.Session
	created bool

	savedCallData bool
	attached      string
	savedAnalysis bool
	failedDetail  string
	reviewDetail  string
	hasCompleted  bool
}

func (f *fakeSessions) CreateOrGet(ctx context.Context, callID string) (*session.Session, bool, error) {
	if f.sess == nil {
		f.sess = session.New(callID)
	}
	return f.sess, f.created, nil
}

func (f *fakeSessions) SaveCallData(ctx context.Context, s *session.Session) error {
	f.savedCallData = true
	return nil
}

func (f *fakeSessions) AttachStudent(ctx context.Context, sessionID, studentID string) error {
	f.attached = studentID
	return nil
}

func (f *fakeSessions) SaveAnalysis(ctx context.Context, s *session.Session) error {
	f.savedAnalysis = true
	return nil
}

func (f *fakeSessions) MarkFailed(ctx context.Context, s *session.Session, detail string) error {
	f.failedDetail = detail
	return s.Fail(detail)
}

func (f *fakeSessions) MarkNeedsReview(ctx context.Context, s *session.Session, raw []byte, detail string) error {
	f.reviewDetail = detail
	s.NeedsReview = true
	s.RawAnalysis = raw
	return s.Fail(detail)
}

func (f *fakeSessions) HasCompletedSession(ctx context.Context, studentID string) (bool, error) {
	return f.hasCompleted, nil
}

type fakeStudents struct {
	student.Repository

	resolution *student.Resolution
	resolveErr error
}

func (f *fakeStudents) Resolve(ctx context.Context, phone, prefix string) (*student.Resolution, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.resolution, nil
}

func (f *fakeStudents) GetByID(ctx context.Context, id string) (*student.Student, error) {
	return f.resolution.Student, nil
}

type fakeProfiles struct {
	student.ProfileRepository

	profile  *student.Profile
	memories []*student.Memory
}

func (f *fakeProfiles) CurrentProfile(ctx context.Context, studentID string) (*student.Profile, error) {
	if f.profile == nil {
		return nil, shared.ErrNotFound
	}
	return f.profile, nil
}

func (f *fakeProfiles) Memories(ctx context.Context, studentID string, scope student.MemoryScope) ([]*student.Memory, error) {
	return f.memories, nil
}

type fakeFetcher struct {
	dto   *voice.CallDTO
	err   error
	calls int
}

func (f *fakeFetcher) FetchCall(ctx context.Context, callID string) (*voice.CallDTO, error) {
	f.calls++
	return f.dto, f.err
}

type fakeAnalyzer struct {
	outcome *ai.Outcome
	err     error
	prompt  ai.Prompt
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, prompt ai.Prompt) (*ai.Outcome, error) {
	f.prompt = prompt
	return f.outcome, f.err
}

type fakeApplier struct {
	report  *postgres.ApplyReport
	err     error
	applied bool
	delta   *analysis.Delta
}

func (f *fakeApplier) Apply(ctx context.Context, sess *session.Session, stu *student.Student, delta *analysis.Delta) (*postgres.ApplyReport, error) {
	f.applied = true
	f.delta = delta
	if f.err != nil {
		return nil, f.err
	}
	if f.report == nil {
		f.report = &postgres.ApplyReport{}
	}
	return f.report, nil
}

type fakeContexts struct {
	snapshots   map[string]*redisinfra.CachedContext
	invalidated []string
}

func (f *fakeContexts) Get(ctx context.Context, studentID string) (*redisinfra.CachedContext, error) {
	if s, ok := f.snapshots[studentID]; ok {
		return s, nil
	}
	return nil, errors.New("miss")
}

func (f *fakeContexts) Put(ctx context.Context, studentID string, snapshot *redisinfra.CachedContext) error {
	if f.snapshots == nil {
		f.snapshots = map[string]*redisinfra.CachedContext{}
	}
	f.snapshots[studentID] = snapshot
	return nil
}

func (f *fakeContexts) Invalidate(ctx context.Context, studentID string) error {
	f.invalidated = append(f.invalidated, studentID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

type fixture struct {
	sessions *fakeSessions
	students *fakeStudents
	profiles *fakeProfiles
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	applier  *fakeApplier
	contexts *fakeContexts

	processor *Processor
}

func goodOutcome() *ai.Outcome {
	narrative := "Curious fourth grader who loves space."
	return &ai.Outcome{
		Result: &analysis.Result{
			ProfileUpdates: analysis.ProfileUpdates{
				NarrativeChanges: &narrative,
				TraitUpdates:     map[string]string{"name": "Aruzhan"},
			},
			MemoryUpdates: map[string]map[string]string{
				"personal_fact": {"pet": "cat"},
			},
			ShouldCreateNewProfileVersion: true,
			ConfidenceScore:               0.9,
		},
		Raw:      []byte(`{"ok":true}`),
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Attempts: []session.ProviderAttempt{{Provider: "openai", CostUSD: 0.01}},
	}
}

func newFixture(created bool) *fixture {
	f := &fixture{
		sessions: &fakeSessions{created: created},
		students: &fakeStudents{
			resolution: &student.Resolution{
				Student: &student.Student{ID: "stu-1", DisplayName: "Student 4567"},
				Created: created,
			},
		},
		profiles: &fakeProfiles{},
		fetcher: &fakeFetcher{dto: &voice.CallDTO{
			ID:         "call-42",
			Transcript: "Tutor: hi\nStudent: hello",
			Customer:   voice.CustomerDTO{Number: "+15551234567"},
		}},
		analyzer: &fakeAnalyzer{outcome: goodOutcome()},
		applier:  &fakeApplier{},
		contexts: &fakeContexts{},
	}

	f.processor = NewProcessor(
		f.sessions, f.students, f.profiles,
		f.fetcher, f.analyzer, f.applier, f.contexts,
		Config{DefaultCountryCode: "1", PlaceholderNamePrefix: "Student "},
		nil,
	)
	return f
}

func job() messaging.CallJob {
	return messaging.CallJob{CallID: "call-42"}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestProcessCall_HappyPath(t *testing.T) {
	f := newFixture(true)

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.True(t, f.sessions.savedCallData)
	assert.Equal(t, "stu-1", f.sessions.attached)
	assert.True(t, f.sessions.savedAnalysis)
	assert.True(t, f.applier.applied)
	assert.Equal(t, []string{"stu-1"}, f.contexts.invalidated)

	sess := f.sessions.sess
	assert.Equal(t, session.StatusAnalyzed, sess.Status)
	assert.NotEmpty(t, sess.Delta)
	assert.Len(t, sess.Attempts, 1)

	// The validated delta, not the raw result, reaches the applier.
	require.NotNil(t, f.applier.delta)
	assert.Equal(t, "Aruzhan", f.applier.delta.TraitUpdates["name"])
}

func TestProcessCall_DuplicateDeliveryIgnored(t *testing.T) {
	f := newFixture(false)
	f.sessions.sess = session.New("call-42")
	require.NoError(t, f.sessions.sess.Advance(session.StatusFetched))
	require.NoError(t, f.sessions.sess.Advance(session.StatusAnalyzed))

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.Zero(t, f.fetcher.calls)
	assert.False(t, f.sessions.savedCallData)
	assert.False(t, f.applier.applied)
}

func TestProcessCall_DegradedSource(t *testing.T) {
	f := newFixture(true)
	f.fetcher.dto = nil
	f.fetcher.err = shared.ErrExternalService

	j := job()
	j.FallbackTranscript = "Student: fallback hello"
	j.FallbackCustomerNumber = "+15551234567"
	j.FallbackDurationSeconds = 60

	err := f.processor.ProcessCall(context.Background(), j)
	require.NoError(t, err)

	sess := f.sessions.sess
	assert.True(t, sess.DegradedSource)
	assert.Equal(t, "Student: fallback hello", sess.Transcript)
	assert.Equal(t, 60, sess.DurationSeconds)
	assert.True(t, f.applier.applied)
}

func TestProcessCall_FetchFailedNoFallback(t *testing.T) {
	f := newFixture(true)
	f.fetcher.dto = nil
	f.fetcher.err = shared.ErrCallNotFound

	err := f.processor.ProcessCall(context.Background(), job())
	assert.ErrorIs(t, err, shared.ErrCallNotFound)

	assert.Equal(t, "call fetch failed and webhook carried no transcript", f.sessions.failedDetail)
	assert.False(t, f.applier.applied)
}

func TestProcessCall_EmptyTranscriptFails(t *testing.T) {
	f := newFixture(true)
	f.fetcher.dto.Transcript = "   "

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.Equal(t, "call has no transcript", f.sessions.failedDetail)
	assert.Equal(t, session.StatusFailed, f.sessions.sess.Status)
	assert.False(t, f.applier.applied)
}

func TestProcessCall_MissingCallerNumber(t *testing.T) {
	f := newFixture(true)
	f.fetcher.dto.Customer.Number = ""

	err := f.processor.ProcessCall(context.Background(), job())
	assert.ErrorIs(t, err, shared.ErrInvalidPhoneNumber)

	assert.Equal(t, "caller number missing", f.sessions.failedDetail)
	assert.False(t, f.applier.applied)
}

func TestProcessCall_ResolutionFailure(t *testing.T) {
	f := newFixture(true)
	f.students.resolveErr = errors.New("db down")

	err := f.processor.ProcessCall(context.Background(), job())
	assert.Error(t, err)
	assert.Contains(t, f.sessions.failedDetail, "identity resolution failed")
}

func TestProcessCall_SchemaViolationGoesToReview(t *testing.T) {
	f := newFixture(true)
	f.analyzer.outcome.Result.ConfidenceScore = 2.0 // outside [0,1]

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.NotEmpty(t, f.sessions.reviewDetail)
	assert.True(t, f.sessions.sess.NeedsReview)
	assert.Equal(t, []byte(`{"ok":true}`), f.sessions.sess.RawAnalysis)
	assert.False(t, f.applier.applied, "invalid analysis must never reach the applier")
}

func TestProcessCall_AllProvidersFailed(t *testing.T) {
	f := newFixture(true)
	f.analyzer.outcome = &ai.Outcome{
		Attempts: []session.ProviderAttempt{
			{Provider: "openai", Error: "timeout"},
			{Provider: "anthropic", Error: "timeout"},
		},
	}
	f.analyzer.err = shared.ErrAllProvidersFailed

	err := f.processor.ProcessCall(context.Background(), job())
	assert.ErrorIs(t, err, shared.ErrAllProvidersFailed)

	assert.Equal(t, "all analysis providers failed", f.sessions.failedDetail)
	assert.Len(t, f.sessions.sess.Attempts, 2)
}

func TestProcessCall_CostCeilingDefersSession(t *testing.T) {
	f := newFixture(true)
	f.analyzer.outcome = &ai.Outcome{}
	f.analyzer.err = shared.ErrCostCeilingReached

	err := f.processor.ProcessCall(context.Background(), job())
	assert.ErrorIs(t, err, shared.ErrCostCeilingReached)

	// The session is deliberately left in fetched so analysis resumes when
	// the daily budget resets.
	assert.Empty(t, f.sessions.failedDetail)
	assert.Equal(t, session.StatusFetched, f.sessions.sess.Status)
}

func TestProcessCall_ResumesDeferredSession(t *testing.T) {
	f := newFixture(true)
	f.analyzer.outcome = &ai.Outcome{}
	f.analyzer.err = shared.ErrCostCeilingReached

	err := f.processor.ProcessCall(context.Background(), job())
	require.ErrorIs(t, err, shared.ErrCostCeilingReached)
	require.Equal(t, session.StatusFetched, f.sessions.sess.Status)

	// The daily budget resets and the same call arrives again.
	f.sessions.created = false
	f.analyzer.outcome = goodOutcome()
	f.analyzer.err = nil

	err = f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.True(t, f.applier.applied)
	assert.Equal(t, session.StatusAnalyzed, f.sessions.sess.Status)
	assert.Equal(t, 1, f.fetcher.calls, "persisted call data is reused, not re-fetched")
}

func TestProcessCall_ConcurrentApplyIsSuccess(t *testing.T) {
	f := newFixture(true)
	f.applier.err = shared.ErrSessionAlreadyProcessed

	err := f.processor.ProcessCall(context.Background(), job())
	assert.NoError(t, err)
}

func TestProcessCall_ApplyFailureLeavesSessionAnalyzed(t *testing.T) {
	f := newFixture(true)
	f.applier.err = errors.New("deadlock detected")

	err := f.processor.ProcessCall(context.Background(), job())
	assert.Error(t, err)

	// Delta is persisted; the stuck-session job finishes the work.
	assert.True(t, f.sessions.savedAnalysis)
	assert.Equal(t, session.StatusAnalyzed, f.sessions.sess.Status)
	assert.Empty(t, f.sessions.failedDetail)
}

func TestProcessCall_KnownCallerGetsContext(t *testing.T) {
	f := newFixture(false)
	f.sessions.created = true // session row is new, caller is not
	f.students.resolution.Created = false
	f.sessions.hasCompleted = true
	f.profiles.profile = &student.Profile{Narrative: "Loves chess."}
	f.profiles.memories = []*student.Memory{
		{Scope: student.ScopePersonalFact, Key: "pet", Value: "cat", UpdatedAt: time.Now()},
	}

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.Equal(t, ai.PromptTutoring, f.analyzer.prompt.Kind)
	assert.Contains(t, f.analyzer.prompt.User, "Loves chess.")
	assert.Contains(t, f.analyzer.prompt.User, "pet: cat")

	// The snapshot was cached for the next call.
	assert.Contains(t, f.contexts.snapshots, "stu-1")
}

func TestProcessCall_NewCallerGetsIntroductoryPrompt(t *testing.T) {
	f := newFixture(true)

	err := f.processor.ProcessCall(context.Background(), job())
	require.NoError(t, err)

	assert.Equal(t, ai.PromptIntroductory, f.analyzer.prompt.Kind)
}

func TestReapply(t *testing.T) {
	f := newFixture(true)

	delta := &analysis.Delta{
		TraitUpdates: map[string]string{},
		KCPatches: []analysis.KCPatch{
			{GoalCode: "MATH.G4.NF", KCCode: "MATH.G4.NF.1", MasteryPercentage: 60},
		},
	}
	raw, err := json.Marshal(delta)
	require.NoError(t, err)

	sess := session.New("call-42")
	sess.StudentID = "stu-1"
	sess.Delta = raw

	report, err := f.processor.Reapply(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, f.applier.applied)
	require.NotNil(t, f.applier.delta)
	assert.Len(t, f.applier.delta.KCPatches, 1)
	assert.Equal(t, []string{"stu-1"}, f.contexts.invalidated)
}

func TestReapply_NotRetryable(t *testing.T) {
	f := newFixture(true)

	// No delta.
	sess := session.New("call-42")
	sess.StudentID = "stu-1"
	_, err := f.processor.Reapply(context.Background(), sess)
	assert.ErrorIs(t, err, shared.ErrSessionNotRetryable)

	// No student.
	sess = session.New("call-42")
	sess.Delta = []byte(`{}`)
	_, err = f.processor.Reapply(context.Background(), sess)
	assert.ErrorIs(t, err, shared.ErrSessionNotRetryable)

	assert.False(t, f.applier.applied)
}
