package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetutor/voice-tutor-hub/internal/domain/session"
	"github.com/voicetutor/voice-tutor-hub/internal/domain/shared"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/messaging"
	"github.com/voicetutor/voice-tutor-hub/internal/infrastructure/persistence/postgres"
)

type fakeSessionStore struct {
	session.Repository

	fetched  []*session.Session
	analyzed []*session.Session
	failed   map[string]string
}

func (f *fakeSessionStore) ListStuckFetched(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	return f.fetched, nil
}

func (f *fakeSessionStore) ListStuckAnalyzed(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	return f.analyzed, nil
}

func (f *fakeSessionStore) MarkFailed(ctx context.Context, s *session.Session, detail string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[s.ID] = detail
	return nil
}

type fakePipeline struct {
	processed  []string
	processErr error
	reapplied  []string
	reapplyErr error
}

func (p *fakePipeline) ProcessCall(ctx context.Context, job messaging.CallJob) error {
	p.processed = append(p.processed, job.CallID)
	return p.processErr
}

func (p *fakePipeline) Reapply(ctx context.Context, sess *session.Session) (*postgres.ApplyReport, error) {
	p.reapplied = append(p.reapplied, sess.CallID)
	if p.reapplyErr != nil {
		return nil, p.reapplyErr
	}
	return &postgres.ApplyReport{}, nil
}

func fetchedSession(callID string) *session.Session {
	s := session.New(callID)
	if err := s.Advance(session.StatusFetched); err != nil {
		panic(err)
	}
	return s
}

func analyzedSession(callID string) *session.Session {
	s := fetchedSession(callID)
	if err := s.Advance(session.StatusAnalyzed); err != nil {
		panic(err)
	}
	return s
}

func TestRetryStuckJob_ResumesDeferredAndReappliesStuck(t *testing.T) {
	store := &fakeSessionStore{
		fetched:  []*session.Session{fetchedSession("call-1"), fetchedSession("call-2")},
		analyzed: []*session.Session{analyzedSession("call-3")},
	}
	pipe := &fakePipeline{}

	job := NewRetryStuckSessionsJob(store, pipe, time.Hour, nil)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []string{"call-1", "call-2"}, pipe.processed)
	assert.Equal(t, []string{"call-3"}, pipe.reapplied)
}

func TestRetryStuckJob_CeilingStopsResumeBatch(t *testing.T) {
	store := &fakeSessionStore{
		fetched:  []*session.Session{fetchedSession("call-1"), fetchedSession("call-2")},
		analyzed: []*session.Session{analyzedSession("call-3")},
	}
	pipe := &fakePipeline{processErr: shared.ErrCostCeilingReached}

	job := NewRetryStuckSessionsJob(store, pipe, time.Hour, nil)
	require.NoError(t, job.Run(context.Background()))

	// One attempt is enough to learn the budget is still exhausted; the
	// re-apply phase needs no provider and still runs.
	assert.Equal(t, []string{"call-1"}, pipe.processed)
	assert.Equal(t, []string{"call-3"}, pipe.reapplied)
}

func TestRetryStuckJob_MarksUnretryableSessions(t *testing.T) {
	stuck := analyzedSession("call-9")
	store := &fakeSessionStore{analyzed: []*session.Session{stuck}}
	pipe := &fakePipeline{reapplyErr: shared.ErrSessionNotRetryable}

	job := NewRetryStuckSessionsJob(store, pipe, time.Hour, nil)
	err := job.Run(context.Background())
	assert.Error(t, err)

	assert.Equal(t, "stuck session has no usable delta", store.failed[stuck.ID])
}

func TestRetryStuckJob_ConcurrentApplyIsNotFailure(t *testing.T) {
	store := &fakeSessionStore{analyzed: []*session.Session{analyzedSession("call-7")}}
	pipe := &fakePipeline{reapplyErr: shared.ErrSessionAlreadyProcessed}

	job := NewRetryStuckSessionsJob(store, pipe, time.Hour, nil)
	assert.NoError(t, job.Run(context.Background()))
	assert.Empty(t, store.failed)
}
