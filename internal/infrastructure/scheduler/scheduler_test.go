package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := New(nil, 0)

	job := &countingJob{name: "job-a"}
	require.NoError(t, s.Register(job, time.Minute))

	assert.ErrorIs(t, s.Register(job, time.Minute), ErrJobAlreadyExists)
	assert.Error(t, s.Register(nil, time.Minute))
	assert.Error(t, s.Register(&countingJob{name: "job-b"}, 0))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil, time.Second)

	job := &countingJob{name: "job-a"}
	require.NoError(t, s.Register(job, time.Hour))

	result, err := s.RunNow(context.Background(), "job-a")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err = s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNow_RecordsFailure(t *testing.T) {
	s := New(nil, 0)

	job := &countingJob{name: "flaky", err: errors.New("db down")}
	require.NoError(t, s.Register(job, time.Hour))

	result, err := s.RunNow(context.Background(), "flaky")
	assert.Error(t, err)
	assert.False(t, result.Success)

	last, ok := s.LastRun("flaky")
	require.True(t, ok)
	assert.False(t, last.Success)
}

func TestScheduler_PeriodicExecution(t *testing.T) {
	s := New(nil, 0)

	job := &countingJob{name: "ticker"}
	require.NoError(t, s.Register(job, 20*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	after := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, job.runs.Load(), "no runs after Stop")
}

func TestScheduler_FirstRunWaitsOneInterval(t *testing.T) {
	s := New(nil, 0)

	job := &countingJob{name: "delayed"}
	require.NoError(t, s.Register(job, time.Hour))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, job.runs.Load())
}
