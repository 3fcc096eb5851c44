package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	q, err := NewQueue(QueueConfig{QueueSize: 8, Workers: 2}, func(ctx context.Context, job CallJob) error {
		mu.Lock()
		seen[job.CallID] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	q.Start(context.Background())
	defer q.Close()

	for _, id := range []string{"call-1", "call-2", "call-3"} {
		require.NoError(t, q.Enqueue(CallJob{CallID: id}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	m := q.Metrics()
	assert.Equal(t, int64(3), m.Enqueued)
	assert.Equal(t, int64(3), m.Processed)
	assert.Zero(t, m.Failed)
}

func TestQueue_FullDropsJob(t *testing.T) {
	block := make(chan struct{})
	q, err := NewQueue(QueueConfig{QueueSize: 1, Workers: 1}, func(ctx context.Context, job CallJob) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	defer close(block)
	defer q.Close()

	// Workers never started: the buffer is the only capacity.
	require.NoError(t, q.Enqueue(CallJob{CallID: "call-1"}))

	err = q.Enqueue(CallJob{CallID: "call-2"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Metrics().Dropped)
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q, err := NewQueue(QueueConfig{QueueSize: 1, Workers: 1}, func(ctx context.Context, job CallJob) error {
		return nil
	})
	require.NoError(t, err)

	q.Start(context.Background())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(CallJob{CallID: "late"}), ErrQueueClosed)
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	processed := make(chan string, 2)
	q, err := NewQueue(QueueConfig{QueueSize: 4, Workers: 1}, func(ctx context.Context, job CallJob) error {
		if job.CallID == "boom" {
			panic("handler exploded")
		}
		processed <- job.CallID
		return nil
	})
	require.NoError(t, err)

	q.Start(context.Background())
	defer q.Close()

	require.NoError(t, q.Enqueue(CallJob{CallID: "boom"}))
	require.NoError(t, q.Enqueue(CallJob{CallID: "call-after"}))

	select {
	case id := <-processed:
		assert.Equal(t, "call-after", id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}

	assert.GreaterOrEqual(t, q.Metrics().Failed, int64(1))
}

func TestNewQueue_RequiresHandler(t *testing.T) {
	_, err := NewQueue(QueueConfig{}, nil)
	assert.Error(t, err)
}
