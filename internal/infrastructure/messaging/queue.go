// Package messaging implements the in-process call job queue for Voice Tutor
// Hub. The webhook handler enqueues a job and acks immediately; a worker pool
// drains the queue through the pipeline. Dropped jobs are not lost work: the
// platform retries webhooks, and the call_id dedupe makes retries harmless.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALL JOB
// ══════════════════════════════════════════════════════════════════════════════

// CallJob is one call to process. The Fallback fields carry whatever call
// data the webhook itself delivered; the pipeline uses them only when the
// authoritative fetch fails.
type CallJob struct {
	CallID string

	FallbackTranscript      string
	FallbackDurationSeconds int
	FallbackCustomerNumber  string
	StartedAt               *time.Time
	EndedAt                 *time.Time

	EnqueuedAt time.Time
}

// Handler processes one call job.
type Handler func(ctx context.Context, job CallJob) error

// ══════════════════════════════════════════════════════════════════════════════
// QUEUE
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrQueueFull is returned when the queue cannot accept another job.
	ErrQueueFull = errors.New("queue: full")

	// ErrQueueClosed is returned when enqueueing on a closed queue.
	ErrQueueClosed = errors.New("queue: closed")
)

// QueueConfig configures the call queue.
type QueueConfig struct {
	// QueueSize is the buffered channel capacity.
	QueueSize int

	// Workers is the number of concurrent pipeline workers.
	Workers int

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		QueueSize: 256,
		Workers:   4,
	}
}

// Queue is a bounded in-memory job queue with a fixed worker pool.
type Queue struct {
	jobs    chan CallJob
	handler Handler
	workers int
	logger  *logger.Logger
	metrics *QueueMetrics

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewQueue creates a queue. The handler runs on every dequeued job.
func NewQueue(cfg QueueConfig, handler Handler) (*Queue, error) {
	if handler == nil {
		return nil, errors.New("queue: handler cannot be nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultQueueConfig().Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	return &Queue{
		jobs:    make(chan CallJob, cfg.QueueSize),
		handler: handler,
		workers: cfg.Workers,
		logger:  cfg.Logger.With(logger.Component("call-queue")),
		metrics: &QueueMetrics{},
	}, nil
}

// Start launches the worker pool. Workers exit when the context is cancelled
// and the queue is drained, or immediately on Close.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("call queue started",
		logger.Int("workers", q.workers),
		logger.Int("capacity", cap(q.jobs)),
	)
}

// Enqueue adds a job without blocking. A full queue returns ErrQueueFull so
// the webhook handler can answer 503 and the platform redelivers.
func (q *Queue) Enqueue(job CallJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.mu.Unlock()

	job.EnqueuedAt = time.Now().UTC()

	select {
	case q.jobs <- job:
		q.metrics.recordEnqueue()
		return nil
	default:
		q.metrics.recordDrop()
		return ErrQueueFull
	}
}

// Depth returns the number of jobs waiting in the queue.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Close stops accepting jobs, drains the queue, and waits for in-flight work.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()

	q.logger.Info("call queue closed")
	return nil
}

// worker drains jobs until the channel closes or the context is cancelled.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	log := q.logger.With(logger.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.process(ctx, log, job)
		}
	}
}

// process runs the handler on one job with panic isolation: a panicking job
// must not take down its worker.
func (q *Queue) process(ctx context.Context, log *logger.Logger, job CallJob) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			q.metrics.recordResult(time.Since(start), false)
			log.Error("call handler panicked",
				logger.CallID(job.CallID),
				logger.Any("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()

	err := q.handler(ctx, job)
	q.metrics.recordResult(time.Since(start), err == nil)

	if err != nil {
		log.Error("call processing failed",
			logger.CallID(job.CallID),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
		return
	}

	log.Info("call processed",
		logger.CallID(job.CallID),
		logger.Latency(time.Since(start)),
	)
}

// Metrics returns a snapshot of queue counters.
func (q *Queue) Metrics() QueueMetricsSnapshot {
	return q.metrics.snapshot(len(q.jobs))
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// QueueMetrics tracks queue throughput counters.
type QueueMetrics struct {
	mu sync.Mutex

	enqueued      int64
	dropped       int64
	processed     int64
	failed        int64
	totalDuration time.Duration
}

func (m *QueueMetrics) recordEnqueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued++
}

func (m *QueueMetrics) recordDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *QueueMetrics) recordResult(d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed++
	m.totalDuration += d
	if !ok {
		m.failed++
	}
}

func (m *QueueMetrics) snapshot(depth int) QueueMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := time.Duration(0)
	if m.processed > 0 {
		avg = m.totalDuration / time.Duration(m.processed)
	}

	return QueueMetricsSnapshot{
		Enqueued:        m.enqueued,
		Dropped:         m.dropped,
		Processed:       m.processed,
		Failed:          m.failed,
		Depth:           depth,
		AverageDuration: avg,
	}
}

// QueueMetricsSnapshot is a point-in-time view of queue counters.
type QueueMetricsSnapshot struct {
	Enqueued        int64         `json:"enqueued"`
	Dropped         int64         `json:"dropped"`
	Processed       int64         `json:"processed"`
	Failed          int64         `json:"failed"`
	Depth           int           `json:"depth"`
	AverageDuration time.Duration `json:"average_duration"`
}
