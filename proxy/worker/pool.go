// Package worker provides an asynchronous worker pool that records completed
// chat requests in the usage ledger and publishes them to the event stream.
//
// The pool decouples storage operations from the proxy's HTTP hot path so that
// a slow database or broker never holds up a client response.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/ollamabridge/pkg/eventstream"
	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 30 * time.Second
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Record *usage.Record
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver is the storage backend for usage records.
	Driver storage.Driver

	// Publisher is the optional event stream publisher. Nil disables publishing.
	Publisher eventstream.Publisher

	// Source labels published events.
	Source eventstream.EventSource

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds the storage and publish calls of a single job.
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool processes ledger jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	// mu guards closed and the send on queue.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, errors.New("worker pool requires a storage driver")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	if job.Record == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("usage record not queued, pool closed, record dropped",
			"chat_id", job.Record.ID,
			"model", job.Record.Model,
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("usage record queued",
			"chat_id", job.Record.ID,
			"model", job.Record.Model,
		)
		return true
	default:
		p.logger.Error("usage record not queued, queue full, record dropped",
			"chat_id", job.Record.ID,
			"model", job.Record.Model,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the proxy HTTP server has stopped.
// Close is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob stores the record and then publishes it. A storage failure
// skips publishing so consumers never see events for unrecorded usage.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	rec := job.Record
	if err := p.config.Driver.Put(ctx, rec); err != nil {
		p.logger.Error("usage record storage failed",
			"chat_id", rec.ID,
			"error", err,
		)
		return
	}

	p.logger.Info("usage recorded",
		"chat_id", rec.ID,
		"model", rec.Model,
		"total_tokens", rec.TotalTokens,
		"finish_reason", rec.FinishReason,
		"duration", rec.Duration,
	)

	if p.config.Publisher == nil {
		return
	}

	event := eventstream.NewUsageRecordedEvent(p.config.Source, rec)
	if err := p.config.Publisher.PublishUsage(ctx, event); err != nil {
		p.logger.Warn("usage event publish failed",
			"chat_id", rec.ID,
			"event_id", event.EventID,
			"error", err,
		)
	}
}
