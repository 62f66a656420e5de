// Package queue bounds job concurrency with a fixed worker pool.
//
// Both image normalization and provider calls are resource and rate-limit
// bound, so unbounded concurrency would exhaust local compute or trip
// provider limits. Delivery is at-least-once from the caller's point of
// view; processing the same job id twice is safe because the pipeline
// overwrites with a fresh receipt.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of work: a job id and the storage reference of its image.
type Job struct {
	ID          string
	ImageRef    string
	SubmittedAt time.Time
}

// Processor runs the pipeline for one job.
type Processor interface {
	Run(ctx context.Context, jobID, imageRef string) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, jobID, imageRef string) error

func (f ProcessorFunc) Run(ctx context.Context, jobID, imageRef string) error {
	return f(ctx, jobID, imageRef)
}

// Pool is a bounded worker pool over a buffered channel.
type Pool struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the concurrency limit.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the backlog buffer.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Job, n)
		}
	}
}

// WithJobTimeout bounds one whole job, OCR and provider calls included.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPool creates and starts the pool.
func NewPool(proc Processor, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Info("worker started", "worker_id", workerID)

				for job := range p.ch {
					ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
					err := p.proc.Run(ctx, job.ID, job.ImageRef)
					cancel()

					if err != nil {
						p.logger.Error("job processing failed",
							"worker_id", workerID, "job_id", job.ID, "error", err)
					} else {
						p.logger.Info("job processed",
							"worker_id", workerID, "job_id", job.ID,
							"queued_for", time.Since(job.SubmittedAt).String())
					}
				}

				p.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue submits a job, blocking for backpressure when the buffer is full.
// Enqueue after Shutdown is a logged no-op. The read lock lets submits wait
// on a full buffer without serializing each other; Shutdown's write lock
// waits out in-flight sends before closing the channel.
func (p *Pool) Enqueue(_ context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("cannot enqueue: pool is shutting down", "job_id", job.ID)
		return nil
	}
	select {
	case p.ch <- job:
	default:
		p.logger.Warn("queue full, applying backpressure", "job_id", job.ID)
		p.ch <- job
	}
	return nil
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		p.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
