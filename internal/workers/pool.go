// Package workers provides a bounded worker pool for background jobs in
// livescan. It supports job queuing, retries, rate limiting and graceful
// shutdown, and reports through the structured logger and metrics
// collector.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create. A pool of one
	// executes jobs in submission order.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            1,
		QueueSize:       1024,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       0,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config          Config
	logger          *logging.Logger
	metrics         metrics.Collector
	jobs            chan Job
	results         chan Result
	externalResults chan Result
	workers         []*worker
	wg              sync.WaitGroup
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	rateLimiter     *time.Ticker
	startOnce       sync.Once
	closed          atomic.Bool

	// submitMu keeps Submit from sending on the job channel while
	// Shutdown closes it.
	submitMu sync.RWMutex
}

// worker represents a single worker goroutine.
type worker struct {
	id   int
	pool *Pool
}

// New creates a new worker pool with the given configuration. A nil
// logger uses the default logger; a nil collector discards metrics.
func New(config Config, logger *logging.Logger, collector metrics.Collector) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:          config,
		logger:          logger.WithComponent("workers"),
		metrics:         metrics.OrNop(collector),
		jobs:            make(chan Job, config.QueueSize),
		results:         make(chan Result, config.QueueSize),
		externalResults: make(chan Result, config.QueueSize),
		workers:         make([]*worker, config.Size),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	if config.RateLimit > 0 {
		interval := time.Second / time.Duration(config.RateLimit)
		pool.rateLimiter = time.NewTicker(interval)
	}

	for i := 0; i < config.Size; i++ {
		pool.workers[i] = &worker{
			id:   i,
			pool: pool,
		}
	}

	return pool
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for _, w := range p.workers {
			p.wg.Add(1)
			go w.run()
		}

		go p.processResults()
	})
}

// Submit adds a job to the worker pool queue. It never blocks: a full
// queue is reported as CodeQueueFull.
func (p *Pool) Submit(job Job) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return errors.NewControlError(errors.CodeServiceUnavailable, "worker pool is shut down", "closed")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	default:
		p.metrics.IncrementJobs(job.Type(), "rejected")
		return errors.NewControlError(errors.CodeQueueFull, "job queue is full", "running")
	}
}

// Results returns a channel for receiving job results. Results are
// dropped when nobody reads them.
func (p *Pool) Results() <-chan Result {
	return p.externalResults
}

// Shutdown stops accepting jobs, lets the workers drain the queue and
// waits for them up to the configured shutdown timeout.
func (p *Pool) Shutdown() error {
	p.submitMu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.submitMu.Unlock()
		return nil
	}
	close(p.jobs)
	p.submitMu.Unlock()

	p.logger.Info("Shutting down worker pool")

	// A pool that was never started has nobody to drain the queue.
	p.startOnce.Do(func() {
		close(p.externalResults)
		close(p.done)
	})

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
		p.logger.Info("Worker pool shutdown completed")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout, canceling running jobs")
		err = errors.NewControlError(errors.CodeTimeout, "worker pool shutdown timed out", "closing")
		p.cancel()
		<-finished
	}

	p.cancel()
	close(p.results)
	<-p.done

	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}
	return err
}

// Wait blocks until the pool has shut down.
func (p *Pool) Wait() {
	<-p.done
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("Worker started", "worker_id", w.id)
	defer w.pool.logger.Debug("Worker stopped", "worker_id", w.id)

	for job := range w.pool.jobs {
		w.executeJob(job)
	}
}

// executeJob executes a single job with retry logic.
func (w *worker) executeJob(job Job) {
	p := w.pool

	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			return
		}
	}

	var lastErr error
	var retries int

retry:
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		start := time.Now()
		err := job.Execute(p.ctx)
		duration := time.Since(start)
		p.metrics.RecordJobDuration(job.Type(), duration)

		if err == nil {
			p.results <- Result{
				JobID:    job.ID(),
				JobType:  job.Type(),
				Duration: duration,
				Retries:  retries,
			}
			p.metrics.IncrementJobs(job.Type(), "success")

			p.logger.Debug("Job completed successfully",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"duration", duration,
				"worker_id", w.id,
				"retries", retries)
			return
		}

		lastErr = err
		retries = attempt

		if attempt < p.config.MaxRetries {
			p.logger.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", err)

			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				break retry
			}
		}
	}

	p.results <- Result{
		JobID:   job.ID(),
		JobType: job.Type(),
		Error:   lastErr,
		Retries: retries,
	}
	p.metrics.IncrementJobs(job.Type(), "error")

	p.logger.Error("Job failed after retries",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"retries", retries,
		"error", lastErr,
		"worker_id", w.id)
}

// processResults forwards results to external consumers until the results
// channel is closed.
func (p *Pool) processResults() {
	defer close(p.done)
	defer close(p.externalResults)

	for result := range p.results {
		select {
		case p.externalResults <- result:
		default:
		}
	}
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewJob creates a job that runs fn.
func NewJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
