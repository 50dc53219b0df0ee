package loner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobProcessor is a function type that processes a job.
// A returned error is logged; the job's lock is released either way.
type JobProcessor func(ctx context.Context, job Job) error

// Worker represents a background worker that processes jobs from one queue.
// It dequeues jobs, processes them, and releases their locks when they finish.
type Worker struct {
	queue     *Queue
	queueName string
	processor JobProcessor
	config    *Config
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	mu      sync.Mutex
	started bool
}

// NewWorker creates a new worker.
// queue is the unique-job queue to process jobs from.
// queueName is the name of the queue to poll.
// processor is the function that will process each job.
// config contains worker configuration (batch size, poll interval); nil uses LoadConfig.
func NewWorker(queue *Queue, queueName string, processor JobProcessor, config *Config, logger *slog.Logger) *Worker {
	if config == nil {
		config = LoadConfig()
	}
	return &Worker{
		queue:     queue,
		queueName: queueName,
		processor: processor,
		config:    config,
		logger:    loggerOrDiscard(logger),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start starts the worker and begins processing jobs from the queue.
// The worker will continue processing jobs until Stop() is called or ctx is done.
// This method returns immediately after starting the background goroutine.
// A worker starts at most once; it cannot be restarted after Stop.
func (w *Worker) Start(ctx context.Context) error {
	if w.processor == nil {
		return fmt.Errorf("worker for %s has no processor", w.queueName)
	}
	if w.config.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be greater than 0")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("worker for %s already started", w.queueName)
	}
	select {
	case <-w.stopCh:
		return fmt.Errorf("worker for %s is stopped", w.queueName)
	default:
	}
	w.started = true
	go w.processLoop(ctx)
	return nil
}

// Stop stops the worker gracefully.
// Any jobs currently being processed will complete before the worker stops.
// This method blocks until the worker has fully stopped. Stopping a worker
// that was never started returns immediately.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopOnce.Do(func() { close(w.stopCh) })
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.doneCh
	}
}

// processLoop continuously processes jobs
func (w *Worker) processLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// processBatch processes up to BatchSize jobs
func (w *Worker) processBatch(ctx context.Context) {
	for i := 0; i < w.config.BatchSize; i++ {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, ok, err := w.queue.Dequeue(ctx, w.queueName)
		if err != nil {
			w.logger.Error("Worker: failed to dequeue job", "queue", w.queueName, "error", err)
			return
		}
		if !ok {
			return
		}
		w.processJob(ctx, job)
	}
}

// processJob runs a single job and releases its lock
func (w *Worker) processJob(ctx context.Context, job Job) {
	if err := w.processor(ctx, job); err != nil {
		w.logger.Error("Worker: job failed", "queue", w.queueName, "class", job.Class, "error", err)
	}

	if err := w.queue.Finish(ctx, w.queueName, job); err != nil {
		w.logger.Error("Worker: failed to release job lock", "queue", w.queueName, "class", job.Class, "error", err)
	}
}
