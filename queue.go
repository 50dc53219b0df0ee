package loner

import (
	"context"
	"fmt"
	"log/slog"
)

// Queue composes a QueueBackend with the admission protocol: duplicate unique
// jobs are not enqueued, finished jobs release their locks, and destroying a
// queue also sweeps its locks.
type Queue struct {
	backend    QueueBackend
	store      LockStore
	types      TypeResolver
	controller *Controller
	sweeper    *Sweeper
	codec      Codec
	logger     *slog.Logger
}

// NewQueue creates a Queue over the backend, lock store and type registry.
func NewQueue(backend QueueBackend, store LockStore, types TypeResolver, logger *slog.Logger, opts ...Option) *Queue {
	logger = loggerOrDiscard(logger)
	o := buildOptions(opts)
	controller := NewController(store, types, logger, opts...)
	return &Queue{
		backend:    backend,
		store:      store,
		types:      types,
		controller: controller,
		sweeper:    NewSweeper(store, backend, controller, logger, opts...),
		codec:      o.codec,
		logger:     logger,
	}
}

// Controller returns the admission controller of the queue.
func (q *Queue) Controller() *Controller {
	return q.controller
}

// Sweeper returns the lock sweeper of the queue.
func (q *Queue) Sweeper() *Sweeper {
	return q.sweeper
}

// Enqueue pushes the job unless an equivalent unique job already holds a lock
// in the queue. It reports whether the job was enqueued.
// The lock is taken after the backend accepted the entry; if taking it fails
// the entry stays enqueued and the error is returned.
func (q *Queue) Enqueue(ctx context.Context, queue string, job Job) (bool, error) {
	q.logger.Debug("Enqueue", "queue", queue, "class", job.Class)

	duplicate, err := q.controller.IsDuplicate(ctx, queue, job)
	if err != nil {
		return false, err
	}
	if duplicate {
		q.logger.Debug("Enqueue: duplicate unique job skipped", "queue", queue, "class", job.Class)
		return false, nil
	}

	payload, err := q.codec.Encode(job)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", job.Class, err)
	}
	if err := q.backend.Enqueue(ctx, queue, payload); err != nil {
		return false, err
	}
	if err := q.controller.MarkQueued(ctx, queue, job); err != nil {
		return true, err
	}
	return true, nil
}

// IsEnqueued reports whether an equivalent unique job holds a lock in the
// job type's own queue. The type must name its queue (QueueNamer).
func (q *Queue) IsEnqueued(ctx context.Context, job Job) (bool, error) {
	queue, err := q.defaultQueue(job.Class)
	if err != nil {
		return false, err
	}
	return q.IsEnqueuedIn(ctx, queue, job)
}

// IsEnqueuedIn reports whether an equivalent unique job holds a lock in queue.
// Jobs that are not unique always report false.
func (q *Queue) IsEnqueuedIn(ctx context.Context, queue string, job Job) (bool, error) {
	return q.controller.IsDuplicate(ctx, queue, job)
}

func (q *Queue) defaultQueue(class string) (string, error) {
	if q.types == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, class)
	}
	ref, err := q.types.ResolveType(class)
	if err != nil {
		return "", err
	}
	namer, ok := ref.Type.(QueueNamer)
	if !ok || namer.Queue() == "" {
		return "", fmt.Errorf("%w: %s", ErrNoDefaultQueue, ref.Name)
	}
	return namer.Queue(), nil
}

// Dequeue pops and decodes the head of the queue. The job's lock is kept
// until Finish is called. The boolean is false when the queue is empty.
// An undecodable entry is removed from the queue and returned as an error.
func (q *Queue) Dequeue(ctx context.Context, queue string) (Job, bool, error) {
	payload, ok, err := q.backend.Dequeue(ctx, queue)
	if err != nil || !ok {
		return Job{}, false, err
	}
	job, err := q.codec.Decode(payload)
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeue from %s: %w", queue, err)
	}
	return job, true, nil
}

// Finish releases the lock of a job whose execution finished, successfully or not.
func (q *Queue) Finish(ctx context.Context, queue string, job Job) error {
	return q.controller.MarkUnqueued(ctx, queue, job)
}

// DestroyQueue destroys the backing queue and then sweeps its locks.
func (q *Queue) DestroyQueue(ctx context.Context, queue string) error {
	if err := q.backend.DestroyQueue(ctx, queue); err != nil {
		return err
	}
	if _, err := q.sweeper.CleanupQueue(ctx, queue); err != nil {
		return err
	}
	return nil
}

// DestroyMatching releases the locks of queued entries matching class and args.
// See Sweeper.DestroyMatching.
func (q *Queue) DestroyMatching(ctx context.Context, queue, class string, args ...any) (int, error) {
	return q.sweeper.DestroyMatching(ctx, queue, class, args...)
}

// Close closes the backend and the lock store.
func (q *Queue) Close() error {
	backendErr := q.backend.Close()
	storeErr := q.store.Close()
	if backendErr != nil {
		return backendErr
	}
	return storeErr
}
