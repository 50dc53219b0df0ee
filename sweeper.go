package loner

import (
	"context"
	"fmt"
	"log/slog"
)

// Sweeper removes locks in bulk: every lock of a destroyed queue, or the locks
// of queued entries matching a job signature.
type Sweeper struct {
	store      LockStore
	backend    QueueBackend
	controller *Controller
	codec      Codec
	metrics    *Collector
	batchSize  int
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. backend is only needed by DestroyMatching.
func NewSweeper(store LockStore, backend QueueBackend, controller *Controller, logger *slog.Logger, opts ...Option) *Sweeper {
	o := buildOptions(opts)
	return &Sweeper{
		store:      store,
		backend:    backend,
		controller: controller,
		codec:      o.codec,
		metrics:    o.metrics,
		batchSize:  o.sweepBatch,
		logger:     loggerOrDiscard(logger),
	}
}

// CleanupQueue deletes every lock under the queue's namespace and returns how
// many keys were deleted. It is not atomic with the queue's destruction: a
// queue recreated while the sweep runs may lose locks taken during the sweep.
func (s *Sweeper) CleanupQueue(ctx context.Context, queue string) (int, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return 0, err
	}
	prefix := QueueLockPrefix(queue)

	deleted := 0
	err = s.store.ScanPrefix(ctx, prefix, func(keys []string) error {
		for len(keys) > 0 {
			n := min(len(keys), s.batchSize)
			if err := s.store.DeleteAll(ctx, keys[:n]); err != nil {
				return err
			}
			deleted += n
			keys = keys[n:]
		}
		return nil
	})
	s.metrics.recordSwept(deleted)
	if err != nil {
		return deleted, fmt.Errorf("cleanup locks of %s: %w", queue, err)
	}
	s.logger.Debug("CleanupQueue: swept locks", "queue", queue, "count", deleted)
	return deleted, nil
}

// DestroyMatching releases the locks of every entry currently in the queue
// whose class equals class and, when args are given, whose arguments equal
// args in order. The entries themselves stay in the queue. Entries that cannot
// be decoded are skipped. It returns the number of matching entries.
func (s *Sweeper) DestroyMatching(ctx context.Context, queue, class string, args ...any) (int, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return 0, err
	}
	if s.backend == nil {
		return 0, fmt.Errorf("destroy matching %s: no queue backend configured", queue)
	}

	entries, err := s.backend.ListAll(ctx, queue)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", queue, err)
	}

	matched := 0
	for idx, entry := range entries {
		job, err := s.codec.Decode(entry)
		if err != nil {
			s.metrics.recordMalformed()
			s.logger.Warn("DestroyMatching: skipping undecodable entry", "queue", queue, "index", idx, "error", err)
			continue
		}
		if job.Class != class {
			continue
		}
		if len(args) > 0 {
			equal, err := argsEqual(job.Args, args)
			if err != nil {
				return matched, err
			}
			if !equal {
				continue
			}
		}

		if err := s.controller.MarkUnqueued(ctx, queue, job); err != nil {
			return matched, err
		}
		matched++
		s.metrics.recordMatchingReleased()
	}
	s.logger.Debug("DestroyMatching", "queue", queue, "class", class, "matched", matched)
	return matched, nil
}
