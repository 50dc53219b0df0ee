package loner

import (
	"context"
	"fmt"
	"log/slog"
)

// Option configures a Controller, Sweeper, or Queue.
type Option func(*options)

type options struct {
	codec      Codec
	metrics    *Collector
	sweepBatch int
}

// WithCodec replaces the default JSONCodec.
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithMetrics records protocol activity on the collector.
func WithMetrics(metrics *Collector) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithSweepBatchSize caps how many lock keys a Sweeper deletes per call to
// the store. Non-positive values keep the default.
func WithSweepBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepBatch = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{codec: JSONCodec{}, sweepBatch: defaultScanBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Controller implements the admission protocol: duplicate check, mark queued,
// mark unqueued. It never caches lock state; every call goes to the store.
//
// IsDuplicate followed by MarkQueued is not atomic. Two producers racing on the
// same job may both see no lock and both enqueue; the second MarkQueued then
// rewrites the same key with the same value. Deduplication is best effort and
// relies only on the key eventually being present, not on which writer won.
type Controller struct {
	store    LockStore
	resolver *PolicyResolver
	codec    Codec
	metrics  *Collector
	logger   *slog.Logger
}

// NewController creates a controller over the lock store and type registry.
func NewController(store LockStore, types TypeResolver, logger *slog.Logger, opts ...Option) *Controller {
	o := buildOptions(opts)
	logger = loggerOrDiscard(logger)
	return &Controller{
		store:    store,
		resolver: NewPolicyResolver(types, logger),
		codec:    o.codec,
		metrics:  o.metrics,
		logger:   logger,
	}
}

// Resolver returns the policy resolver used by the controller.
func (c *Controller) Resolver() *PolicyResolver {
	return c.resolver
}

// lockTarget resolves the job's policy and lock key. ok is false for jobs
// that are not unique; err is set only when the arguments cannot be encoded.
func (c *Controller) lockTarget(queue string, job Job) (key string, policy Policy, ok bool, err error) {
	resolved, ok := c.resolver.resolve(job.Class)
	if !ok {
		return "", Policy{}, false, nil
	}
	fingerprint, err := jobFingerprint(resolved.ref, job)
	if err != nil {
		return "", Policy{}, false, fmt.Errorf("fingerprint %s: %w", job.Class, err)
	}
	return LockKey(queue, fingerprint), resolved.policy, true, nil
}

// IsDuplicate reports whether an equivalent unique job already holds a lock in
// the queue. Jobs that are not unique are never duplicates and never touch the store.
func (c *Controller) IsDuplicate(ctx context.Context, queue string, job Job) (bool, error) {
	key, _, ok, err := c.lockTarget(queue, job)
	if err != nil {
		return false, err
	}
	if !ok {
		c.metrics.recordCheck(resultNotUnique)
		return false, nil
	}

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check lock for %s: %w", job.Class, err)
	}
	duplicate := found && value == lockValue
	if duplicate {
		c.metrics.recordCheck(resultDuplicate)
	} else {
		c.metrics.recordCheck(resultAdmitted)
	}
	c.logger.Debug("IsDuplicate", "queue", queue, "class", job.Class, "key", key, "duplicate", duplicate)
	return duplicate, nil
}

// MarkQueued takes the lock of a unique job after it was enqueued, with the
// type's queue TTL unless that is Forever.
func (c *Controller) MarkQueued(ctx context.Context, queue string, job Job) error {
	key, policy, ok, err := c.lockTarget(queue, job)
	if err != nil || !ok {
		return err
	}

	if err := c.store.Set(ctx, key, lockValue); err != nil {
		return fmt.Errorf("mark %s queued: %w", job.Class, err)
	}
	if !policy.QueueTTL.IsForever() {
		if err := c.store.Expire(ctx, key, policy.QueueTTL.Duration()); err != nil {
			return fmt.Errorf("set queue ttl of %s: %w", job.Class, err)
		}
	}
	c.metrics.recordAcquired()
	c.logger.Debug("MarkQueued", "queue", queue, "class", job.Class, "key", key, "queueTTL", policy.QueueTTL)
	return nil
}

// MarkUnqueued releases the lock of a unique job whose execution finished
// (successfully or not). A zero post-execution TTL deletes the lock, a
// positive one arms a cool-down, and Forever leaves the lock as it is.
func (c *Controller) MarkUnqueued(ctx context.Context, queue string, job Job) error {
	key, policy, ok, err := c.lockTarget(queue, job)
	if err != nil || !ok {
		return err
	}

	ttl := policy.PostExecutionTTL
	switch {
	case ttl.IsForever():
		c.metrics.recordReleased(releaseRetained)
		c.logger.Debug("MarkUnqueued: lock retained", "queue", queue, "class", job.Class, "key", key)
		return nil
	case ttl.Duration() <= 0:
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("release lock of %s: %w", job.Class, err)
		}
		c.metrics.recordReleased(releaseDeleted)
	default:
		if err := c.store.Expire(ctx, key, ttl.Duration()); err != nil {
			return fmt.Errorf("arm cool-down of %s: %w", job.Class, err)
		}
		c.metrics.recordReleased(releaseCooldown)
	}
	c.logger.Debug("MarkUnqueued", "queue", queue, "class", job.Class, "key", key, "postExecutionTTL", ttl)
	return nil
}

// MarkUnqueuedPayload decodes a raw queue entry and releases its lock.
func (c *Controller) MarkUnqueuedPayload(ctx context.Context, queue string, payload []byte) error {
	job, err := c.codec.Decode(payload)
	if err != nil {
		return err
	}
	return c.MarkUnqueued(ctx, queue, job)
}
