// Package loner provides unique-job admission control for job queues backed by
// a shared key-value store (Redis, BadgerDB, or in-memory for tests).
//
// A job type that opts into uniqueness gets a lock key per (queue, job
// fingerprint). Producers check the lock before enqueuing and set it after a
// successful enqueue; workers release it (or arm a cool-down) when the job
// finishes. There is no central coordinator: every decision re-reads the store.
//
// The library supports:
//   - Deterministic job fingerprints over type name and ordered arguments
//   - Per-type queue TTL and post-execution cool-down TTL
//   - Bulk lock cleanup when a queue is destroyed
//   - Targeted lock release for queued entries matching a job signature
//   - Multiple lock stores (Redis, BadgerDB, in-memory) and queue backends
//     (Redis, BadgerDB, in-memory, SQLite)
//
// Example usage:
//
//	registry := loner.NewRegistry()
//	_ = registry.Register("SendEmail", &loner.TypeSpec{
//	    QueueName:   "emails",
//	    IsUnique:    true,
//	    LockTTL:     loner.Forever,
//	    CooldownTTL: loner.Seconds(0),
//	})
//
//	store := loner.NewRedisLockStore(client, logger)
//	backend := loner.NewRedisQueueBackend(client, logger)
//	queue := loner.NewQueue(backend, store, registry, logger)
//
//	admitted, err := queue.Enqueue(ctx, "emails", loner.NewJob("SendEmail", "a@x.com"))
package loner

import (
	"fmt"
	"time"
)

// Job identifies a unit of queued work: a type name and its ordered arguments.
type Job struct {
	Class string `json:"class"` // Job type name, raw identifier or hyphenated slug
	Args  []any  `json:"args"`  // Ordered job arguments
}

// NewJob builds a Job from a type name and its arguments.
func NewJob(class string, args ...any) Job {
	return Job{Class: class, Args: args}
}

// TTL is a lock lifetime: either a finite duration or Forever.
// The zero value is a finite TTL of zero.
type TTL struct {
	d       time.Duration
	forever bool
}

// Forever is a TTL that never expires.
var Forever = TTL{forever: true}

// Seconds returns a finite TTL of n seconds.
func Seconds(n int64) TTL {
	return TTL{d: time.Duration(n) * time.Second}
}

// After returns a finite TTL of d.
func After(d time.Duration) TTL {
	return TTL{d: d}
}

// IsForever reports whether the TTL never expires.
func (t TTL) IsForever() bool {
	return t.forever
}

// Duration returns the finite lifetime. It is zero for Forever.
func (t TTL) Duration() time.Duration {
	if t.forever {
		return 0
	}
	return t.d
}

func (t TTL) String() string {
	if t.forever {
		return "forever"
	}
	return t.d.String()
}

// Policy holds the two lock lifetimes of a unique job type.
type Policy struct {
	// QueueTTL is how long the lock survives while the job is merely queued.
	// Forever keeps it until the job finishes or the queue is swept.
	QueueTTL TTL

	// PostExecutionTTL is how long the lock survives after the job finished.
	// Zero releases immediately, Forever never releases on completion.
	PostExecutionTTL TTL
}

func (p Policy) String() string {
	return fmt.Sprintf("queue_ttl=%s post_execution_ttl=%s", p.QueueTTL, p.PostExecutionTTL)
}
