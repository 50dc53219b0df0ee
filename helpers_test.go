package loner_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/VsevolodSauta/loner"
	. "github.com/onsi/gomega"
)

// testLogger creates a logger for tests (discards output)
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
}

// fakeClock is a manually advanced clock for simulated TTL expiry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingStore wraps a LockStore, records every call, and can fail all of them.
type recordingStore struct {
	loner.LockStore

	mu    sync.Mutex
	calls []string
	err   error
}

func newRecordingStore(inner loner.LockStore) *recordingStore {
	return &recordingStore{LockStore: inner}
}

func (s *recordingStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.err
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.record("get"); err != nil {
		return "", false, err
	}
	return s.LockStore.Get(ctx, key)
}

func (s *recordingStore) Set(ctx context.Context, key, value string) error {
	if err := s.record("set"); err != nil {
		return err
	}
	return s.LockStore.Set(ctx, key, value)
}

func (s *recordingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.record("expire"); err != nil {
		return err
	}
	return s.LockStore.Expire(ctx, key, ttl)
}

func (s *recordingStore) Delete(ctx context.Context, key string) error {
	if err := s.record("delete"); err != nil {
		return err
	}
	return s.LockStore.Delete(ctx, key)
}

func (s *recordingStore) DeleteAll(ctx context.Context, keys []string) error {
	if err := s.record("deleteAll"); err != nil {
		return err
	}
	return s.LockStore.DeleteAll(ctx, keys)
}

func (s *recordingStore) ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	if err := s.record("scan"); err != nil {
		return err
	}
	return s.LockStore.ScanPrefix(ctx, prefix, fn)
}

// testRegistry declares the job types shared by the controller, sweeper and queue specs.
func testRegistry() *loner.Registry {
	registry := loner.NewRegistry()
	must := func(name string, spec *loner.TypeSpec) {
		Expect(registry.Register(name, spec)).To(Succeed())
	}

	// unique, permanent while queued, released on completion
	must("SendEmail", &loner.TypeSpec{QueueName: "emails", IsUnique: true, LockTTL: loner.Forever, CooldownTTL: loner.Seconds(0)})
	// unique, 10s while queued
	must("ShortLived", &loner.TypeSpec{IsUnique: true, LockTTL: loner.Seconds(10), CooldownTTL: loner.Seconds(0)})
	// unique, 30s cool-down after execution
	must("Cooldown", &loner.TypeSpec{QueueName: "reports", IsUnique: true, LockTTL: loner.Forever, CooldownTTL: loner.Seconds(30)})
	// unique, never released by execution
	must("Sticky", &loner.TypeSpec{IsUnique: true, LockTTL: loner.Forever, CooldownTTL: loner.Forever})
	// unique, zero queue TTL
	must("ZeroQueueTTL", &loner.TypeSpec{IsUnique: true, LockTTL: loner.Seconds(0), CooldownTTL: loner.Seconds(0)})
	// namespaced unique type
	must("Mailers::Digest", &loner.TypeSpec{IsUnique: true, LockTTL: loner.Forever})
	// not unique
	must("Plain", &loner.TypeSpec{QueueName: "plain"})

	return registry
}

// lockKeyOf returns the default lock key of a job in a queue.
func lockKeyOf(queue, class string, args ...any) string {
	fingerprint, err := loner.Fingerprint(class, args)
	Expect(err).NotTo(HaveOccurred())
	return loner.LockKey(queue, fingerprint)
}
