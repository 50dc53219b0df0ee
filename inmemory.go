package loner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryLockStore implements the LockStore interface using in-memory storage.
// It uses a single mutex for thread-safety and is suitable for testing.
// Expired keys are dropped lazily, measured against the store's clock.
type InMemoryLockStore struct {
	mu        sync.Mutex
	entries   map[string]inMemoryEntry
	now       func() time.Time
	batchSize int
	closed    bool
}

type inMemoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// InMemoryOption configures an InMemoryLockStore.
type InMemoryOption func(*InMemoryLockStore)

// WithClock replaces the wall clock used for TTL expiry.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryLockStore) {
		s.now = now
	}
}

// WithScanBatchSize sets how many keys ScanPrefix passes per callback.
func WithScanBatchSize(n int) InMemoryOption {
	return func(s *InMemoryLockStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewInMemoryLockStore creates a new in-memory lock store.
func NewInMemoryLockStore(opts ...InMemoryOption) *InMemoryLockStore {
	s := &InMemoryLockStore{
		entries:   make(map[string]inMemoryEntry),
		now:       time.Now,
		batchSize: defaultScanBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the store and prevents further operations.
func (s *InMemoryLockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Get returns the value of key if it exists and has not expired.
func (s *InMemoryLockStore) Get(ctx context.Context, key string) (string, bool, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return "", false, err
	}
	entry, ok := s.liveEntryLocked(key)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set writes value and clears any TTL.
func (s *InMemoryLockStore) Set(ctx context.Context, key, value string) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	s.entries[key] = inMemoryEntry{value: value}
	return nil
}

// Expire sets a TTL on an existing key. A non-positive TTL deletes the key.
func (s *InMemoryLockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	entry, ok := s.liveEntryLocked(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[key] = entry
	return nil
}

// Delete removes key.
func (s *InMemoryLockStore) Delete(ctx context.Context, key string) error {
	return s.DeleteAll(ctx, []string{key})
}

// DeleteAll removes every key in keys.
func (s *InMemoryLockStore) DeleteAll(ctx context.Context, keys []string) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpenLocked(); err != nil {
		return err
	}
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// ScanPrefix enumerates live keys with the prefix in lexical order.
// The key set is snapshotted before the first callback, so fn may modify the store.
func (s *InMemoryLockStore) ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.ensureOpenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	matched := make([]string, 0)
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.liveEntryLocked(key); ok {
			matched = append(matched, key)
		}
	}
	s.mu.Unlock()

	sort.Strings(matched)
	for start := 0; start < len(matched); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + s.batchSize
		if end > len(matched) {
			end = len(matched)
		}
		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// TTL returns the remaining lifetime of key, and false if the key is absent
// or has no expiry.
func (s *InMemoryLockStore) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveEntryLocked(key)
	if !ok || entry.expiresAt.IsZero() {
		return 0, false
	}
	return entry.expiresAt.Sub(s.now()), true
}

// liveEntryLocked returns the entry of key, deleting it if it has expired.
func (s *InMemoryLockStore) liveEntryLocked(key string) (inMemoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return inMemoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return inMemoryEntry{}, false
	}
	return entry, true
}

func (s *InMemoryLockStore) ensureOpenLocked() error {
	if s.closed {
		return fmt.Errorf("lock store: %w", ErrClosed)
	}
	return nil
}

// InMemoryQueueBackend implements the QueueBackend interface using in-memory storage.
// It is suitable for testing.
type InMemoryQueueBackend struct {
	mu     sync.RWMutex
	queues map[string][][]byte
	closed bool
}

// NewInMemoryQueueBackend creates a new in-memory queue backend.
func NewInMemoryQueueBackend() *InMemoryQueueBackend {
	return &InMemoryQueueBackend{queues: make(map[string][][]byte)}
}

// Close closes the backend and prevents further operations.
func (b *InMemoryQueueBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Enqueue appends a payload to the queue.
func (b *InMemoryQueueBackend) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	b.queues[queue] = append(b.queues[queue], copyBytes(payload))
	return nil
}

// Dequeue pops the head of the queue.
func (b *InMemoryQueueBackend) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return nil, false, err
	}
	entries := b.queues[queue]
	if len(entries) == 0 {
		return nil, false, nil
	}
	head := entries[0]
	if len(entries) == 1 {
		delete(b.queues, queue)
	} else {
		b.queues[queue] = entries[1:]
	}
	return head, true, nil
}

// ListAll returns copies of every payload in the queue.
func (b *InMemoryQueueBackend) ListAll(ctx context.Context, queue string) ([][]byte, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpenLocked(); err != nil {
		return nil, err
	}
	entries := b.queues[queue]
	result := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		result = append(result, copyBytes(entry))
	}
	return result, nil
}

// DestroyQueue drops the queue.
func (b *InMemoryQueueBackend) DestroyQueue(ctx context.Context, queue string) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	delete(b.queues, queue)
	return nil
}

func (b *InMemoryQueueBackend) ensureOpenLocked() error {
	if b.closed {
		return fmt.Errorf("queue backend: %w", ErrClosed)
	}
	return nil
}

func copyBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
