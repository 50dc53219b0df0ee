package loner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// key prefixes
const (
	keyPrefixQueue    = "queue:"
	keyQueueSeparator = "\x00"
	keyQueueSequence  = "seq:queue"
)

// openBadger opens a BadgerDB database at dbPath with its internal logging disabled
// (BadgerDB uses its own logger interface).
func openBadger(dbPath string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return db, nil
}

// retryBadgerUpdate retries a BadgerDB update operation on transaction conflicts.
// This provides deterministic retry behavior suitable for tests (fixed delay, no jitter).
func retryBadgerUpdate(ctx context.Context, db *badger.DB, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}

	if lastErr != nil {
		return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
	}
	return fmt.Errorf("transaction conflict after %d retries", maxRetries)
}

// collectBadgerKeys returns every live key starting with prefix.
func collectBadgerKeys(ctx context.Context, db *badger.DB, prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// deleteBadgerKeys removes keys with a write batch.
func deleteBadgerKeys(db *badger.DB, keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to batch delete: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush delete batch: %w", err)
	}
	return nil
}

// BadgerLockStore implements the LockStore interface using BadgerDB.
// Lock TTLs map to BadgerDB entry TTLs, which have one-second granularity.
type BadgerLockStore struct {
	db        *badger.DB
	ownsDB    bool
	batchSize int
	logger    *slog.Logger
}

// NewBadgerLockStore creates a new BadgerDB lock store.
// The database directory will be created if it doesn't exist.
func NewBadgerLockStore(dbPath string, logger *slog.Logger) (*BadgerLockStore, error) {
	db, err := openBadger(dbPath)
	if err != nil {
		return nil, err
	}
	store := NewBadgerLockStoreWithDB(db, logger)
	store.ownsDB = true
	return store, nil
}

// NewBadgerLockStoreWithDB creates a lock store over an already opened database.
// Close does not close a database passed in this way.
func NewBadgerLockStoreWithDB(db *badger.DB, logger *slog.Logger) *BadgerLockStore {
	return &BadgerLockStore{
		db:        db,
		batchSize: defaultScanBatchSize,
		logger:    loggerOrDiscard(logger),
	}
}

// WithScanBatchSize returns a copy of the store that hands ScanPrefix callbacks n keys at a time.
func (s *BadgerLockStore) WithScanBatchSize(n int) *BadgerLockStore {
	clone := *s
	if n > 0 {
		clone.batchSize = n
	}
	return &clone
}

// Close closes the database if the store opened it.
func (s *BadgerLockStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Get returns the value of key.
func (s *BadgerLockStore) Get(ctx context.Context, key string) (string, bool, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return "", false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get lock %s: %w", key, err)
	}
	return string(value), true, nil
}

// Set writes value without a TTL.
func (s *BadgerLockStore) Set(ctx context.Context, key, value string) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	err = retryBadgerUpdate(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to set lock %s: %w", key, err)
	}
	return nil
}

// Expire rewrites an existing key with a TTL. A non-positive TTL deletes the key.
func (s *BadgerLockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	err = retryBadgerUpdate(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if ttl <= 0 {
			return txn.Delete([]byte(key))
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		entry.ExpiresAt = badgerExpiresAt(time.Now(), ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to expire lock %s: %w", key, err)
	}
	return nil
}

// badgerExpiresAt returns the Unix second at which a key set at now with ttl
// expires. Badger expires a key once the current Unix second reaches
// ExpiresAt, so the deadline is rounded up: a key lives at least ttl and at
// most one second longer.
func badgerExpiresAt(now time.Time, ttl time.Duration) uint64 {
	deadline := now.Add(ttl)
	expiresAt := deadline.Unix()
	if deadline.After(time.Unix(expiresAt, 0)) {
		expiresAt++
	}
	return uint64(expiresAt)
}

// Delete removes key.
func (s *BadgerLockStore) Delete(ctx context.Context, key string) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	err = retryBadgerUpdate(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete lock %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every key in keys with a single write batch.
func (s *BadgerLockStore) DeleteAll(ctx context.Context, keys []string) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	raw := make([][]byte, 0, len(keys))
	for _, key := range keys {
		raw = append(raw, []byte(key))
	}
	return deleteBadgerKeys(s.db, raw)
}

// ScanPrefix enumerates the live keys with prefix in key order.
func (s *BadgerLockStore) ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	raw, err := collectBadgerKeys(ctx, s.db, []byte(prefix))
	if err != nil {
		return fmt.Errorf("failed to scan locks with prefix %s: %w", prefix, err)
	}
	s.logger.Debug("ScanPrefix: collected keys", "prefix", prefix, "count", len(raw))

	batch := make([]string, 0, s.batchSize)
	for _, key := range raw {
		batch = append(batch, string(key))
		if len(batch) == s.batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]string, 0, s.batchSize)
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// BadgerQueueBackend implements the QueueBackend interface using BadgerDB.
// Entries are keyed by queue name and a database-wide sequence, so each queue
// is iterated in enqueue order.
type BadgerQueueBackend struct {
	db     *badger.DB
	ownsDB bool
	seq    *badger.Sequence
	logger *slog.Logger
}

// NewBadgerQueueBackend creates a new BadgerDB queue backend.
// The database directory will be created if it doesn't exist.
func NewBadgerQueueBackend(dbPath string, logger *slog.Logger) (*BadgerQueueBackend, error) {
	db, err := openBadger(dbPath)
	if err != nil {
		return nil, err
	}
	backend, err := NewBadgerQueueBackendWithDB(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	backend.ownsDB = true
	return backend, nil
}

// NewBadgerQueueBackendWithDB creates a queue backend over an already opened database,
// which may be shared with a BadgerLockStore. Close does not close the database.
func NewBadgerQueueBackendWithDB(db *badger.DB, logger *slog.Logger) (*BadgerQueueBackend, error) {
	seq, err := db.GetSequence([]byte(keyQueueSequence), 128)
	if err != nil {
		return nil, fmt.Errorf("failed to lease queue sequence: %w", err)
	}
	return &BadgerQueueBackend{
		db:     db,
		seq:    seq,
		logger: loggerOrDiscard(logger),
	}, nil
}

// Close releases the sequence lease and closes the database if the backend opened it.
func (b *BadgerQueueBackend) Close() error {
	if err := b.seq.Release(); err != nil {
		return fmt.Errorf("failed to release queue sequence: %w", err)
	}
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

// queuePrefix returns the key prefix of the queue entries
func queuePrefix(queue string) []byte {
	return []byte(keyPrefixQueue + queue + keyQueueSeparator)
}

// queueEntryKey returns the key for a queue entry
func queueEntryKey(queue string, seq uint64) []byte {
	prefix := queuePrefix(queue)
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	return append(key, seqBytes...)
}

// Enqueue appends a payload to the queue.
func (b *BadgerQueueBackend) Enqueue(ctx context.Context, queue string, payload []byte) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	next, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate queue sequence: %w", err)
	}
	key := queueEntryKey(queue, next)
	err = retryBadgerUpdate(ctx, b.db, func(txn *badger.Txn) error {
		return txn.Set(key, copyBytes(payload))
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", queue, err)
	}
	b.logger.Debug("Enqueue: stored entry", "queue", queue, "seq", next)
	return nil
}

// Dequeue removes and returns the oldest entry of the queue.
func (b *BadgerQueueBackend) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, false, err
	}
	prefix := queuePrefix(queue)

	var payload []byte
	err = retryBadgerUpdate(ctx, b.db, func(txn *badger.Txn) error {
		// Reset on every attempt so a retried transaction does not return a stale entry
		payload = nil

		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 1
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(item.KeyCopy(nil)); err != nil {
			return err
		}
		payload = value
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to dequeue from %s: %w", queue, err)
	}
	return payload, payload != nil, nil
}

// ListAll returns every entry of the queue in enqueue order.
func (b *BadgerQueueBackend) ListAll(ctx context.Context, queue string) ([][]byte, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}
	prefix := queuePrefix(queue)

	entries := make([][]byte, 0)
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", queue, err)
	}
	return entries, nil
}

// DestroyQueue deletes every entry of the queue.
// Entries enqueued concurrently with the destruction may survive it.
func (b *BadgerQueueBackend) DestroyQueue(ctx context.Context, queue string) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	keys, err := collectBadgerKeys(ctx, b.db, queuePrefix(queue))
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", queue, err)
	}
	if err := deleteBadgerKeys(b.db, keys); err != nil {
		return fmt.Errorf("failed to destroy %s: %w", queue, err)
	}
	b.logger.Debug("DestroyQueue: deleted entries", "queue", queue, "count", len(keys))
	return nil
}
