package loner

import (
	"context"
	"time"
)

// lockValue is the value stored under every lock key.
const lockValue = "1"

// defaultScanBatchSize is the number of keys ScanPrefix hands to its callback at once.
const defaultScanBatchSize = 500

// LockStore is the contract over the shared key-value store holding lock records.
// Implementations must be safe for concurrent use. Only single-key atomicity
// of Get, Set, Expire and Delete is assumed.
type LockStore interface {
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value unconditionally (last writer wins) and clears any TTL on key.
	Set(ctx context.Context, key, value string) error

	// Expire sets or refreshes the TTL of an existing key. It is a no-op if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every key in keys.
	DeleteAll(ctx context.Context, keys []string) error

	// ScanPrefix enumerates the keys starting with prefix, in batches.
	// The scan is not atomic: keys written or deleted during the scan may or may not be seen.
	// Returning an error from fn stops the scan and returns that error.
	// Calls to fn never overlap.
	ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error

	// Close releases the resources held by the store.
	Close() error
}
