package loner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// resque-compatible queue key layout
const (
	redisQueueKeyPrefix = "queue:"
	redisQueuesSetKey   = "queues"
)

// RedisLockStore implements the LockStore interface on Redis.
// It accepts any go-redis UniversalClient; cluster clients are scanned master by master.
type RedisLockStore struct {
	client    redis.UniversalClient
	scanCount int64
	logger    *slog.Logger
}

// NewRedisLockStore creates a lock store over an existing client.
// The store does not own the client: Close leaves it open.
func NewRedisLockStore(client redis.UniversalClient, logger *slog.Logger) *RedisLockStore {
	return &RedisLockStore{
		client:    client,
		scanCount: defaultScanBatchSize,
		logger:    loggerOrDiscard(logger),
	}
}

// WithScanCount returns a copy of the store that hints SCAN with the given COUNT.
func (s *RedisLockStore) WithScanCount(n int64) *RedisLockStore {
	clone := *s
	if n > 0 {
		clone.scanCount = n
	}
	return &clone
}

// Close is a no-op; the caller owns the client.
func (s *RedisLockStore) Close() error {
	return nil
}

// Get returns the value of key.
func (s *RedisLockStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes value; SET clears any previous TTL.
func (s *RedisLockStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Expire sets the TTL of key. Whole-second TTLs use EXPIRE, others PEXPIRE.
// A non-positive TTL deletes the key (EXPIRE semantics).
func (s *RedisLockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ttl > 0 && ttl%time.Second != 0 {
		err = s.client.PExpire(ctx, key, ttl).Err()
	} else {
		err = s.client.Expire(ctx, key, ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("redis EXPIRE %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisLockStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes keys with one DEL, or one DEL per key on a cluster so
// keys in different hash slots do not fail the command.
func (s *RedisLockStore) DeleteAll(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, ok := s.client.(*redis.ClusterClient); !ok {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
		}
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// ScanPrefix iterates SCAN MATCH <prefix>* and hands every non-empty page to fn.
// SCAN may return a key more than once; fn must tolerate duplicates.
// On a cluster every master is scanned concurrently, but fn is called by one
// node at a time.
func (s *RedisLockStore) ScanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	match := escapeGlob(prefix) + "*"
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		serialized := func(keys []string) error {
			mu.Lock()
			defer mu.Unlock()
			return fn(keys)
		}
		return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return s.scanNode(ctx, node, match, serialized)
		})
	}
	return s.scanNode(ctx, s.client, match, fn)
}

func (s *RedisLockStore) scanNode(ctx context.Context, client redis.Cmdable, match string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis SCAN %s: %w", match, err)
		}
		if len(keys) > 0 {
			s.logger.Debug("ScanPrefix: scanned page", "match", match, "count", len(keys))
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// escapeGlob escapes the characters SCAN MATCH treats as glob syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RedisQueueBackend implements the QueueBackend interface with the resque
// layout: each queue is the list "queue:<name>", and the set "queues" holds
// every known queue name.
type RedisQueueBackend struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisQueueBackend creates a queue backend over an existing client.
// The backend does not own the client: Close leaves it open.
func NewRedisQueueBackend(client redis.UniversalClient, logger *slog.Logger) *RedisQueueBackend {
	return &RedisQueueBackend{client: client, logger: loggerOrDiscard(logger)}
}

// Close is a no-op; the caller owns the client.
func (b *RedisQueueBackend) Close() error {
	return nil
}

func redisQueueKey(queue string) string {
	return redisQueueKeyPrefix + queue
}

// Enqueue registers the queue and appends the payload (SADD + RPUSH).
func (b *RedisQueueBackend) Enqueue(ctx context.Context, queue string, payload []byte) error {
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisQueuesSetKey, queue)
		pipe.RPush(ctx, redisQueueKey(queue), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis enqueue %s: %w", queue, err)
	}
	return nil
}

// Dequeue pops the head of the list.
func (b *RedisQueueBackend) Dequeue(ctx context.Context, queue string) ([]byte, bool, error) {
	payload, err := b.client.LPop(ctx, redisQueueKey(queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis LPOP %s: %w", queue, err)
	}
	return payload, true, nil
}

// ListAll returns LRANGE 0 -1 of the queue list.
func (b *RedisQueueBackend) ListAll(ctx context.Context, queue string) ([][]byte, error) {
	values, err := b.client.LRange(ctx, redisQueueKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", queue, err)
	}
	entries := make([][]byte, 0, len(values))
	for _, value := range values {
		entries = append(entries, []byte(value))
	}
	return entries, nil
}

// DestroyQueue unregisters the queue and deletes its list (SREM + DEL).
func (b *RedisQueueBackend) DestroyQueue(ctx context.Context, queue string) error {
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, redisQueuesSetKey, queue)
		pipe.Del(ctx, redisQueueKey(queue))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis destroy %s: %w", queue, err)
	}
	b.logger.Debug("DestroyQueue: removed queue", "queue", queue)
	return nil
}

// Queues returns the names registered in the "queues" set.
func (b *RedisQueueBackend) Queues(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, redisQueuesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %s: %w", redisQueuesSetKey, err)
	}
	return names, nil
}
