package loner

import (
	"context"
)

// QueueBackend represents the interface for the job queue the locks guard.
// Implementations must be thread-safe and support concurrent operations.
type QueueBackend interface {
	// Enqueue appends an encoded job to the tail of the queue
	Enqueue(ctx context.Context, queue string, payload []byte) error

	// Dequeue removes and returns the payload at the head of the queue.
	// The boolean is false when the queue is empty.
	Dequeue(ctx context.Context, queue string) ([]byte, bool, error)

	// ListAll returns every payload currently in the queue, head first, without removing them
	ListAll(ctx context.Context, queue string) ([][]byte, error)

	// DestroyQueue removes the queue and all of its entries
	DestroyQueue(ctx context.Context, queue string) error

	// Close closes the backend connection
	Close() error
}
