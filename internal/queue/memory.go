package queue

import (
	"context"
	"sync"

	"github.com/SirClappington/tagq/internal/domain"
)

// Broker owns the in-process queues. One broker is shared by every MemoryQ of a process;
// its mutex guards the map and each queue's slice.
type Broker struct {
	mu     sync.Mutex
	queues map[string][]any
}

func NewBroker() *Broker {
	return &Broker{queues: make(map[string][]any)}
}

// MemoryQ is a FIFO queue visible only within the current process.
type MemoryQ[T domain.Step] struct{ b *Broker }

func NewMemory[T domain.Step](b *Broker) *MemoryQ[T] { return &MemoryQ[T]{b} }

func (q *MemoryQ[T]) EnsureExists(ctx context.Context, jobID string) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if _, ok := q.b.queues[Key[T](jobID)]; !ok {
		q.b.queues[Key[T](jobID)] = nil
	}
	return nil
}

func (q *MemoryQ[T]) Length(ctx context.Context, jobID string) (int64, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	return int64(len(q.b.queues[Key[T](jobID)])), nil
}

func (q *MemoryQ[T]) Purge(ctx context.Context, jobID string) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	delete(q.b.queues, Key[T](jobID))
	return nil
}

func (q *MemoryQ[T]) Enqueue(ctx context.Context, item T, jobID string) error {
	return q.EnqueueBatch(ctx, []T{item}, jobID)
}

func (q *MemoryQ[T]) EnqueueBatch(ctx context.Context, items []T, jobID string) error {
	if len(items) == 0 {
		return nil
	}
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	key := Key[T](jobID)
	for _, it := range items {
		q.b.queues[key] = append(q.b.queues[key], it)
	}
	return nil
}

func (q *MemoryQ[T]) Dequeue(ctx context.Context, jobID string) (*T, error) {
	items := q.pop(1, jobID)
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (q *MemoryQ[T]) DequeueBatch(ctx context.Context, maxBatchSize int, jobID string) ([]T, error) {
	if err := validateBatchSize(maxBatchSize); err != nil {
		return nil, err
	}
	return q.pop(maxBatchSize, jobID), nil
}

func (q *MemoryQ[T]) pop(n int, jobID string) []T {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	key := Key[T](jobID)
	pending := q.b.queues[key]
	out := make([]T, 0, min(n, len(pending)))
	// items of another step type under the same key stay queued, in order
	var rest []any
	for i, v := range pending {
		if len(out) == n {
			rest = append(rest, pending[i:]...)
			break
		}
		if it, ok := v.(T); ok {
			out = append(out, it)
		} else {
			rest = append(rest, v)
		}
	}
	q.b.queues[key] = rest
	return out
}
