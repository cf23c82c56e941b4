package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
)

// BatchProcessor is the part of a job processor an InlineQ needs.
type BatchProcessor[T domain.Step] interface {
	Process(ctx context.Context, items []T) domain.JobProcessingResult
}

// InlineQ stores nothing: enqueued steps are processed synchronously by the bound
// processor. It lets a multi-stage pipeline run without a scheduler.
type InlineQ[T domain.Step] struct {
	proc BatchProcessor[T]
	log  *zap.Logger
}

func NewInline[T domain.Step](proc BatchProcessor[T], log *zap.Logger) *InlineQ[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &InlineQ[T]{proc: proc, log: log}
}

func (q *InlineQ[T]) EnsureExists(ctx context.Context, jobID string) error { return nil }

func (q *InlineQ[T]) Length(ctx context.Context, jobID string) (int64, error) { return 0, nil }

func (q *InlineQ[T]) Purge(ctx context.Context, jobID string) error { return nil }

func (q *InlineQ[T]) Enqueue(ctx context.Context, item T, jobID string) error {
	return q.EnqueueBatch(ctx, []T{item}, jobID)
}

func (q *InlineQ[T]) EnqueueBatch(ctx context.Context, items []T, jobID string) error {
	if len(items) == 0 {
		return nil
	}
	res := q.proc.Process(ctx, items)
	if res.ItemsFailed > 0 {
		q.log.Warn("inline processing reported failures",
			zap.String("queue", Key[T](jobID)),
			zap.Int("items", len(items)),
			zap.Int64("failed", res.ItemsFailed),
			zap.Strings("messages", res.FailureMessages))
	}
	return nil
}

func (q *InlineQ[T]) Dequeue(ctx context.Context, jobID string) (*T, error) { return nil, nil }

func (q *InlineQ[T]) DequeueBatch(ctx context.Context, maxBatchSize int, jobID string) ([]T, error) {
	return nil, nil
}
