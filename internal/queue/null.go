package queue

import (
	"context"

	"github.com/SirClappington/tagq/internal/domain"
)

// NullQ discards everything. It switches a pipeline stage off without touching callers.
type NullQ[T domain.Step] struct{}

func NewNull[T domain.Step]() NullQ[T] { return NullQ[T]{} }

func (NullQ[T]) EnsureExists(context.Context, string) error             { return nil }
func (NullQ[T]) Length(context.Context, string) (int64, error)          { return 0, nil }
func (NullQ[T]) Purge(context.Context, string) error                    { return nil }
func (NullQ[T]) Enqueue(context.Context, T, string) error               { return nil }
func (NullQ[T]) EnqueueBatch(context.Context, []T, string) error        { return nil }
func (NullQ[T]) Dequeue(context.Context, string) (*T, error)            { return nil, nil }
func (NullQ[T]) DequeueBatch(context.Context, int, string) ([]T, error) { return nil, nil }
