// Package queue holds the job queue contract and its backends: Redis lists, an in-process
// broker, inline execution and a no-op queue.
package queue

import (
	"context"

	"github.com/pkg/errors"

	"github.com/SirClappington/tagq/internal/domain"
)

const MaxBatchSize = 10000

var ErrInvalidBatchSize = errors.New("batch size must be between 1 and 10000")

// Queue stores steps of type T per job. Dequeue operations never block: an empty queue
// yields nil (or an empty slice) and no error.
type Queue[T domain.Step] interface {
	EnsureExists(ctx context.Context, jobID string) error
	Length(ctx context.Context, jobID string) (int64, error)
	Purge(ctx context.Context, jobID string) error
	Enqueue(ctx context.Context, item T, jobID string) error
	EnqueueBatch(ctx context.Context, items []T, jobID string) error
	Dequeue(ctx context.Context, jobID string) (*T, error)
	DequeueBatch(ctx context.Context, maxBatchSize int, jobID string) ([]T, error)
}

// Key is the storage key of the queue for jobID, falling back to the step type name.
func Key[T domain.Step](jobID string) string {
	if jobID == "" {
		jobID = domain.StepTypeName[T]()
	}
	return "job_" + jobID
}

func validateBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return errors.Wrapf(ErrInvalidBatchSize, "got %d", n)
	}
	return nil
}
