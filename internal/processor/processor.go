// Package processor implements the job-step processors and the glue a scheduler uses to
// drive them: a type-erased Binding per job and a Registry keyed by job type.
package processor

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/tagq/internal/domain"
)

// Processor handles batches of steps of type T for one job. Process must be safe to call
// concurrently for different batches and never returns an error: failures are reported in
// the result.
type Processor[T domain.Step] interface {
	Initialize(ctx context.Context, job domain.JobRecord) error
	Process(ctx context.Context, items []T) domain.JobProcessingResult
	TargetQueueLength(ctx context.Context) (int64, error)
}

// processEach runs fn for every item concurrently and combines the results. A panic in fn
// becomes a failure of that item; its stack goes to log.
func processEach[T any](ctx context.Context, log *zap.Logger, items []T, fn func(context.Context, T) domain.JobProcessingResult) domain.JobProcessingResult {
	results := make([]domain.JobProcessingResult, len(items))
	var g errgroup.Group
	for i, it := range items {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("item panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
					results[i] = domain.Failure(1, fmt.Sprintf("panic: %v", rec))
				}
			}()
			results[i] = fn(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
	return domain.Combine(results...)
}
