// Package runner drives the processors of running jobs: it polls, honours backpressure and
// runs a bounded number of batches per job per tick. It never changes a job's status.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/tagq/internal/config"
	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/processor"
	"github.com/SirClappington/tagq/internal/queue"
)

type JobSource interface {
	ListJobs(ctx context.Context, status domain.Status) ([]domain.JobRecord, error)
}

type Runner struct {
	jobs JobSource
	reg  *processor.Registry
	cfg  config.SchedulerConfig
	log  *zap.Logger
	now  func() time.Time

	// bindings and lastRun are only touched from the goroutine calling Tick.
	bindings map[string]processor.Binding
	lastRun  map[string]time.Time
}

func New(jobs JobSource, reg *processor.Registry, cfg config.SchedulerConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		jobs:     jobs,
		reg:      reg,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		bindings: make(map[string]processor.Binding),
		lastRun:  make(map[string]time.Time),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if _, err := r.Tick(ctx); err != nil {
				r.log.Warn("tick failed", zap.Error(err))
			}
		}
	}
}

// Tick gives every running job one round of batches and returns the combined result.
func (r *Runner) Tick(ctx context.Context) (domain.JobProcessingResult, error) {
	jobs, err := r.jobs.ListJobs(ctx, domain.Running)
	if err != nil {
		return domain.JobProcessingResult{}, err
	}

	var total domain.JobProcessingResult
	seen := make(map[string]bool, len(jobs))
	now := r.now()
	for _, job := range jobs {
		seen[job.JobID] = true
		if job.Configuration.Expired(now) {
			continue
		}
		if t := time.Duration(job.Configuration.ThrottleMillis) * time.Millisecond; t > 0 && now.Sub(r.lastRun[job.JobID]) < t {
			continue
		}
		b, err := r.binding(ctx, job)
		if err != nil {
			r.log.Error("job cannot be run", zap.String("job_id", job.JobID), zap.String("job_type", job.JobType), zap.Error(err))
			continue
		}
		r.lastRun[job.JobID] = now
		total = domain.Combine(total, r.runJob(ctx, job, b))
	}
	for id := range r.bindings {
		if !seen[id] {
			delete(r.bindings, id)
			delete(r.lastRun, id)
		}
	}
	return total, nil
}

func (r *Runner) binding(ctx context.Context, job domain.JobRecord) (processor.Binding, error) {
	if b, ok := r.bindings[job.JobID]; ok {
		return b, nil
	}
	b, err := r.reg.ForJob(ctx, job)
	if err != nil {
		return nil, err
	}
	r.bindings[job.JobID] = b
	return b, nil
}

func (r *Runner) runJob(ctx context.Context, job domain.JobRecord, b processor.Binding) domain.JobProcessingResult {
	log := r.log.With(zap.String("job_id", job.JobID), zap.String("job_type", job.JobType))

	depth, err := b.TargetQueueLength(ctx)
	if err != nil {
		log.Warn("target queue length unavailable", zap.Error(err))
		return domain.JobProcessingResult{}
	}
	if r.cfg.BackpressureThreshold > 0 && depth >= r.cfg.BackpressureThreshold {
		log.Debug("target queue saturated, skipping", zap.Int64("depth", depth))
		return domain.JobProcessingResult{}
	}

	batchSize := job.Configuration.BatchSize
	if batchSize <= 0 {
		batchSize = r.cfg.DefaultBatchSize
	}
	batchSize = min(max(batchSize, 1), queue.MaxBatchSize)
	slots := job.Configuration.Concurrency
	if slots <= 0 {
		slots = r.cfg.DefaultConcurrency
	}
	slots = max(slots, 1)

	results := make([]domain.JobProcessingResult, slots)
	counts := make([]int, slots)
	var g errgroup.Group
	for i := 0; i < slots; i++ {
		g.Go(func() error {
			res, n, err := b.RunBatch(ctx, batchSize)
			results[i], counts[i] = res, n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("batch failed", zap.Error(err))
	}

	res := domain.Combine(results...)
	processed := 0
	for _, n := range counts {
		processed += n
	}
	if processed > 0 {
		log.Info("batches processed",
			zap.Int("items", processed),
			zap.Int64("failed", res.ItemsFailed),
			zap.Int64("requeued", res.ItemsRequeued),
			zap.Int64("generated", res.ItemsGeneratedForTargetQueue))
	}
	for _, msg := range res.FailureMessages {
		log.Warn("item failed", zap.String("message", msg))
	}
	return res
}
