package processor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/queue"
)

var ErrUnknownJobType = errors.New("unknown job type")

// Binding ties a processor to the queue it consumes for a single job, hiding the step type
// from the scheduler.
type Binding interface {
	JobType() string
	JobID() string
	Initialize(ctx context.Context, job domain.JobRecord) error
	// RunBatch dequeues up to maxBatchSize steps and processes them. It returns the number
	// of steps dequeued; zero means the queue was empty.
	RunBatch(ctx context.Context, maxBatchSize int) (domain.JobProcessingResult, int, error)
	QueueLength(ctx context.Context) (int64, error)
	TargetQueueLength(ctx context.Context) (int64, error)
}

type binding[T domain.Step] struct {
	jobType string
	jobID   string
	q       queue.Queue[T]
	proc    Processor[T]
}

func Bind[T domain.Step](jobType string, q queue.Queue[T], proc Processor[T]) Binding {
	return &binding[T]{jobType: jobType, q: q, proc: proc}
}

func (b *binding[T]) JobType() string { return b.jobType }
func (b *binding[T]) JobID() string   { return b.jobID }

func (b *binding[T]) Initialize(ctx context.Context, job domain.JobRecord) error {
	if job.JobType != "" && job.JobType != b.jobType {
		return errors.Errorf("job %s has type %q, binding expects %q", job.JobID, job.JobType, b.jobType)
	}
	b.jobID = job.JobID
	if err := b.q.EnsureExists(ctx, b.jobID); err != nil {
		return errors.Wrapf(err, "ensure queue for job %s", b.jobID)
	}
	return b.proc.Initialize(ctx, job)
}

func (b *binding[T]) RunBatch(ctx context.Context, maxBatchSize int) (domain.JobProcessingResult, int, error) {
	items, err := b.q.DequeueBatch(ctx, maxBatchSize, b.jobID)
	if err != nil {
		return domain.JobProcessingResult{}, 0, errors.Wrapf(err, "dequeue job %s", b.jobID)
	}
	if len(items) == 0 {
		return domain.JobProcessingResult{}, 0, nil
	}
	return b.proc.Process(ctx, items), len(items), nil
}

func (b *binding[T]) QueueLength(ctx context.Context) (int64, error) {
	return b.q.Length(ctx, b.jobID)
}

func (b *binding[T]) TargetQueueLength(ctx context.Context) (int64, error) {
	return b.proc.TargetQueueLength(ctx)
}

// Factory builds a fresh, uninitialized binding for one job.
type Factory func() Binding

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(jobType string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[jobType]; exists {
		return errors.Errorf("factory already registered for job type %q", jobType)
	}
	r.factories[jobType] = f
	return nil
}

func (r *Registry) New(jobType string) (Binding, error) {
	r.mu.RLock()
	f, ok := r.factories[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownJobType, jobType)
	}
	return f(), nil
}

// ForJob builds and initializes the binding for job.
func (r *Registry) ForJob(ctx context.Context, job domain.JobRecord) (Binding, error) {
	b, err := r.New(job.JobType)
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(ctx, job); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}
