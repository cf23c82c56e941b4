package processor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/queue"
)

const DefaultReindexBatchSize = 500

// FetchForReindex walks a tenant's account id keyspace and emits one AccountIndexingStep per
// account. Ranges that fill a whole batch are split into sub-ranges, or resumed after the
// last id once they are too narrow to split.
type FetchForReindex struct {
	ids    AccountIDFetcher
	self   queue.Queue[domain.FetchForReindexStep]
	target queue.Queue[domain.AccountIndexingStep]
	log    *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	jobID       string
	targetJobID string
	batchSize   int
}

func NewFetchForReindex(ids AccountIDFetcher, self queue.Queue[domain.FetchForReindexStep],
	target queue.Queue[domain.AccountIndexingStep], rng *rand.Rand, log *zap.Logger) *FetchForReindex {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FetchForReindex{ids: ids, self: self, target: target, rng: rng, log: log, batchSize: DefaultReindexBatchSize}
}

func (p *FetchForReindex) Initialize(ctx context.Context, job domain.JobRecord) error {
	params, err := domain.DecodeParameters[domain.FetchForReindexParameters](job)
	if err != nil {
		return err
	}
	p.jobID = job.JobID
	p.targetJobID = params.TargetJobId
	if params.BatchSize > 0 {
		p.batchSize = params.BatchSize
	}
	p.log = p.log.With(zap.String("job_id", job.JobID), zap.String("job_type", domain.JobTypeFetchForReindex))
	return nil
}

func (p *FetchForReindex) Process(ctx context.Context, items []domain.FetchForReindexStep) domain.JobProcessingResult {
	return processEach(ctx, p.log, items, p.processStep)
}

func (p *FetchForReindex) processStep(ctx context.Context, s domain.FetchForReindexStep) domain.JobProcessingResult {
	lower := s.LastAccountId
	if lower == "" {
		lower = s.RangeStart
	}
	ids, err := p.ids.FetchAccountIDs(ctx, p.batchSize, s.TenantId, lower, false, s.RangeEnd, true)
	if err != nil {
		return domain.Failure(1, fmt.Sprintf("fetch account ids of tenant %s in (%q, %q] after %q: %v",
			s.TenantId, s.RangeStart, s.RangeEnd, s.LastAccountId, err))
	}

	var res domain.JobProcessingResult
	if len(ids) > 0 {
		out := make([]domain.AccountIndexingStep, len(ids))
		for i, id := range ids {
			out[i] = domain.AccountIndexingStep{TenantId: s.TenantId, AccountId: id}
		}
		if err := p.target.EnqueueBatch(ctx, out, p.targetJobID); err != nil {
			return domain.Failure(1, fmt.Sprintf("enqueue %d indexing steps for tenant %s: %v", len(out), s.TenantId, err))
		}
		res.ItemsGeneratedForTargetQueue = int64(len(ids))
	}
	if len(ids) < p.batchSize {
		return res
	}

	last := ids[len(ids)-1]
	var next []domain.FetchForReindexStep
	if IsLeafRange(s) {
		s.LastAccountId = last
		next = []domain.FetchForReindexStep{s}
	} else {
		next = Subdivide(s, last)
		if len(next) == 1 && next[0].LastAccountId != "" {
			// only the top sub-range is left; resume the parent instead of lengthening the prefix
			s.LastAccountId = last
			next = []domain.FetchForReindexStep{s}
		}
		p.shuffle(next)
	}
	if err := p.self.EnqueueBatch(ctx, next, p.jobID); err != nil {
		return domain.Combine(res, domain.Failure(1, fmt.Sprintf("requeue %d ranges of tenant %s after %q: %v",
			len(next), s.TenantId, last, err)))
	}
	p.log.Debug("range continued",
		zap.String("range_start", s.RangeStart),
		zap.String("range_end", s.RangeEnd),
		zap.String("last_account_id", last),
		zap.Int("ranges", len(next)))
	res.ItemsRequeued = int64(len(next))
	return res
}

// shuffle orders sub-ranges randomly before they are requeued.
func (p *FetchForReindex) shuffle(steps []domain.FetchForReindexStep) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	p.rng.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })
}

func (p *FetchForReindex) TargetQueueLength(ctx context.Context) (int64, error) {
	return p.target.Length(ctx, p.targetJobID)
}
