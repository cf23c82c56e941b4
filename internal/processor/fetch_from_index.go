package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/queue"
)

const (
	// MaxFetchSize caps the page size requested from the search index.
	MaxFetchSize                = 2500
	DefaultPushBatchSize        = 500
	DefaultScrollTimeoutSeconds = 60
)

// FetchFromIndex pages through a sliced scroll over the search index and turns every page
// into push batches plus one continuation step for the same slice.
type FetchFromIndex struct {
	scroll Scroller
	self   queue.Queue[domain.FetchFromIndexStep]
	push   queue.Queue[domain.HttpPushStep]
	log    *zap.Logger

	jobID         string
	tenantID      string
	targetJobID   string
	query         domain.SearchQuery
	sliceCount    int
	scrollTimeout int
	maxBatchSize  int
	fetchSize     int
}

func NewFetchFromIndex(scroll Scroller, self queue.Queue[domain.FetchFromIndexStep],
	push queue.Queue[domain.HttpPushStep], log *zap.Logger) *FetchFromIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &FetchFromIndex{scroll: scroll, self: self, push: push, log: log}
}

func (p *FetchFromIndex) Initialize(ctx context.Context, job domain.JobRecord) error {
	params, err := domain.DecodeParameters[domain.FetchFromIndexParameters](job)
	if err != nil {
		return err
	}
	p.jobID = job.JobID
	p.tenantID = job.TenantID
	p.targetJobID = params.TargetJobId
	p.query = params.Query

	p.sliceCount = params.SliceCount
	if p.sliceCount < 1 {
		p.sliceCount = 1
	}
	p.scrollTimeout = params.ScrollTimeoutSeconds
	if p.scrollTimeout <= 0 {
		p.scrollTimeout = DefaultScrollTimeoutSeconds
	}
	p.maxBatchSize = job.Configuration.MaxBatchSize
	if p.maxBatchSize <= 0 {
		p.maxBatchSize = DefaultPushBatchSize
	}
	if p.maxBatchSize > MaxFetchSize {
		p.maxBatchSize = MaxFetchSize
	}
	p.fetchSize = FetchSize(p.maxBatchSize)
	p.log = p.log.With(zap.String("job_id", job.JobID), zap.String("job_type", domain.JobTypeFetchFromIndex))
	return nil
}

// FetchSize is the largest multiple of maxBatchSize not above MaxFetchSize.
func FetchSize(maxBatchSize int) int {
	if maxBatchSize <= 0 || maxBatchSize > MaxFetchSize {
		return MaxFetchSize
	}
	return MaxFetchSize / maxBatchSize * maxBatchSize
}

func (p *FetchFromIndex) Process(ctx context.Context, items []domain.FetchFromIndexStep) domain.JobProcessingResult {
	return processEach(ctx, p.log, items, p.processStep)
}

func (p *FetchFromIndex) processStep(ctx context.Context, s domain.FetchFromIndexStep) domain.JobProcessingResult {
	var (
		page domain.ScrollPage
		err  error
	)
	if s.ScrollId == "" {
		page, err = p.scroll.StartScroll(ctx, p.tenantID, p.query, p.fetchSize, p.scrollTimeout, p.sliceCount, s.SliceId)
		if err != nil {
			return domain.Failure(1, fmt.Sprintf("start scroll for slice %d/%d (sequence %d): %v", s.SliceId, p.sliceCount, s.Sequence, err))
		}
	} else {
		page, err = p.scroll.ContinueScroll(ctx, s.ScrollId, p.scrollTimeout)
		if err != nil {
			return domain.Failure(1, fmt.Sprintf("continue scroll for slice %d/%d (sequence %d): %v", s.SliceId, p.sliceCount, s.Sequence, err))
		}
	}

	if page.ScrollId == "" {
		return domain.Failure(1, fmt.Sprintf("slice %d/%d (sequence %d): search index returned no scroll id", s.SliceId, p.sliceCount, s.Sequence))
	}
	if len(page.AccountIds) == 0 {
		if err := p.scroll.TerminateScroll(ctx, page.ScrollId); err != nil {
			p.log.Warn("terminate scroll failed", zap.Int("slice", s.SliceId), zap.Int("sequence", s.Sequence), zap.Error(err))
		}
		p.log.Info("slice exhausted", zap.Int("slice", s.SliceId), zap.Int("sequence", s.Sequence))
		return domain.JobProcessingResult{}
	}

	batches := pushBatches(page.AccountIds, p.maxBatchSize)
	if err := p.push.EnqueueBatch(ctx, batches, p.targetJobID); err != nil {
		return domain.Failure(1, fmt.Sprintf("slice %d/%d (sequence %d): enqueue %d push batches: %v", s.SliceId, p.sliceCount, s.Sequence, len(batches), err))
	}
	next := domain.FetchFromIndexStep{SliceId: s.SliceId, Sequence: s.Sequence + 1, ScrollId: page.ScrollId}
	if err := p.self.Enqueue(ctx, next, p.jobID); err != nil {
		return domain.JobProcessingResult{
			ItemsFailed:                  1,
			ItemsGeneratedForTargetQueue: int64(len(batches)),
			FailureMessages: []string{fmt.Sprintf("slice %d/%d (sequence %d): enqueue continuation: %v",
				s.SliceId, p.sliceCount, s.Sequence, err)},
		}
	}
	return domain.JobProcessingResult{ItemsGeneratedForTargetQueue: int64(len(batches)), ItemsRequeued: 1}
}

func pushBatches(ids []string, size int) []domain.HttpPushStep {
	out := make([]domain.HttpPushStep, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := make([]string, end-start)
		copy(batch, ids[start:end])
		out = append(out, domain.HttpPushStep{PushStepBase: domain.PushStepBase{AccountIds: batch}})
	}
	return out
}

func (p *FetchFromIndex) TargetQueueLength(ctx context.Context) (int64, error) {
	return p.push.Length(ctx, p.targetJobID)
}
