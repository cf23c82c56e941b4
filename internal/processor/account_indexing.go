package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
)

// AccountIndexing loads accounts and writes their documents to the search index. It is the
// last stage of the reindex pipeline.
type AccountIndexing struct {
	accounts AccountLoader
	index    IndexWriter
	log      *zap.Logger
	now      func() time.Time

	jobID string
}

func NewAccountIndexing(accounts AccountLoader, index IndexWriter, log *zap.Logger) *AccountIndexing {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountIndexing{accounts: accounts, index: index, log: log, now: time.Now}
}

func (p *AccountIndexing) Initialize(ctx context.Context, job domain.JobRecord) error {
	if _, err := domain.DecodeParameters[domain.AccountIndexingParameters](job); err != nil {
		return err
	}
	p.jobID = job.JobID
	p.log = p.log.With(zap.String("job_id", job.JobID), zap.String("job_type", domain.JobTypeAccountIndexing))
	return nil
}

func (p *AccountIndexing) Process(ctx context.Context, items []domain.AccountIndexingStep) domain.JobProcessingResult {
	byTenant := make(map[string][]string)
	var tenants []string
	for _, it := range items {
		if _, ok := byTenant[it.TenantId]; !ok {
			tenants = append(tenants, it.TenantId)
		}
		byTenant[it.TenantId] = append(byTenant[it.TenantId], it.AccountId)
	}
	return processEach(ctx, p.log, tenants, func(ctx context.Context, tenant string) domain.JobProcessingResult {
		return p.indexTenant(ctx, tenant, byTenant[tenant])
	})
}

func (p *AccountIndexing) indexTenant(ctx context.Context, tenant string, ids []string) domain.JobProcessingResult {
	accounts, err := p.accounts.LoadAccounts(ctx, tenant, ids)
	if err != nil {
		return domain.Failure(int64(len(ids)), fmt.Sprintf("load %d accounts of tenant %s: %v", len(ids), tenant, err))
	}

	var res domain.JobProcessingResult
	found := make(map[string]bool, len(accounts))
	docs := make([]domain.AccountDocument, 0, len(accounts))
	now := p.now()
	for _, a := range accounts {
		found[a.AccountId] = true
		docs = append(docs, domain.NewAccountDocument(a, now))
	}
	for _, id := range ids {
		if !found[id] {
			res = domain.Combine(res, domain.Failure(1, fmt.Sprintf("account %s of tenant %s not found", id, tenant)))
		}
	}
	if len(docs) == 0 {
		return res
	}
	if err := p.index.Index(ctx, tenant, docs); err != nil {
		p.log.Warn("index write failed", zap.String("tenant", tenant), zap.Int("documents", len(docs)), zap.Error(err))
		return domain.Combine(res, domain.Failure(int64(len(docs)), fmt.Sprintf("index %d documents of tenant %s: %v", len(docs), tenant, err)))
	}
	return res
}

func (p *AccountIndexing) TargetQueueLength(ctx context.Context) (int64, error) { return 0, nil }
