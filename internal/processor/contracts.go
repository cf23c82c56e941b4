package processor

import (
	"context"

	"github.com/SirClappington/tagq/internal/domain"
)

// AccountLoader loads account records. Accounts that do not exist are absent from the
// LoadAccounts result.
type AccountLoader interface {
	LoadAccount(ctx context.Context, tenant, id string) (*domain.Account, error)
	LoadAccounts(ctx context.Context, tenant string, ids []string) ([]domain.Account, error)
}

// AccountIDFetcher lists account ids in ascending byte order between two bounds. An empty
// bound is unbounded.
type AccountIDFetcher interface {
	FetchAccountIDs(ctx context.Context, batchSize int, tenant string,
		lower string, lowerInclusive bool, upper string, upperInclusive bool) ([]string, error)
}

type IndexWriter interface {
	Index(ctx context.Context, tenant string, docs []domain.AccountDocument) error
}

type Scroller interface {
	StartScroll(ctx context.Context, tenant string, query domain.SearchQuery,
		pageSize, timeoutSeconds, sliceCount, sliceID int) (domain.ScrollPage, error)
	ContinueScroll(ctx context.Context, scrollID string, timeoutSeconds int) (domain.ScrollPage, error)
	TerminateScroll(ctx context.Context, scrollID string) error
}
