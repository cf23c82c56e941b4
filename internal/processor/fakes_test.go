package processor

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/SirClappington/tagq/internal/domain"
)

// fakeAccounts is an in-memory account store ordered by byte comparison of ids.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]map[string]domain.Account
	fetchErr error
	loadErr  error
	fetches  int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]map[string]domain.Account)}
}

func (f *fakeAccounts) add(tenant string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accounts[tenant] == nil {
		f.accounts[tenant] = make(map[string]domain.Account)
	}
	for _, id := range ids {
		f.accounts[tenant][id] = domain.Account{TenantId: tenant, AccountId: id}
	}
}

func (f *fakeAccounts) put(a domain.Account) {
	f.add(a.TenantId)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.TenantId][a.AccountId] = a
}

func (f *fakeAccounts) LoadAccount(ctx context.Context, tenant, id string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[tenant][id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &a, nil
}

func (f *fakeAccounts) LoadAccounts(ctx context.Context, tenant string, ids []string) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []domain.Account
	for _, id := range ids {
		if a, ok := f.accounts[tenant][id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) FetchAccountIDs(ctx context.Context, batchSize int, tenant string,
	lower string, lowerInclusive bool, upper string, upperInclusive bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	ids := make([]string, 0, len(f.accounts[tenant]))
	for id := range f.accounts[tenant] {
		if lower != "" && (id < lower || (id == lower && !lowerInclusive)) {
			continue
		}
		if upper != "" && (id > upper || (id == upper && !upperInclusive)) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > batchSize {
		ids = ids[:batchSize]
	}
	return ids, nil
}

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string][]domain.AccountDocument
	err  error
}

func (f *fakeIndex) Index(ctx context.Context, tenant string, docs []domain.AccountDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.docs == nil {
		f.docs = make(map[string][]domain.AccountDocument)
	}
	f.docs[tenant] = append(f.docs[tenant], docs...)
	return nil
}

type startCall struct {
	tenant                             string
	pageSize, timeout, slices, sliceID int
}

// fakeScroller serves pre-baked pages per scroll id.
type fakeScroller struct {
	mu         sync.Mutex
	pages      map[string][]domain.ScrollPage
	startPage  domain.ScrollPage
	startErr   error
	continueEr error
	starts     []startCall
	terminated []string
}

func (f *fakeScroller) StartScroll(ctx context.Context, tenant string, query domain.SearchQuery,
	pageSize, timeoutSeconds, sliceCount, sliceID int) (domain.ScrollPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{tenant, pageSize, timeoutSeconds, sliceCount, sliceID})
	return f.startPage, f.startErr
}

func (f *fakeScroller) ContinueScroll(ctx context.Context, scrollID string, timeoutSeconds int) (domain.ScrollPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.continueEr != nil {
		return domain.ScrollPage{}, f.continueEr
	}
	pages := f.pages[scrollID]
	if len(pages) == 0 {
		return domain.ScrollPage{ScrollId: scrollID}, nil
	}
	f.pages[scrollID] = pages[1:]
	return pages[0], nil
}

func (f *fakeScroller) TerminateScroll(ctx context.Context, scrollID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, scrollID)
	return nil
}
