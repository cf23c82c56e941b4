package processor

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/queue"
)

type reindexFixture struct {
	accounts *fakeAccounts
	self     *queue.MemoryQ[domain.FetchForReindexStep]
	target   *queue.MemoryQ[domain.AccountIndexingStep]
	proc     *FetchForReindex
}

func newReindexFixture(t *testing.T, batchSize int) *reindexFixture {
	t.Helper()
	b := queue.NewBroker()
	f := &reindexFixture{
		accounts: newFakeAccounts(),
		self:     queue.NewMemory[domain.FetchForReindexStep](b),
		target:   queue.NewMemory[domain.AccountIndexingStep](b),
	}
	f.proc = NewFetchForReindex(f.accounts, f.self, f.target, rand.New(rand.NewPCG(7, 11)), zaptest.NewLogger(t))
	params, err := domain.EncodeParameters(domain.FetchForReindexParameters{TargetJobId: "index", BatchSize: batchSize})
	require.NoError(t, err)
	require.NoError(t, f.proc.Initialize(context.Background(), domain.JobRecord{
		JobID:         "fetch",
		TenantID:      "t1",
		JobType:       domain.JobTypeFetchForReindex,
		Configuration: domain.JobConfiguration{Parameters: params},
	}))
	return f
}

// drain runs the fetch queue to exhaustion the way a scheduler would.
func (f *reindexFixture) drain(t *testing.T) domain.JobProcessingResult {
	t.Helper()
	ctx := context.Background()
	var total domain.JobProcessingResult
	for i := 0; ; i++ {
		require.Less(t, i, 100000, "reindex did not terminate")
		batch, err := f.self.DequeueBatch(ctx, 50, "fetch")
		require.NoError(t, err)
		if len(batch) == 0 {
			return total
		}
		total = domain.Combine(total, f.proc.Process(ctx, batch))
	}
}

func (f *reindexFixture) emitted(t *testing.T) []string {
	t.Helper()
	var ids []string
	for {
		batch, err := f.target.DequeueBatch(context.Background(), queue.MaxBatchSize, "index")
		require.NoError(t, err)
		if len(batch) == 0 {
			return ids
		}
		for _, s := range batch {
			assert.Equal(t, "t1", s.TenantId)
			ids = append(ids, s.AccountId)
		}
	}
}

func randomIDs(n int) []string {
	const charset = "abcmxyzAMQZ0159-_.~:"
	rng := rand.New(rand.NewPCG(1, 2))
	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for len(out) < n {
		b := make([]byte, 1+rng.IntN(7))
		for i := range b {
			b[i] = charset[rng.IntN(len(charset))]
		}
		if id := string(b); !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func TestFetchForReindexVisitsEveryAccountOnce(t *testing.T) {
	f := newReindexFixture(t, 20)
	ids := randomIDs(3000)
	f.accounts.add("t1", ids...)
	f.accounts.add("t2", "other-tenant")

	require.NoError(t, f.self.Enqueue(context.Background(), domain.FetchForReindexStep{TenantId: "t1"}, "fetch"))
	total := f.drain(t)

	assert.Zero(t, total.ItemsFailed)
	assert.Equal(t, int64(len(ids)), total.ItemsGeneratedForTargetQueue)
	assert.Positive(t, total.ItemsRequeued)

	counts := make(map[string]int)
	for _, id := range f.emitted(t) {
		counts[id]++
	}
	assert.Len(t, counts, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, counts[id], "account %q", id)
	}
}

func TestFetchForReindexExhaustedRange(t *testing.T) {
	f := newReindexFixture(t, 10)
	f.accounts.add("t1", "a", "b", "c")

	res := f.proc.Process(context.Background(), []domain.FetchForReindexStep{{TenantId: "t1"}})
	assert.Equal(t, int64(3), res.ItemsGeneratedForTargetQueue)
	assert.Zero(t, res.ItemsRequeued)

	n, err := f.self.Length(context.Background(), "fetch")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFetchForReindexLeafRangeResumes(t *testing.T) {
	f := newReindexFixture(t, 2)
	f.accounts.add("t1", "a0", "a00", "a01", "a02")

	step := domain.FetchForReindexStep{TenantId: "t1", RangeStart: "a", RangeEnd: "a0"}
	res := f.proc.Process(context.Background(), []domain.FetchForReindexStep{step})
	assert.Equal(t, int64(1), res.ItemsGeneratedForTargetQueue)
	assert.Zero(t, res.ItemsRequeued)

	f.accounts.add("t1", "a-", "a.")
	res = f.proc.Process(context.Background(), []domain.FetchForReindexStep{step})
	assert.Equal(t, int64(2), res.ItemsGeneratedForTargetQueue)
	assert.Equal(t, int64(1), res.ItemsRequeued)

	next, err := f.self.Dequeue(context.Background(), "fetch")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, domain.FetchForReindexStep{TenantId: "t1", RangeStart: "a", RangeEnd: "a0", LastAccountId: "a."}, *next)
}

func TestFetchForReindexSubdividesFullRange(t *testing.T) {
	f := newReindexFixture(t, 3)
	f.accounts.add("t1", "b1", "b2", "b3", "c1", "z9")

	res := f.proc.Process(context.Background(), []domain.FetchForReindexStep{{TenantId: "t1"}})
	assert.Equal(t, int64(3), res.ItemsGeneratedForTargetQueue)

	n, err := f.self.Length(context.Background(), "fetch")
	require.NoError(t, err)
	assert.Equal(t, res.ItemsRequeued, n)

	requeued, err := f.self.DequeueBatch(context.Background(), 100, "fetch")
	require.NoError(t, err)
	for _, r := range requeued {
		if r.RangeEnd != "" {
			assert.Greater(t, r.RangeEnd, "b3")
		}
	}
}

func TestFetchForReindexResumptionSkipsEmitted(t *testing.T) {
	f := newReindexFixture(t, 5)
	ids := randomIDs(400)
	f.accounts.add("t1", ids...)

	const last = "m"
	require.NoError(t, f.self.Enqueue(context.Background(), domain.FetchForReindexStep{TenantId: "t1", LastAccountId: last}, "fetch"))
	f.drain(t)

	want := 0
	for _, id := range ids {
		if id > last {
			want++
		}
	}
	got := f.emitted(t)
	assert.Len(t, got, want)
	for _, id := range got {
		assert.Greater(t, id, last)
	}
}

func TestFetchForReindexFetchFailure(t *testing.T) {
	f := newReindexFixture(t, 5)
	f.accounts.fetchErr = errors.New("connection reset")

	res := f.proc.Process(context.Background(), []domain.FetchForReindexStep{
		{TenantId: "t1"},
		{TenantId: "t1", RangeStart: "a", RangeEnd: "c"},
	})
	assert.Equal(t, int64(2), res.ItemsFailed)
	require.Len(t, res.FailureMessages, 2)
	assert.Contains(t, res.FailureMessages[0], "connection reset")
}

func TestFetchForReindexTargetQueueLength(t *testing.T) {
	f := newReindexFixture(t, 5)
	f.accounts.add("t1", "a", "b")
	f.proc.Process(context.Background(), []domain.FetchForReindexStep{{TenantId: "t1"}})

	n, err := f.proc.TargetQueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFetchForReindexPrefixStaysBounded(t *testing.T) {
	f := newReindexFixture(t, 7)
	// ids crowded above the last boundary character
	var ids []string
	for _, a := range []byte("z~\x80") {
		for _, b := range []byte("bdfz~") {
			for _, c := range []byte("hjlnz") {
				for _, d := range []byte("prtvz") {
					ids = append(ids, string([]byte{a, b, c, d}))
				}
			}
		}
	}
	f.accounts.add("t1", ids...)

	ctx := context.Background()
	require.NoError(t, f.self.Enqueue(ctx, domain.FetchForReindexStep{TenantId: "t1"}, "fetch"))
	for i := 0; ; i++ {
		require.Less(t, i, 100000, "reindex did not terminate")
		batch, err := f.self.DequeueBatch(ctx, 50, "fetch")
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, s := range batch {
			assert.LessOrEqual(t, len(s.RangeStart), 4, "range start %q", s.RangeStart)
		}
		f.proc.Process(ctx, batch)
	}

	counts := make(map[string]int)
	for _, id := range f.emitted(t) {
		counts[id]++
	}
	assert.Len(t, counts, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, counts[id], "account %q", id)
	}
}

func TestFetchForReindexResumesParentWhenOnlyTopRangeRemains(t *testing.T) {
	f := newReindexFixture(t, 2)
	f.accounts.add("t1", "~a", "~b", "~c")

	res := f.proc.Process(context.Background(), []domain.FetchForReindexStep{{TenantId: "t1"}})
	assert.Equal(t, int64(2), res.ItemsGeneratedForTargetQueue)
	assert.Equal(t, int64(1), res.ItemsRequeued)

	next, err := f.self.Dequeue(context.Background(), "fetch")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, domain.FetchForReindexStep{TenantId: "t1", LastAccountId: "~b"}, *next)
}
