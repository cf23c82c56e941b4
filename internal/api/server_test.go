package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/tagq/internal/config"
	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/pipeline"
	"github.com/SirClappington/tagq/internal/storage"
)

type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[string]domain.JobRecord
	accounts []domain.Account
	saveErr  error
}

func (f *fakeJobs) InsertJob(ctx context.Context, j domain.JobRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.JobID] = j
	return j.JobID, nil
}

func (f *fakeJobs) LoadJob(ctx context.Context, id string) (domain.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return j, errors.Wrapf(storage.ErrNotFound, "job %s", id)
	}
	return j, nil
}

func (f *fakeJobs) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.accounts = append(f.accounts, accounts...)
	return nil
}

func newServer(t *testing.T) (*httptest.Server, *fakeJobs, pipeline.Queues) {
	t.Helper()
	jobs := &fakeJobs{jobs: make(map[string]domain.JobRecord)}
	qs := pipeline.NewQueues(pipeline.Deps{
		Queues: config.QueueConfig{Backend: config.BackendMemory, IndexingBackend: config.BackendMemory},
	})
	srv := httptest.NewServer(New(jobs, qs, zaptest.NewLogger(t)).Routes())
	t.Cleanup(srv.Close)
	return srv, jobs, qs
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCreateReindex(t *testing.T) {
	srv, jobs, qs := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/tenants/t1/reindex", `{"pageSize":250}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out reindexResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	fetch := jobs.jobs[out.FetchJobId]
	assert.Equal(t, domain.JobTypeFetchForReindex, fetch.JobType)
	assert.Equal(t, domain.Running, fetch.Status)
	params, err := domain.DecodeParameters[domain.FetchForReindexParameters](fetch)
	require.NoError(t, err)
	assert.Equal(t, out.IndexingJobId, params.TargetJobId)
	assert.Equal(t, 250, params.BatchSize)
	assert.Equal(t, domain.JobTypeAccountIndexing, jobs.jobs[out.IndexingJobId].JobType)

	root, err := qs.Reindex.Dequeue(context.Background(), out.FetchJobId)
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, domain.FetchForReindexStep{TenantId: "t1"}, *root)
}

func TestCreateReindexWithoutBody(t *testing.T) {
	srv, _, _ := newServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/v1/tenants/t1/reindex", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateReindexChunkedEmptyBody(t *testing.T) {
	srv, _, _ := newServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/tenants/t1/reindex", struct{ io.Reader }{strings.NewReader("")})
	require.NoError(t, err)
	req.ContentLength = -1
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateExport(t *testing.T) {
	srv, jobs, qs := newServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/tenants/t1/exports",
		`{"query":{"Tags":["vip"]},"sliceCount":3,"url":"http://sink.test/accounts","maxInstantRetries":2}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out exportResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	fp, err := domain.DecodeParameters[domain.FetchFromIndexParameters](jobs.jobs[out.FetchJobId])
	require.NoError(t, err)
	assert.Equal(t, out.PushJobId, fp.TargetJobId)
	assert.Equal(t, []string{"vip"}, fp.Query.Tags)

	pp, err := domain.DecodeParameters[domain.HttpPushParameters](jobs.jobs[out.PushJobId])
	require.NoError(t, err)
	assert.Equal(t, "http://sink.test/accounts", pp.Url)
	assert.Equal(t, 2, pp.MaxInstantRetries)

	steps, err := qs.Export.DequeueBatch(context.Background(), 10, out.FetchJobId)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	var slices []int
	for _, s := range steps {
		slices = append(slices, s.SliceId)
		assert.Zero(t, s.Sequence)
		assert.Empty(t, s.ScrollId)
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, slices)
}

func TestCreateExportValidation(t *testing.T) {
	srv, jobs, _ := newServer(t)
	for name, body := range map[string]string{
		"missing url":     `{"sliceCount":1}`,
		"too many slices": `{"url":"http://x","sliceCount":1000}`,
		"bad json":        `{`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/v1/tenants/t1/exports", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, jobs.jobs)
}

func TestJobQueueLengthAndPurge(t *testing.T) {
	srv, jobs, qs := newServer(t)
	ctx := context.Background()
	jobs.jobs["push"] = domain.JobRecord{JobID: "push", JobType: domain.JobTypeHttpPush, Status: domain.Running}
	require.NoError(t, qs.Push.EnqueueBatch(ctx, []domain.HttpPushStep{
		{PushStepBase: domain.PushStepBase{AccountIds: []string{"a"}}},
		{PushStepBase: domain.PushStepBase{AccountIds: []string{"b"}}},
	}, "push"))

	resp := do(t, http.MethodGet, srv.URL+"/v1/jobs/push", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got jobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(2), got.QueueLength)
	assert.Equal(t, domain.JobTypeHttpPush, got.JobType)

	resp = do(t, http.MethodDelete, srv.URL+"/v1/jobs/push/queue", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	n, err := qs.Push.Length(ctx, "push")
	require.NoError(t, err)
	assert.Zero(t, n)

	resp = do(t, http.MethodGet, srv.URL+"/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutAccounts(t *testing.T) {
	srv, jobs, qs := newServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/v1/tenants/t1/accounts?index=idx",
		`[{"AccountId":"a1","Tags":{"vip":1}},{"AccountId":"a2","TenantId":"other"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, map[string]int{"saved": 2, "queued": 2}, out)

	require.Len(t, jobs.accounts, 2)
	for _, a := range jobs.accounts {
		assert.Equal(t, "t1", a.TenantId)
	}
	n, err := qs.IndexingSource.Length(context.Background(), "idx")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	resp = do(t, http.MethodPut, srv.URL+"/v1/tenants/t1/accounts", `[{"Tags":{}}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	jobs.saveErr = errors.New("db down")
	resp = do(t, http.MethodPut, srv.URL+"/v1/tenants/t1/accounts", `[{"AccountId":"a3"}]`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
