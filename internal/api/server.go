// Package api is the admin HTTP surface: it creates reindex and export jobs, reports and
// purges job queues and upserts accounts.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/pipeline"
	"github.com/SirClappington/tagq/internal/storage"
)

const (
	defaultIndexingBatchSize = 100
	defaultFetchBatchSize    = 10
	defaultPushBatchSize     = 10
	maxSliceCount            = 64
)

type JobStore interface {
	InsertJob(ctx context.Context, j domain.JobRecord) (string, error)
	LoadJob(ctx context.Context, id string) (domain.JobRecord, error)
	SaveAccounts(ctx context.Context, accounts []domain.Account) error
}

// jobQueue is the part of queue.Queue that does not depend on the step type.
type jobQueue interface {
	Length(ctx context.Context, jobID string) (int64, error)
	Purge(ctx context.Context, jobID string) error
}

type Server struct {
	jobs   JobStore
	queues pipeline.Queues
	log    *zap.Logger
}

func New(jobs JobStore, queues pipeline.Queues, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{jobs: jobs, queues: queues, log: log}
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.logRequests)

	rtr.Post("/v1/tenants/{tenant}/reindex", s.createReindex)
	rtr.Post("/v1/tenants/{tenant}/exports", s.createExport)
	rtr.Put("/v1/tenants/{tenant}/accounts", s.putAccounts)
	rtr.Get("/v1/jobs/{id}", s.getJob)
	rtr.Delete("/v1/jobs/{id}/queue", s.purgeQueue)
	return rtr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		s.log.Info("request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(req.Context())))
	})
}

// reindexRequest tunes the two jobs. PageSize is how many account ids one range fetch reads.
type reindexRequest struct {
	PageSize          int `json:"pageSize"`
	FetchBatchSize    int `json:"fetchBatchSize"`
	IndexingBatchSize int `json:"indexingBatchSize"`
	Concurrency       int `json:"concurrency"`
}

type reindexResponse struct {
	IndexingJobId string `json:"indexingJobId"`
	FetchJobId    string `json:"fetchJobId"`
}

func (s *Server) createReindex(w http.ResponseWriter, req *http.Request) {
	tenant := chi.URLParam(req, "tenant")
	var body reindexRequest
	if !readOptionalJSON(w, req, &body) {
		return
	}
	ctx := req.Context()

	indexing := domain.JobRecord{
		JobID:    uuid.NewString(),
		TenantID: tenant,
		JobType:  domain.JobTypeAccountIndexing,
		Status:   domain.Running,
		Configuration: domain.JobConfiguration{
			BatchSize:   orDefault(body.IndexingBatchSize, defaultIndexingBatchSize),
			Concurrency: body.Concurrency,
		},
	}
	params, err := domain.EncodeParameters(domain.FetchForReindexParameters{
		TargetJobId: indexing.JobID,
		BatchSize:   body.PageSize,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	fetch := domain.JobRecord{
		JobID:    uuid.NewString(),
		TenantID: tenant,
		JobType:  domain.JobTypeFetchForReindex,
		Status:   domain.Running,
		Configuration: domain.JobConfiguration{
			BatchSize:   orDefault(body.FetchBatchSize, defaultFetchBatchSize),
			Concurrency: body.Concurrency,
			Parameters:  params,
		},
	}

	for _, j := range []domain.JobRecord{indexing, fetch} {
		if _, err := s.jobs.InsertJob(ctx, j); err != nil {
			s.fail(w, err)
			return
		}
	}
	if err := s.queues.Reindex.EnsureExists(ctx, fetch.JobID); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.queues.Reindex.Enqueue(ctx, domain.FetchForReindexStep{TenantId: tenant}, fetch.JobID); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("reindex started", zap.String("tenant_id", tenant),
		zap.String("fetch_job_id", fetch.JobID), zap.String("indexing_job_id", indexing.JobID))
	writeJSON(w, http.StatusAccepted, reindexResponse{IndexingJobId: indexing.JobID, FetchJobId: fetch.JobID})
}

type exportRequest struct {
	Query             domain.SearchQuery `json:"query"`
	SliceCount        int                `json:"sliceCount"`
	ScrollTimeout     int                `json:"scrollTimeoutSeconds"`
	Url               string             `json:"url"`
	Method            string             `json:"method"`
	Headers           map[string]string  `json:"headers"`
	TagWeights        []string           `json:"tagWeights"`
	FieldValues       []string           `json:"fieldValues"`
	MaxInstantRetries int                `json:"maxInstantRetries"`
	MaxDelayedRetries int                `json:"maxDelayedRetries"`
	RetryDelaySeconds int                `json:"retryDelaySeconds"`
	IgnoreHttpErrors  bool               `json:"ignoreHttpErrors"`
	TimeoutSeconds    int                `json:"timeoutSeconds"`
	PushBatchSize     int                `json:"pushBatchSize"`
	Concurrency       int                `json:"concurrency"`
}

type exportResponse struct {
	FetchJobId string `json:"fetchJobId"`
	PushJobId  string `json:"pushJobId"`
}

func (s *Server) createExport(w http.ResponseWriter, req *http.Request) {
	tenant := chi.URLParam(req, "tenant")
	var body exportRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	slices := orDefault(body.SliceCount, 1)
	if slices > maxSliceCount {
		writeError(w, http.StatusBadRequest, "sliceCount is too large")
		return
	}
	ctx := req.Context()

	pushParams, err := domain.EncodeParameters(domain.HttpPushParameters{
		Url:               body.Url,
		Method:            body.Method,
		Headers:           body.Headers,
		TagWeights:        body.TagWeights,
		FieldValues:       body.FieldValues,
		MaxInstantRetries: body.MaxInstantRetries,
		MaxDelayedRetries: body.MaxDelayedRetries,
		RetryDelaySeconds: body.RetryDelaySeconds,
		IgnoreHttpErrors:  body.IgnoreHttpErrors,
		TimeoutSeconds:    body.TimeoutSeconds,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	push := domain.JobRecord{
		JobID:    uuid.NewString(),
		TenantID: tenant,
		JobType:  domain.JobTypeHttpPush,
		Status:   domain.Running,
		Configuration: domain.JobConfiguration{
			BatchSize:   defaultPushBatchSize,
			Concurrency: body.Concurrency,
			Parameters:  pushParams,
		},
	}
	fetchParams, err := domain.EncodeParameters(domain.FetchFromIndexParameters{
		TargetJobId:          push.JobID,
		Query:                body.Query,
		SliceCount:           slices,
		ScrollTimeoutSeconds: body.ScrollTimeout,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	fetch := domain.JobRecord{
		JobID:    uuid.NewString(),
		TenantID: tenant,
		JobType:  domain.JobTypeFetchFromIndex,
		Status:   domain.Running,
		Configuration: domain.JobConfiguration{
			BatchSize:    slices,
			Concurrency:  body.Concurrency,
			MaxBatchSize: body.PushBatchSize,
			Parameters:   fetchParams,
		},
	}

	for _, j := range []domain.JobRecord{push, fetch} {
		if _, err := s.jobs.InsertJob(ctx, j); err != nil {
			s.fail(w, err)
			return
		}
	}
	steps := make([]domain.FetchFromIndexStep, slices)
	for i := range steps {
		steps[i] = domain.FetchFromIndexStep{SliceId: i}
	}
	if err := s.queues.Export.EnqueueBatch(ctx, steps, fetch.JobID); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("export started", zap.String("tenant_id", tenant),
		zap.String("fetch_job_id", fetch.JobID), zap.String("push_job_id", push.JobID), zap.Int("slices", slices))
	writeJSON(w, http.StatusAccepted, exportResponse{FetchJobId: fetch.JobID, PushJobId: push.JobID})
}

// putAccounts upserts the tenant's accounts. With ?index=<job id> the saved accounts are
// also queued for that indexing job.
func (s *Server) putAccounts(w http.ResponseWriter, req *http.Request) {
	tenant := chi.URLParam(req, "tenant")
	var accounts []domain.Account
	if err := json.NewDecoder(req.Body).Decode(&accounts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	for i := range accounts {
		if accounts[i].AccountId == "" {
			writeError(w, http.StatusBadRequest, "every account needs an AccountId")
			return
		}
		accounts[i].TenantId = tenant
	}
	ctx := req.Context()
	if err := s.jobs.SaveAccounts(ctx, accounts); err != nil {
		s.fail(w, err)
		return
	}

	queued := 0
	if jobID := req.URL.Query().Get("index"); jobID != "" && len(accounts) > 0 {
		steps := make([]domain.AccountIndexingStep, len(accounts))
		for i, a := range accounts {
			steps[i] = domain.AccountIndexingStep{TenantId: tenant, AccountId: a.AccountId}
		}
		if err := s.queues.Indexing.EnqueueBatch(ctx, steps, jobID); err != nil {
			s.fail(w, err)
			return
		}
		queued = len(steps)
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(accounts), "queued": queued})
}

type jobResponse struct {
	domain.JobRecord
	QueueLength int64 `json:"QueueLength"`
}

func (s *Server) getJob(w http.ResponseWriter, req *http.Request) {
	job, q, ok := s.loadJob(w, req)
	if !ok {
		return
	}
	n, err := q.Length(req.Context(), job.JobID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{JobRecord: job, QueueLength: n})
}

func (s *Server) purgeQueue(w http.ResponseWriter, req *http.Request) {
	job, q, ok := s.loadJob(w, req)
	if !ok {
		return
	}
	if err := q.Purge(req.Context(), job.JobID); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("queue purged", zap.String("job_id", job.JobID), zap.String("job_type", job.JobType))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadJob(w http.ResponseWriter, req *http.Request) (domain.JobRecord, jobQueue, bool) {
	job, err := s.jobs.LoadJob(req.Context(), chi.URLParam(req, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return job, nil, false
	}
	if err != nil {
		s.fail(w, err)
		return job, nil, false
	}
	q := s.queueFor(job.JobType)
	if q == nil {
		writeError(w, http.StatusConflict, "job type "+job.JobType+" has no queue")
		return job, nil, false
	}
	return job, q, true
}

// queueFor returns the queue a job of jobType consumes.
func (s *Server) queueFor(jobType string) jobQueue {
	switch jobType {
	case domain.JobTypeAccountIndexing:
		return s.queues.IndexingSource
	case domain.JobTypeFetchForReindex:
		return s.queues.Reindex
	case domain.JobTypeFetchFromIndex:
		return s.queues.Export
	case domain.JobTypeHttpPush:
		return s.queues.Push
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// readOptionalJSON decodes the body into v unless it is empty.
func readOptionalJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	if req.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
