package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/domain"
	"github.com/SirClappington/tagq/internal/queue"
)

const DefaultPushTimeout = 30 * time.Second

// PushRecord is one element of a projected push payload.
type PushRecord struct {
	AccountId   string             `json:"AccountId"`
	TagWeights  map[string]float64 `json:"TagWeights,omitempty"`
	FieldValues map[string]string  `json:"FieldValues,omitempty"`
}

// HttpPush delivers batches of account ids to an HTTP endpoint. Each step gets
// MaxInstantRetries+1 back-to-back attempts; after that it is requeued with a delay until
// MaxDelayedRetries is used up.
type HttpPush struct {
	accounts AccountLoader
	self     queue.Queue[domain.HttpPushStep]
	log      *zap.Logger
	now      func() time.Time

	jobID      string
	tenantID   string
	params     domain.HttpPushParameters
	retryDelay time.Duration
	client     *retryablehttp.Client
}

func NewHttpPush(accounts AccountLoader, self queue.Queue[domain.HttpPushStep], log *zap.Logger) *HttpPush {
	if log == nil {
		log = zap.NewNop()
	}
	return &HttpPush{accounts: accounts, self: self, log: log, now: time.Now}
}

func (p *HttpPush) Initialize(ctx context.Context, job domain.JobRecord) error {
	params, err := domain.DecodeParameters[domain.HttpPushParameters](job)
	if err != nil {
		return err
	}
	if params.Url == "" {
		return errors.Errorf("job %s: push url is empty", job.JobID)
	}
	if params.Method == "" {
		params.Method = http.MethodPost
	}
	p.jobID = job.JobID
	p.tenantID = job.TenantID
	p.params = params
	p.retryDelay = time.Duration(params.RetryDelaySeconds) * time.Second
	p.log = p.log.With(zap.String("job_id", job.JobID), zap.String("job_type", domain.JobTypeHttpPush))

	timeout := DefaultPushTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	c.RetryMax = max(params.MaxInstantRetries, 0)
	c.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return 0 }
	c.CheckRetry = p.checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	p.client = c
	return nil
}

func (p *HttpPush) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return !p.delivered(resp.StatusCode), nil
}

func (p *HttpPush) delivered(status int) bool {
	return p.params.IgnoreHttpErrors || (status >= 200 && status < 300)
}

func (p *HttpPush) Process(ctx context.Context, items []domain.HttpPushStep) domain.JobProcessingResult {
	return processEach(ctx, p.log, items, p.processStep)
}

func (p *HttpPush) processStep(ctx context.Context, s domain.HttpPushStep) domain.JobProcessingResult {
	now := p.now()
	if s.LastAttemptTime != nil && now.Sub(*s.LastAttemptTime) < p.retryDelay {
		if err := p.self.Enqueue(ctx, s, p.jobID); err != nil {
			return domain.Failure(1, fmt.Sprintf("requeue push of %d accounts: %v", len(s.AccountIds), err))
		}
		return domain.Requeued(1)
	}

	body, err := p.payload(ctx, s.AccountIds)
	if err != nil {
		return domain.Failure(1, fmt.Sprintf("build payload for %d accounts: %v", len(s.AccountIds), err))
	}

	deliverErr := p.deliver(ctx, body)
	if deliverErr == nil {
		return domain.JobProcessingResult{}
	}

	s.NumberOfAttempts++
	s.LastAttemptTime = &now
	if s.NumberOfAttempts <= p.params.MaxDelayedRetries {
		p.log.Info("push failed, retrying later",
			zap.Int("attempts", s.NumberOfAttempts),
			zap.Int("accounts", len(s.AccountIds)),
			zap.Error(deliverErr))
		if err := p.self.Enqueue(ctx, s, p.jobID); err != nil {
			return domain.Failure(1, fmt.Sprintf("requeue push of %d accounts after %v: %v", len(s.AccountIds), deliverErr, err))
		}
		return domain.Requeued(1)
	}
	return domain.Failure(1, fmt.Sprintf("push of %d accounts to %s failed after %d attempts: %v",
		len(s.AccountIds), p.params.Url, s.NumberOfAttempts, deliverErr))
}

func (p *HttpPush) payload(ctx context.Context, ids []string) ([]byte, error) {
	if len(p.params.TagWeights) == 0 && len(p.params.FieldValues) == 0 {
		return json.Marshal(ids)
	}
	accounts, err := p.accounts.LoadAccounts(ctx, p.tenantID, ids)
	if err != nil {
		return nil, err
	}
	records := make([]PushRecord, 0, len(accounts))
	for _, a := range accounts {
		rec := PushRecord{AccountId: a.AccountId}
		if len(p.params.TagWeights) > 0 {
			rec.TagWeights = make(map[string]float64, len(p.params.TagWeights))
			for _, tag := range p.params.TagWeights {
				if w, ok := a.Tags[tag]; ok {
					rec.TagWeights[tag] = w
				}
			}
		}
		if len(p.params.FieldValues) > 0 {
			rec.FieldValues = make(map[string]string, len(p.params.FieldValues))
			for _, f := range p.params.FieldValues {
				if v, ok := a.Fields[f]; ok {
					rec.FieldValues[f] = v
				}
			}
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// deliver runs the instant attempts for one payload and returns the last failure.
func (p *HttpPush) deliver(ctx context.Context, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, p.params.Method, p.params.Url, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Push-Id", uuid.NewString())
	for k, v := range p.params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if p.delivered(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errors.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}

func (p *HttpPush) TargetQueueLength(ctx context.Context) (int64, error) { return 0, nil }
