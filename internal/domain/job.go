package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	Created   Status = "created"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

const (
	JobTypeAccountIndexing = "account_indexing"
	JobTypeFetchForReindex = "fetch_for_reindex"
	JobTypeFetchFromIndex  = "fetch_from_index"
	JobTypeHttpPush        = "http_push"
)

// JobRecord is the persisted description of a job, read once when a processor is initialized.
type JobRecord struct {
	JobID         string
	TenantID      string
	JobType       string
	Status        Status
	Configuration JobConfiguration
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type JobConfiguration struct {
	BatchSize      int             `json:"BatchSize"`
	Concurrency    int             `json:"Concurrency"`
	ThrottleMillis int             `json:"ThrottleMillis,omitempty"`
	Indefinite     bool            `json:"Indefinite,omitempty"`
	ExpiresAt      *time.Time      `json:"ExpiresAt,omitempty"`
	MaxBatchSize   int             `json:"MaxBatchSize"`
	Parameters     json.RawMessage `json:"Parameters,omitempty"`
}

// Expired reports whether a non-indefinite job has passed its expiry time.
func (c JobConfiguration) Expired(now time.Time) bool {
	return !c.Indefinite && c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Parameters is implemented by the typed parameter block of every job kind.
type Parameters interface {
	JobType() string
}

type AccountIndexingParameters struct{}

func (AccountIndexingParameters) JobType() string { return JobTypeAccountIndexing }

type FetchForReindexParameters struct {
	TargetJobId string `json:"TargetJobId"`
	BatchSize   int    `json:"BatchSize,omitempty"`
}

func (FetchForReindexParameters) JobType() string { return JobTypeFetchForReindex }

type FetchFromIndexParameters struct {
	TargetJobId          string      `json:"TargetJobId"`
	Query                SearchQuery `json:"Query"`
	SliceCount           int         `json:"SliceCount"`
	ScrollTimeoutSeconds int         `json:"ScrollTimeoutSeconds,omitempty"`
}

func (FetchFromIndexParameters) JobType() string { return JobTypeFetchFromIndex }

type HttpPushParameters struct {
	Url               string            `json:"Url"`
	Method            string            `json:"Method,omitempty"`
	Headers           map[string]string `json:"Headers,omitempty"`
	TagWeights        []string          `json:"TagWeights,omitempty"`
	FieldValues       []string          `json:"FieldValues,omitempty"`
	MaxInstantRetries int               `json:"MaxInstantRetries"`
	MaxDelayedRetries int               `json:"MaxDelayedRetries"`
	RetryDelaySeconds int               `json:"RetryDelaySeconds"`
	IgnoreHttpErrors  bool              `json:"IgnoreHttpErrors,omitempty"`
	TimeoutSeconds    int               `json:"TimeoutSeconds,omitempty"`
}

func (HttpPushParameters) JobType() string { return JobTypeHttpPush }

// DecodeParameters deserializes the configuration blob of job into P. The job type
// must match the parameter kind.
func DecodeParameters[P Parameters](job JobRecord) (P, error) {
	var p P
	if job.JobType != "" && job.JobType != p.JobType() {
		return p, errors.Errorf("job %s has type %q, expected %q", job.JobID, job.JobType, p.JobType())
	}
	if len(job.Configuration.Parameters) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(job.Configuration.Parameters, &p); err != nil {
		return p, errors.Wrapf(err, "decode %s parameters of job %s", p.JobType(), job.JobID)
	}
	return p, nil
}

// EncodeParameters is the inverse of DecodeParameters, used when creating jobs.
func EncodeParameters(p Parameters) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s parameters", p.JobType())
	}
	return b, nil
}
