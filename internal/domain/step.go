package domain

import "time"

// Step is one unit of work sitting in a job queue. Steps are plain values; a requeue
// always enqueues an updated copy.
type Step interface {
	StepType() string
}

// StepTypeName is the queue name used for T when no job id is given.
func StepTypeName[T Step]() string {
	var zero T
	return zero.StepType()
}

type AccountIndexingStep struct {
	TenantId  string `json:"TenantId"`
	AccountId string `json:"AccountId"`
}

func (AccountIndexingStep) StepType() string { return "AccountIndexingStep" }

// FetchForReindexStep covers the half-open account id range (RangeStart, RangeEnd].
// An empty RangeStart is unbounded below and an empty RangeEnd is unbounded above.
type FetchForReindexStep struct {
	TenantId      string `json:"TenantId"`
	RangeStart    string `json:"RangeStart,omitempty"`
	RangeEnd      string `json:"RangeEnd,omitempty"`
	LastAccountId string `json:"LastAccountId,omitempty"`
}

func (FetchForReindexStep) StepType() string { return "FetchForReindexStep" }

type FetchFromIndexStep struct {
	SliceId  int    `json:"SliceId"`
	Sequence int    `json:"Sequence"`
	ScrollId string `json:"ScrollId,omitempty"`
}

func (FetchFromIndexStep) StepType() string { return "FetchFromIndexStep" }

type PushStepBase struct {
	AccountIds []string `json:"AccountIds"`
}

type HttpPushStep struct {
	PushStepBase
	NumberOfAttempts int        `json:"NumberOfAttempts"`
	LastAttemptTime  *time.Time `json:"LastAttemptTime,omitempty"`
}

func (HttpPushStep) StepType() string { return "HttpPushStep" }
