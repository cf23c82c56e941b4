package domain

// JobProcessingResult is the outcome of processing one batch (or one item) of steps.
type JobProcessingResult struct {
	ItemsFailed                  int64    `json:"ItemsFailed"`
	ItemsRequeued                int64    `json:"ItemsRequeued"`
	ItemsGeneratedForTargetQueue int64    `json:"ItemsGeneratedForTargetQueue"`
	FailureMessages              []string `json:"FailureMessages,omitempty"`
}

// Combine sums results field by field and concatenates their failure messages.
func Combine(results ...JobProcessingResult) JobProcessingResult {
	var out JobProcessingResult
	for _, r := range results {
		out.ItemsFailed += r.ItemsFailed
		out.ItemsRequeued += r.ItemsRequeued
		out.ItemsGeneratedForTargetQueue += r.ItemsGeneratedForTargetQueue
		out.FailureMessages = append(out.FailureMessages, r.FailureMessages...)
	}
	return out
}

func Failure(count int64, msg string) JobProcessingResult {
	return JobProcessingResult{ItemsFailed: count, FailureMessages: []string{msg}}
}

func Requeued(n int64) JobProcessingResult {
	return JobProcessingResult{ItemsRequeued: n}
}
