package checkin

import (
	"time"

	"checkind-backend/lib/providers"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the final result of processing one account. It is built
// once by an adapter (or the orchestrator, for accounts that never
// reached an adapter) and never mutated; retries happen before an
// Outcome exists.
type Outcome struct {
	Account    string               `json:"account"`
	Provider   string               `json:"provider"`
	Status     Status               `json:"status"`
	Detail     string               `json:"detail"`
	AuthMethod providers.AuthMethod `json:"auth_method,omitempty"`
	Attempts   int                  `json:"attempts"`
	Time       time.Time            `json:"time"`
}

// Report is one run's aggregate: outcomes in configuration order plus
// run-level metadata. Owned by the orchestrator, handed read-only to
// notifiers.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

type Counts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (r *Report) Counts() Counts {
	var c Counts
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSuccess:
			c.Success++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}
