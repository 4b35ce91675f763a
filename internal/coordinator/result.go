package coordinator

import (
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

// Outcome is what happened to one account during a run.
type Outcome string

const (
	OutcomePublished       Outcome = "published"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeError           Outcome = "error"
	OutcomeInvalidPolicy   Outcome = "invalid-policy"
	OutcomeLocked          Outcome = "locked"
	OutcomePublishFailed   Outcome = "publish-failed"
	OutcomePublishDisabled Outcome = "publish-disabled"
)

// Reasons the coordinator adds on top of the engine's.
const (
	ReasonAccountLocked   = "account-locked"
	ReasonLockUnavailable = "lock-unavailable"
	ReasonInvalidPolicy   = "invalid-policy"
	ReasonPublishFailed   = "publish-failed"
	ReasonPostingDisabled = "posting-disabled"
	ReasonLedgerAppend    = "ledger-append-failed"
	ReasonPanic           = "panic"
)

// AccountResult reports one account's part of a run.
type AccountResult struct {
	AccountID   string             `json:"account_id"`
	Outcome     Outcome            `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	DecisionID  string             `json:"decision_id,omitempty"`
	Posts       []string           `json:"posts,omitempty"`
	Retired     []string           `json:"retired,omitempty"` // candidates out of publish attempts
	Annotations []string           `json:"annotations,omitempty"`
	Error       string             `json:"error,omitempty"`
	Violations  []policy.Violation `json:"violations,omitempty"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Summary is the result of one run across all enabled accounts.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Results    []AccountResult `json:"results"`
}

// Counts tallies results by outcome.
func (s *Summary) Counts() map[Outcome]int {
	out := make(map[Outcome]int)
	for _, r := range s.Results {
		out[r.Outcome]++
	}
	return out
}

// Result returns the result for accountID, if present.
func (s *Summary) Result(accountID string) (AccountResult, bool) {
	for _, r := range s.Results {
		if r.AccountID == accountID {
			return r, true
		}
	}
	return AccountResult{}, false
}
