// Package engine decides, for one account at one instant, whether to post,
// what to post, and in what shape.
package engine

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/google/uuid"
)

// Outcome is the kind of decision produced.
type Outcome string

const (
	OutcomeSkip    Outcome = "skip"
	OutcomePublish Outcome = "publish"
	OutcomeError   Outcome = "error"
)

// Skip and error reasons.
const (
	ReasonDailyMax     = "daily-max-reached"
	ReasonOutsideHours = "outside-allowed-hours"
	ReasonSpacing      = "min-spacing-not-elapsed"
	ReasonNoCandidates = "no-candidates"
	ReasonNoEligible   = "no-eligible-candidates"
	ReasonCollaborator = "collaborator-unavailable"
	ReasonInvariant    = "invariant-violation"

	// AnnotationBehindQuota marks decisions made while the daily minimum
	// can no longer be reached in the remaining allowed hours.
	AnnotationBehindQuota = "behind-quota"
)

var (
	// ErrCollaborator wraps ledger and pool failures. The account can be
	// retried on a later run.
	ErrCollaborator = errors.New("collaborator unavailable")

	// ErrInvariant marks a decision that must never be published, such as a
	// candidate being consumed twice.
	ErrInvariant = errors.New("invariant violation")
)

// Post is one slot of a publish decision.
type Post struct {
	Position int            `json:"position"`
	Item     candidate.Item `json:"item"`
	Format   string         `json:"format"`
	Topic    string         `json:"topic"`
	HasLink  bool           `json:"has_link"`
	Weight   float64        `json:"weight"`
}

// Decision is the value produced by one Decide call.
type Decision struct {
	ID          uuid.UUID `json:"id"`
	AccountID   string    `json:"account_id"`
	DecidedAt   time.Time `json:"decided_at"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Annotations []string  `json:"annotations,omitempty"`
	Posts       []Post    `json:"posts,omitempty"`
	Err         error     `json:"-"`
}

// IsPublish reports whether the decision carries posts to publish.
func (d Decision) IsPublish() bool {
	return d.Outcome == OutcomePublish && len(d.Posts) > 0
}

// IsThread reports whether the decision is a multi-post thread.
func (d Decision) IsThread() bool {
	return len(d.Posts) > 1
}

// HasAnnotation reports whether the decision carries annotation a.
func (d Decision) HasAnnotation(a string) bool {
	for _, x := range d.Annotations {
		if x == a {
			return true
		}
	}
	return false
}

// decisionSpace is the UUID namespace decision IDs are derived in.
var decisionSpace = uuid.MustParse("6f1c2a7e-3b9d-4c4e-8a21-9d0e4b7f1c53")

// DecisionID derives the ID of a decision from the account, its seed and
// the chosen candidate IDs in post order. Repeating a decision over the
// same state in the same seed bucket yields the same ID.
func DecisionID(accountID string, seed uint64, postIDs []string) uuid.UUID {
	var b strings.Builder
	b.WriteString(accountID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(seed, 16))
	for _, id := range postIDs {
		b.WriteByte('|')
		b.WriteString(id)
	}
	return uuid.NewSHA1(decisionSpace, []byte(b.String()))
}

func newDecision(accountID string, now time.Time, seed uint64) Decision {
	return Decision{
		ID:        DecisionID(accountID, seed, nil),
		AccountID: accountID,
		DecidedAt: now,
	}
}

func (d Decision) skip(reason string) Decision {
	d.Outcome = OutcomeSkip
	d.Reason = reason
	return d
}

func (d Decision) fail(reason string, err error) Decision {
	d.Outcome = OutcomeError
	d.Reason = reason
	d.Err = err
	return d
}
