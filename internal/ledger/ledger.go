// Package ledger records realized posts per account. Entries are only ever
// appended.
package ledger

import (
	"context"
	"time"
)

// Entry is one realized post or thread.
type Entry struct {
	AccountID    string    `json:"account_id"`
	PublishedAt  time.Time `json:"published_at"`
	Format       string    `json:"format"`
	Topic        string    `json:"topic"`
	HasLink      bool      `json:"has_link"`
	ThreadLength int       `json:"thread_length"`
	DecisionID   string    `json:"decision_id"`
}

// LabelCounts holds how often each format and topic label was used.
type LabelCounts struct {
	Formats map[string]int `json:"formats"`
	Topics  map[string]int `json:"topics"`
}

// NewLabelCounts returns empty, non-nil counts.
func NewLabelCounts() LabelCounts {
	return LabelCounts{Formats: map[string]int{}, Topics: map[string]int{}}
}

// Add counts one entry.
func (c LabelCounts) Add(e Entry) {
	c.Formats[e.Format]++
	c.Topics[e.Topic]++
}

// Ledger is the query and append contract over an account's posting history.
type Ledger interface {
	// CountSince returns the number of entries published at or after t.
	CountSince(ctx context.Context, accountID string, t time.Time) (int, error)

	// LastPublishedAt returns the most recent publish time, if any.
	LastPublishedAt(ctx context.Context, accountID string) (time.Time, bool, error)

	// RecentLabelCounts counts format and topic labels of entries published
	// at or after since.
	RecentLabelCounts(ctx context.Context, accountID string, since time.Time) (LabelCounts, error)

	// Append records a realized post. It is the only mutator.
	Append(ctx context.Context, e Entry) error
}
