// Package candidate models unpublished content items and the pool the
// decision engine draws them from.
package candidate

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Source is where a candidate came from.
type Source string

const (
	SourceFeed   Source = "feed"
	SourceManual Source = "manual"
)

// Valid reports whether s is a known source kind.
func (s Source) Valid() bool {
	return s == SourceFeed || s == SourceManual
}

var (
	// ErrNotFound is returned when the item does not exist for the account.
	ErrNotFound = errors.New("candidate not found")

	// ErrAlreadyConsumed is returned when an item was consumed before.
	ErrAlreadyConsumed = errors.New("candidate already consumed")
)

// Item is a piece of content that may be published for an account.
type Item struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Source         Source    `json:"source"`
	Format         string    `json:"format"`
	Topic          string    `json:"topic"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	HasLink        bool      `json:"has_link"`
	ThreadEligible bool      `json:"thread_eligible"`
	Consumed       bool      `json:"consumed"`
	Score          float64   `json:"score"`
	Attempts       int       `json:"attempts"` // failed publish attempts so far
}

// Pool is the per-account view of unpublished content.
type Pool interface {
	// Unconsumed returns the account's unconsumed items, oldest first with
	// ties broken by ID.
	Unconsumed(ctx context.Context, accountID string) ([]Item, error)

	// MarkConsumed atomically claims an item. It returns ErrAlreadyConsumed
	// if the item was claimed before and ErrNotFound if it does not exist.
	MarkConsumed(ctx context.Context, accountID, id string) error
}

// Releaser is implemented by pools that can return a claimed item, used
// when a decision that claimed it failed to publish.
type Releaser interface {
	// Release counts one failed publish attempt and returns the item to
	// the pool. Once the count reaches maxAttempts the item stays consumed
	// and retired is true. maxAttempts <= 0 never retires.
	Release(ctx context.Context, accountID, id string, maxAttempts int) (retired bool, err error)
}

// Retired reports whether attempts has used up maxAttempts.
func Retired(attempts, maxAttempts int) bool {
	return maxAttempts > 0 && attempts >= maxAttempts
}

var linkPattern = regexp.MustCompile(`(?i)https?://`)

// ContainsLink reports whether text carries an http(s) URL.
func ContainsLink(text string) bool {
	return linkPattern.MatchString(text)
}

// FromFeed builds a feed-sourced item, deriving HasLink from the content.
func FromFeed(id, accountID, format, topic, content string, createdAt time.Time) Item {
	return Item{
		ID:        id,
		AccountID: accountID,
		Source:    SourceFeed,
		Format:    format,
		Topic:     topic,
		Content:   content,
		CreatedAt: createdAt,
		HasLink:   ContainsLink(content),
		Score:     1,
	}
}

// FromDraft builds a manually written item. Drafts may be threaded.
func FromDraft(id, accountID, format, topic, content string, createdAt time.Time, score float64) Item {
	return Item{
		ID:             id,
		AccountID:      accountID,
		Source:         SourceManual,
		Format:         format,
		Topic:          topic,
		Content:        content,
		CreatedAt:      createdAt,
		HasLink:        ContainsLink(content),
		ThreadEligible: true,
		Score:          score,
	}
}

// Less orders items oldest first, then by ID.
func Less(a, b Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
