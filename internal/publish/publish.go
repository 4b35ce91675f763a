// Package publish hands publish decisions to the downstream posting system.
package publish

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/engine"
)

// Publisher delivers one decision's payload. A nil error means the
// downstream system accepted it; only then may the decision be recorded.
type Publisher interface {
	Publish(ctx context.Context, p Payload) error
}

// Post is one post of a payload, in thread order.
type Post struct {
	Position    int    `json:"position"`
	CandidateID string `json:"candidate_id"`
	Format      string `json:"format"`
	Topic       string `json:"topic"`
	Content     string `json:"content"`
	HasLink     bool   `json:"has_link"`
}

// Payload is the wire form of a publish decision.
type Payload struct {
	DecisionID  string    `json:"decision_id"`
	AccountID   string    `json:"account_id"`
	DecidedAt   time.Time `json:"decided_at"`
	Thread      bool      `json:"thread"`
	Annotations []string  `json:"annotations,omitempty"`
	Posts       []Post    `json:"posts"`
}

// FromDecision builds the payload for a publish decision.
func FromDecision(d engine.Decision) Payload {
	posts := make([]Post, len(d.Posts))
	for i, p := range d.Posts {
		posts[i] = Post{
			Position:    p.Position,
			CandidateID: p.Item.ID,
			Format:      p.Format,
			Topic:       p.Topic,
			Content:     p.Item.Content,
			HasLink:     p.HasLink,
		}
	}
	return Payload{
		DecisionID:  d.ID.String(),
		AccountID:   d.AccountID,
		DecidedAt:   d.DecidedAt,
		Thread:      d.IsThread(),
		Annotations: d.Annotations,
		Posts:       posts,
	}
}
