package publish

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited bounds how fast the wrapped publisher is called, across all
// accounts of all runs sharing it.
type RateLimited struct {
	next    Publisher
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive perSecond disables limiting.
func NewRateLimited(next Publisher, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Publish waits for a token then delegates. A context that ends while
// waiting fails the publish without calling the wrapped publisher.
func (r *RateLimited) Publish(ctx context.Context, p Payload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Publish(ctx, p)
}
