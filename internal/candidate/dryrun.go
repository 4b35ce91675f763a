package candidate

import (
	"context"
	"sync"
)

// DryRun wraps a Pool so that claims are tracked locally and never reach
// the underlying pool. Reads still come from the wrapped pool, minus any
// items claimed through this wrapper.
type DryRun struct {
	Pool

	mu      sync.Mutex
	claimed map[string]bool
}

// NewDryRun wraps p.
func NewDryRun(p Pool) *DryRun {
	return &DryRun{Pool: p, claimed: make(map[string]bool)}
}

func (d *DryRun) Unconsumed(ctx context.Context, accountID string) ([]Item, error) {
	items, err := d.Pool.Unconsumed(ctx, accountID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := items[:0]
	for _, it := range items {
		if !d.claimed[accountID+"/"+it.ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

func (d *DryRun) MarkConsumed(_ context.Context, accountID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := accountID + "/" + id
	if d.claimed[key] {
		return ErrAlreadyConsumed
	}
	d.claimed[key] = true
	return nil
}
