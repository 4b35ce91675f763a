// Package lock serializes scheduler work per account.
package lock

import (
	"context"
	"sync"
)

// Locker grants exclusive per-account execution. TryLock never waits for a
// held lock: ok is false when another holder has it. unlock is non-nil only
// when ok is true and is safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, accountID string) (unlock func(), ok bool, err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) TryLock(_ context.Context, accountID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[accountID] {
		return nil, false, nil
	}
	l.held[accountID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, accountID)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether accountID is currently locked.
func (l *Local) Held(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[accountID]
}
