package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

// Account is an enabled account as seen by a run. Settings are raw and are
// validated on every run, since an operator may edit them between runs.
type Account struct {
	ID       string
	Handle   string
	Settings policy.Settings
}

// AccountSource lists the accounts a run should visit.
type AccountSource interface {
	EnabledAccounts(ctx context.Context) ([]Account, error)
}

// StaticAccounts is an in-memory AccountSource.
type StaticAccounts struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewStaticAccounts returns a source holding accts.
func NewStaticAccounts(accts ...Account) *StaticAccounts {
	s := &StaticAccounts{accounts: make(map[string]Account, len(accts))}
	for _, a := range accts {
		s.accounts[a.ID] = a
	}
	return s
}

// Put adds or replaces an account.
func (s *StaticAccounts) Put(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *StaticAccounts) EnabledAccounts(context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
