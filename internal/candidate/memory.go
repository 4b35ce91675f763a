package candidate

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Pool.
type Memory struct {
	mu    sync.Mutex
	items map[string]map[string]*Item
}

// NewMemory returns a pool seeded with items.
func NewMemory(items ...Item) *Memory {
	m := &Memory{items: make(map[string]map[string]*Item)}
	for _, it := range items {
		m.Add(it)
	}
	return m
}

// Add inserts or replaces an item.
func (m *Memory) Add(it Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.items[it.AccountID]
	if !ok {
		acct = make(map[string]*Item)
		m.items[it.AccountID] = acct
	}
	cp := it
	acct[it.ID] = &cp
}

// Get returns a copy of an item.
func (m *Memory) Get(accountID, id string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[accountID][id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

func (m *Memory) Unconsumed(_ context.Context, accountID string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items[accountID]))
	for _, it := range m.items[accountID] {
		if !it.Consumed {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out, nil
}

func (m *Memory) MarkConsumed(_ context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[accountID][id]
	if !ok {
		return ErrNotFound
	}
	if it.Consumed {
		return ErrAlreadyConsumed
	}
	it.Consumed = true
	return nil
}

// Release returns a consumed item to the pool until it runs out of
// attempts.
func (m *Memory) Release(_ context.Context, accountID, id string, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[accountID][id]
	if !ok {
		return false, ErrNotFound
	}
	it.Attempts++
	if Retired(it.Attempts, maxAttempts) {
		it.Consumed = true
		return true, nil
	}
	it.Consumed = false
	return false, nil
}

// Contents returns the text of every item the account has ever had,
// consumed or not.
func (m *Memory) Contents(_ context.Context, accountID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.items[accountID]))
	for _, it := range m.items[accountID] {
		out = append(out, it.Content)
	}
	sort.Strings(out)
	return out, nil
}
