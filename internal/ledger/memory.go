package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidEntry is returned by Append for entries missing required fields.
var ErrInvalidEntry = errors.New("invalid ledger entry")

// Memory is an in-process Ledger.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewMemory returns a ledger pre-populated with entries.
func NewMemory(entries ...Entry) *Memory {
	m := &Memory{entries: make(map[string][]Entry)}
	for _, e := range entries {
		m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	}
	return m
}

// Entries returns a copy of the account's history in append order.
func (m *Memory) Entries(accountID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries[accountID]...)
}

func (m *Memory) CountSince(_ context.Context, accountID string, t time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries[accountID] {
		if !e.PublishedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LastPublishedAt(_ context.Context, accountID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	found := false
	for _, e := range m.entries[accountID] {
		if !found || e.PublishedAt.After(last) {
			last, found = e.PublishedAt, true
		}
	}
	return last, found, nil
}

func (m *Memory) RecentLabelCounts(_ context.Context, accountID string, since time.Time) (LabelCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := NewLabelCounts()
	for _, e := range m.entries[accountID] {
		if !e.PublishedAt.Before(since) {
			counts.Add(e)
		}
	}
	return counts, nil
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	if err := Check(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	return nil
}

// Check validates an entry before it is appended.
func Check(e Entry) error {
	switch {
	case e.AccountID == "":
		return errors.Join(ErrInvalidEntry, errors.New("account id is required"))
	case e.PublishedAt.IsZero():
		return errors.Join(ErrInvalidEntry, errors.New("published_at is required"))
	case e.ThreadLength < 1:
		return errors.Join(ErrInvalidEntry, errors.New("thread length must be >= 1"))
	}
	return nil
}
