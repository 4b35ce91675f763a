package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/ledger"
	"github.com/google/uuid"
)

// Ledger is the SQL-backed ledger.Ledger. Rows are only inserted.
type Ledger struct {
	s *Store
}

// Ledger returns the history ledger view of the store.
func (s *Store) Ledger() *Ledger {
	return &Ledger{s: s}
}

func (l *Ledger) CountSince(ctx context.Context, accountID string, t time.Time) (int, error) {
	var n int
	err := l.s.queryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = ? AND published_at >= ?`,
		accountID, toNanos(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

func (l *Ledger) LastPublishedAt(ctx context.Context, accountID string) (time.Time, bool, error) {
	var last sql.NullInt64
	err := l.s.queryRow(ctx,
		`SELECT MAX(published_at) FROM ledger_entries WHERE account_id = ?`, accountID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last publish time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(last.Int64), true, nil
}

func (l *Ledger) RecentLabelCounts(ctx context.Context, accountID string, since time.Time) (ledger.LabelCounts, error) {
	rows, err := l.s.query(ctx,
		`SELECT format, topic FROM ledger_entries WHERE account_id = ? AND published_at >= ?`,
		accountID, toNanos(since))
	if err != nil {
		return ledger.LabelCounts{}, fmt.Errorf("recent label counts: %w", err)
	}
	defer rows.Close()

	counts := ledger.NewLabelCounts()
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.Format, &e.Topic); err != nil {
			return ledger.LabelCounts{}, fmt.Errorf("scan label counts: %w", err)
		}
		counts.Add(e)
	}
	if err := rows.Err(); err != nil {
		return ledger.LabelCounts{}, fmt.Errorf("recent label counts: %w", err)
	}
	return counts, nil
}

func (l *Ledger) Append(ctx context.Context, e ledger.Entry) error {
	if err := ledger.Check(e); err != nil {
		return err
	}
	_, err := l.s.exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, published_at, format, topic, has_link, thread_length, decision_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.AccountID, toNanos(e.PublishedAt), e.Format, e.Topic, e.HasLink, e.ThreadLength, e.DecisionID)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Entries returns an account's history ordered by publish time.
func (l *Ledger) Entries(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	rows, err := l.s.query(ctx,
		`SELECT account_id, published_at, format, topic, has_link, thread_length, decision_id
		 FROM ledger_entries WHERE account_id = ? ORDER BY published_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e  ledger.Entry
			at int64
		)
		if err := rows.Scan(&e.AccountID, &at, &e.Format, &e.Topic, &e.HasLink, &e.ThreadLength, &e.DecisionID); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.PublishedAt = fromNanos(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
