package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
)

// Pool is the SQL-backed candidate.Pool.
type Pool struct {
	s *Store
}

// Pool returns the candidate pool view of the store.
func (s *Store) Pool() *Pool {
	return &Pool{s: s}
}

// Add inserts a new candidate.
func (p *Pool) Add(ctx context.Context, it candidate.Item) error {
	if !it.Source.Valid() {
		return fmt.Errorf("candidate %s: unknown source %q", it.ID, it.Source)
	}
	_, err := p.s.exec(ctx,
		`INSERT INTO candidates (account_id, id, source, format, topic, content, created_at, has_link, thread_eligible, score, attempts, consumed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.AccountID, it.ID, string(it.Source), it.Format, it.Topic, it.Content,
		toNanos(it.CreatedAt), it.HasLink, it.ThreadEligible, it.Score, it.Attempts, false)
	if err != nil {
		return fmt.Errorf("insert candidate %s: %w", it.ID, err)
	}
	return nil
}

func (p *Pool) Unconsumed(ctx context.Context, accountID string) ([]candidate.Item, error) {
	rows, err := p.s.query(ctx,
		`SELECT id, account_id, source, format, topic, content, created_at, has_link, thread_eligible, score, attempts
		 FROM candidates WHERE account_id = ? AND consumed = ?
		 ORDER BY created_at, id`,
		accountID, false)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate.Item
	for rows.Next() {
		var (
			it      candidate.Item
			source  string
			created int64
		)
		if err := rows.Scan(&it.ID, &it.AccountID, &source, &it.Format, &it.Topic, &it.Content,
			&created, &it.HasLink, &it.ThreadEligible, &it.Score, &it.Attempts); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		it.Source = candidate.Source(source)
		it.CreatedAt = fromNanos(created)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// MarkConsumed claims the candidate with a conditional update, so of two
// concurrent claims exactly one succeeds.
func (p *Pool) MarkConsumed(ctx context.Context, accountID, id string) error {
	res, err := p.s.exec(ctx,
		`UPDATE candidates SET consumed = ?, consumed_at = ? WHERE account_id = ? AND id = ? AND consumed = ?`,
		true, toNanos(p.s.now()), accountID, id, false)
	if err != nil {
		return fmt.Errorf("claim candidate %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim candidate %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var consumed bool
	err = p.s.queryRow(ctx,
		`SELECT consumed FROM candidates WHERE account_id = ? AND id = ?`, accountID, id).Scan(&consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return candidate.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check candidate %s: %w", id, err)
	}
	return candidate.ErrAlreadyConsumed
}

// Release counts a failed publish attempt and returns the candidate to the
// pool, or retires it once maxAttempts is reached. Callers hold the
// account lock.
func (p *Pool) Release(ctx context.Context, accountID, id string, maxAttempts int) (bool, error) {
	var attempts int
	err := p.s.queryRow(ctx,
		`SELECT attempts FROM candidates WHERE account_id = ? AND id = ?`, accountID, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, candidate.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("release candidate %s: %w", id, err)
	}

	attempts++
	retired := candidate.Retired(attempts, maxAttempts)
	if retired {
		_, err = p.s.exec(ctx,
			`UPDATE candidates SET attempts = ? WHERE account_id = ? AND id = ?`,
			attempts, accountID, id)
	} else {
		_, err = p.s.exec(ctx,
			`UPDATE candidates SET attempts = ?, consumed = ?, consumed_at = NULL WHERE account_id = ? AND id = ?`,
			attempts, false, accountID, id)
	}
	if err != nil {
		return false, fmt.Errorf("release candidate %s: %w", id, err)
	}
	return retired, nil
}

// Contents returns the text of every candidate the account has had,
// consumed or not, for duplicate checks at intake.
func (p *Pool) Contents(ctx context.Context, accountID string) ([]string, error) {
	rows, err := p.s.query(ctx,
		`SELECT content FROM candidates WHERE account_id = ? ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list candidate contents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan candidate content: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidate contents: %w", err)
	}
	return out, nil
}
