package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

// Account is a managed posting account.
type Account struct {
	ID        string          `json:"id"`
	Handle    string          `json:"handle"`
	Enabled   bool            `json:"enabled"`
	Settings  policy.Settings `json:"settings"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateAccount inserts an account. Settings are stored as given; callers
// validate them first.
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	raw, err := json.Marshal(a.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	now := toNanos(s.now())
	_, err = s.exec(ctx,
		`INSERT INTO accounts (id, handle, enabled, settings, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Handle, a.Enabled, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount loads one account.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.queryRow(ctx,
		`SELECT id, handle, enabled, settings, created_at, updated_at FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// GetSettings returns the raw stored settings of an account.
func (s *Store) GetSettings(ctx context.Context, id string) (policy.Settings, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return policy.Settings{}, err
	}
	return a.Settings, nil
}

// SaveSettings replaces an account's settings.
func (s *Store) SaveSettings(ctx context.Context, id string, settings policy.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE accounts SET settings = ?, updated_at = ? WHERE id = ?`,
		string(raw), toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("update settings %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings %s: %w", id, err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetEnabled toggles whether runs include the account.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.exec(ctx, `UPDATE accounts SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccounts returns all accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT id, handle, enabled, settings, created_at, updated_at FROM accounts ORDER BY id`)
}

// ListEnabled returns enabled accounts ordered by id.
func (s *Store) ListEnabled(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT id, handle, enabled, settings, created_at, updated_at FROM accounts WHERE enabled = ? ORDER BY id`, true)
}

// EnabledAccounts lists the accounts a scheduler run should visit.
func (s *Store) EnabledAccounts(ctx context.Context) ([]coordinator.Account, error) {
	accts, err := s.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]coordinator.Account, len(accts))
	for i, a := range accts {
		out[i] = coordinator.Account{ID: a.ID, Handle: a.Handle, Settings: a.Settings}
	}
	return out, nil
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (Account, error) {
	var (
		a                Account
		raw              string
		created, updated int64
	)
	if err := sc.Scan(&a.ID, &a.Handle, &a.Enabled, &raw, &created, &updated); err != nil {
		return Account{}, err
	}
	if err := json.Unmarshal([]byte(raw), &a.Settings); err != nil {
		return Account{}, fmt.Errorf("decode settings of %s: %w", a.ID, err)
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return a, nil
}
