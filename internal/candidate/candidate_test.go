package candidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestContainsLink(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"read more at https://example.com/post", true},
		{"HTTP://SHOUTY.EXAMPLE", true},
		{"plain words only", false},
		{"ftp://files.example", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsLink(tt.text), tt.text)
	}
}

func TestFromFeedAndDraft(t *testing.T) {
	f := FromFeed("f1", "acct", "link", "go", "new release https://go.dev", t0)
	assert.Equal(t, SourceFeed, f.Source)
	assert.True(t, f.HasLink)
	assert.False(t, f.ThreadEligible)
	assert.Equal(t, 1.0, f.Score)

	d := FromDraft("d1", "acct", "text", "go", "hand written", t0, 0.4)
	assert.Equal(t, SourceManual, d.Source)
	assert.False(t, d.HasLink)
	assert.True(t, d.ThreadEligible)
	assert.True(t, d.Source.Valid())
	assert.False(t, Source("email").Valid())
}

func TestMemory_UnconsumedOrdering(t *testing.T) {
	pool := NewMemory(
		Item{ID: "c", AccountID: "a", CreatedAt: t0.Add(time.Hour)},
		Item{ID: "b", AccountID: "a", CreatedAt: t0},
		Item{ID: "a", AccountID: "a", CreatedAt: t0},
		Item{ID: "z", AccountID: "other", CreatedAt: t0},
	)

	items, err := pool.Unconsumed(context.Background(), "a")
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemory_MarkConsumed(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(Item{ID: "x", AccountID: "a", CreatedAt: t0})

	require.NoError(t, pool.MarkConsumed(ctx, "a", "x"))
	assert.ErrorIs(t, pool.MarkConsumed(ctx, "a", "x"), ErrAlreadyConsumed)
	assert.ErrorIs(t, pool.MarkConsumed(ctx, "a", "missing"), ErrNotFound)
	assert.ErrorIs(t, pool.MarkConsumed(ctx, "b", "x"), ErrNotFound)

	items, err := pool.Unconsumed(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, items)

	it, ok := pool.Get("a", "x")
	require.True(t, ok)
	assert.True(t, it.Consumed)
}

func TestDryRun_LeavesUnderlyingPoolUntouched(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(
		Item{ID: "x", AccountID: "a", CreatedAt: t0},
		Item{ID: "y", AccountID: "a", CreatedAt: t0.Add(time.Minute)},
	)
	dry := NewDryRun(pool)

	require.NoError(t, dry.MarkConsumed(ctx, "a", "x"))
	assert.ErrorIs(t, dry.MarkConsumed(ctx, "a", "x"), ErrAlreadyConsumed)

	items, err := dry.Unconsumed(ctx, "a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "y", items[0].ID)

	underlying, err := pool.Unconsumed(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, underlying, 2)
}

type failingPool struct{ Pool }

func (failingPool) Unconsumed(context.Context, string) ([]Item, error) {
	return nil, errors.New("pool down")
}

func TestDryRun_PropagatesErrors(t *testing.T) {
	_, err := NewDryRun(failingPool{}).Unconsumed(context.Background(), "a")
	assert.EqualError(t, err, "pool down")
}

func TestMemory_Release(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(Item{ID: "x", AccountID: "a", CreatedAt: t0})
	var _ Releaser = pool

	require.NoError(t, pool.MarkConsumed(ctx, "a", "x"))
	retired, err := pool.Release(ctx, "a", "x", 2)
	require.NoError(t, err)
	assert.False(t, retired)

	items, err := pool.Unconsumed(ctx, "a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)

	_, err = pool.Release(ctx, "a", "nope", 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReleaseRetiresAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(Item{ID: "x", AccountID: "a", CreatedAt: t0})

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, pool.MarkConsumed(ctx, "a", "x"))
		retired, err := pool.Release(ctx, "a", "x", 3)
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, retired, "attempt %d", attempt)
	}

	items, err := pool.Unconsumed(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, items)
	it, ok := pool.Get("a", "x")
	require.True(t, ok)
	assert.Equal(t, 3, it.Attempts)
	assert.True(t, it.Consumed)
}

func TestMemory_ReleaseWithoutLimitNeverRetires(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(Item{ID: "x", AccountID: "a", CreatedAt: t0})
	for range 10 {
		require.NoError(t, pool.MarkConsumed(ctx, "a", "x"))
		retired, err := pool.Release(ctx, "a", "x", 0)
		require.NoError(t, err)
		require.False(t, retired)
	}
}

func TestMemory_Contents(t *testing.T) {
	ctx := context.Background()
	pool := NewMemory(
		Item{ID: "x", AccountID: "a", Content: "second", CreatedAt: t0},
		Item{ID: "y", AccountID: "a", Content: "first", CreatedAt: t0},
		Item{ID: "z", AccountID: "b", Content: "other", CreatedAt: t0},
	)
	require.NoError(t, pool.MarkConsumed(ctx, "a", "x"))

	got, err := pool.Contents(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got)
}
