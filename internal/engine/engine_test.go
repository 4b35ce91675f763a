package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/ledger"
	"github.com/fyrsmithlabs/signalforge/internal/logging"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const acct = "acct-1"

// 2026-03-02 is a Monday.
var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func mustPolicy(t *testing.T, mutate func(*policy.Settings)) *policy.Policy {
	t.Helper()
	s := policy.DefaultSettings()
	s.DailyPostMin = 0
	s.ThreadRatio = 0
	if mutate != nil {
		mutate(&s)
	}
	p, err := policy.Validate(s)
	require.NoError(t, err)
	return p
}

func item(id, format, topic string, createdAt time.Time) candidate.Item {
	return candidate.Item{
		ID:        id,
		AccountID: acct,
		Source:    candidate.SourceFeed,
		Format:    format,
		Topic:     topic,
		CreatedAt: createdAt,
		Score:     1,
	}
}

func postIDs(d Decision) []string {
	ids := make([]string, len(d.Posts))
	for i, p := range d.Posts {
		ids[i] = p.Item.ID
	}
	return ids
}

func record(t *testing.T, l *ledger.Memory, d Decision) {
	t.Helper()
	require.NoError(t, l.Append(context.Background(), ledger.Entry{
		AccountID:    d.AccountID,
		PublishedAt:  d.DecidedAt,
		Format:       d.Posts[0].Format,
		Topic:        d.Posts[0].Topic,
		ThreadLength: len(d.Posts),
		DecisionID:   d.ID.String(),
	}))
}

func TestDecide_SingleCandidateThenDailyMax(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.DailyPostMax = 1
		s.AllowedHours = []int{9}
		s.MinSpacingHours = 4
	})
	l := ledger.NewMemory()
	pool := candidate.NewMemory(item("only", "text", "go", day))
	e := New()

	d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: l, Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome, d.Reason)
	assert.Equal(t, []string{"only"}, postIDs(d))
	assert.Equal(t, acct, d.AccountID)
	assert.Equal(t, at(9, 0), d.DecidedAt)
	record(t, l, d)

	pool.Add(item("later", "text", "go", day))
	d = e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 40), Ledger: l, Pool: pool})
	assert.Equal(t, OutcomeSkip, d.Outcome)
	assert.Equal(t, ReasonDailyMax, d.Reason)
}

func TestDecide_EmptyPool(t *testing.T) {
	p := mustPolicy(t, nil)
	d := New().Decide(context.Background(), Input{
		AccountID: acct, Policy: p, Now: at(9, 0),
		Ledger: ledger.NewMemory(), Pool: candidate.NewMemory(),
	})
	assert.Equal(t, OutcomeSkip, d.Outcome)
	assert.Equal(t, ReasonNoCandidates, d.Reason)
	assert.Empty(t, d.Posts)
}

func TestDecide_OutsideAllowedHours(t *testing.T) {
	p := mustPolicy(t, nil)
	pool := candidate.NewMemory(item("a", "text", "go", day))

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(10, 0), Ledger: ledger.NewMemory(), Pool: pool})
	assert.Equal(t, ReasonOutsideHours, d.Reason)

	items, _ := pool.Unconsumed(context.Background(), acct)
	assert.Len(t, items, 1, "skips never consume")
}

func TestDecide_HoursUseAccountTimezone(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.Timezone = "America/New_York"
		s.AllowedHours = []int{9}
	})
	pool := candidate.NewMemory(item("a", "text", "go", day))

	// 14:00 UTC is 09:00 EST.
	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(14, 0), Ledger: ledger.NewMemory(), Pool: pool})
	assert.Equal(t, OutcomePublish, d.Outcome, d.Reason)

	d = New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	assert.Equal(t, ReasonOutsideHours, d.Reason)
}

func TestDecide_LocalDayBoundary(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.Timezone = "Asia/Tokyo"
		s.DailyPostMax = 1
		s.AllowedHours = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}
		s.MinSpacingHours = 1
	})
	// 14:30 UTC on Mar 1 is 23:30 JST Mar 1; 15:30 UTC is 00:30 JST Mar 2.
	l := ledger.NewMemory(ledger.Entry{AccountID: acct, PublishedAt: day.Add(-10 * time.Hour), ThreadLength: 1})
	pool := candidate.NewMemory(item("a", "text", "go", day))

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: day.Add(-9*time.Hour - 30*time.Minute), Ledger: l, Pool: pool})
	assert.Equal(t, ReasonDailyMax, d.Reason)

	d = New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: day.Add(-8*time.Hour - 30*time.Minute), Ledger: l, Pool: pool})
	assert.Equal(t, OutcomePublish, d.Outcome, d.Reason)
}

func TestDecide_Spacing(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) { s.MinSpacingHours = 2 })
	l := ledger.NewMemory(ledger.Entry{AccountID: acct, PublishedAt: at(9, 30), ThreadLength: 1})
	pool := candidate.NewMemory(item("a", "text", "go", day))
	e := New()

	d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(11, 0), Ledger: l, Pool: pool})
	assert.Equal(t, ReasonSpacing, d.Reason)

	d = e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(11, 30), Ledger: l, Pool: pool})
	assert.Equal(t, OutcomePublish, d.Outcome, "exactly min spacing is allowed")
}

func TestDecide_BehindQuotaAnnotatesWithoutRelaxingSpacing(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.DailyPostMin = 4
		s.DailyPostMax = 5
		s.AllowedHours = []int{9, 11, 15, 17}
		s.MinSpacingHours = 3
	})
	l := ledger.NewMemory(ledger.Entry{AccountID: acct, PublishedAt: at(14, 0), ThreadLength: 1})
	pool := candidate.NewMemory(item("a", "text", "go", day))
	e := New()

	// At 15:00 two allowed hours remain (15, 17) but three posts are still owed.
	d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(15, 0), Ledger: l, Pool: pool})
	assert.Equal(t, OutcomeSkip, d.Outcome)
	assert.Equal(t, ReasonSpacing, d.Reason)
	assert.True(t, d.HasAnnotation(AnnotationBehindQuota))

	d = e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(17, 0), Ledger: l, Pool: pool})
	assert.Equal(t, OutcomePublish, d.Outcome)
	assert.True(t, d.HasAnnotation(AnnotationBehindQuota))
}

func TestDecide_NotBehindQuota(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) { s.DailyPostMin = 1 })
	pool := candidate.NewMemory(item("a", "text", "go", day))

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	assert.Equal(t, OutcomePublish, d.Outcome)
	assert.Empty(t, d.Annotations)
}

func TestDecide_ZeroWeightsExcluded(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.FormatWeights = map[string]float64{"video": 0}
		s.TopicWeights = map[string]float64{"crypto": 0}
	})
	pool := candidate.NewMemory(
		item("v", "video", "go", day),
		item("c", "text", "crypto", day),
	)

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	assert.Equal(t, OutcomeSkip, d.Outcome)
	assert.Equal(t, ReasonNoEligible, d.Reason)

	pool.Add(item("ok", "text", "go", day))
	d = New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)
	assert.Equal(t, []string{"ok"}, postIDs(d))
}

func TestDecide_ThreadIsTopicCoherent(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.ThreadRatio = 1
		s.MaxThreadLen = 3
	})
	threaded := func(id, topic string) candidate.Item {
		it := item(id, "text", topic, day)
		it.ThreadEligible = true
		return it
	}
	pool := candidate.NewMemory(
		threaded("g1", "go"), threaded("g2", "go"), threaded("g3", "go"),
		threaded("r1", "rust"), threaded("r2", "rust"), threaded("r3", "rust"),
		item("single", "text", "go", day),
	)

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)
	require.Len(t, d.Posts, 3)
	assert.True(t, d.IsThread())
	for i, post := range d.Posts {
		assert.Equal(t, i, post.Position)
		assert.Equal(t, d.Posts[0].Topic, post.Topic)
		assert.NotEqual(t, "single", post.Item.ID, "only thread-eligible items join threads")
	}
}

func TestDecide_ThreadLengthBoundedByEligible(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.ThreadRatio = 1
		s.MaxThreadLen = 5
	})
	a, b := item("a", "text", "go", day), item("b", "text", "rust", day)
	a.ThreadEligible, b.ThreadEligible = true, true
	pool := candidate.NewMemory(a, b, item("c", "text", "go", day))

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)
	assert.ElementsMatch(t, []string{"a", "b"}, postIDs(d), "a thread that cannot stay on topic still fills its slots")
}

func TestDecide_ThreadRatioZeroIsSingle(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) { s.MaxThreadLen = 5 })
	a := item("a", "text", "go", day)
	a.ThreadEligible = true
	pool := candidate.NewMemory(a, item("b", "text", "go", day))

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)
	assert.Len(t, d.Posts, 1)
}

func TestDecide_LinkPreference(t *testing.T) {
	linked := item("linked", "text", "go", day)
	linked.HasLink = true
	plain := item("plain", "text", "go", day)

	tests := []struct {
		name   string
		allow  bool
		ratio  float64
		pool   []candidate.Item
		wantID string
	}{
		{"prefers link", true, 1, []candidate.Item{plain, linked}, "linked"},
		{"prefers no link", true, 0, []candidate.Item{plain, linked}, "plain"},
		{"links disabled", false, 1, []candidate.Item{plain, linked}, "plain"},
		{"falls back to linked", true, 0, []candidate.Item{linked}, "linked"},
		{"falls back to plain", true, 1, []candidate.Item{plain}, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustPolicy(t, func(s *policy.Settings) {
				s.AllowLinks = tt.allow
				s.LinkPostRatio = tt.ratio
			})
			d := New().Decide(context.Background(), Input{
				AccountID: acct, Policy: p, Now: at(9, 0),
				Ledger: ledger.NewMemory(), Pool: candidate.NewMemory(tt.pool...),
			})
			require.Equal(t, OutcomePublish, d.Outcome)
			assert.Equal(t, []string{tt.wantID}, postIDs(d))
			assert.Equal(t, tt.wantID == "linked", d.Posts[0].HasLink)
		})
	}
}

func TestDecide_CustomDecayAvoidsRecentTopic(t *testing.T) {
	p := mustPolicy(t, nil)
	l := ledger.NewMemory(
		ledger.Entry{AccountID: acct, PublishedAt: day.Add(-24 * time.Hour), Topic: "go", Format: "text", ThreadLength: 1},
	)
	pool := candidate.NewMemory(item("go-post", "text", "go", day), item("rust-post", "text", "rust", day.Add(time.Minute)))
	hardDecay := func(raw float64, _, recentTopic int) float64 {
		if recentTopic > 0 {
			return 0
		}
		return raw
	}

	d := New(WithDecay(hardDecay)).Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: l, Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)
	assert.Equal(t, []string{"rust-post"}, postIDs(d))

	// Outside the recency window the old post no longer counts.
	d = New(WithDecay(hardDecay), WithRecencyWindow(time.Hour)).Decide(context.Background(), Input{
		AccountID: acct, Policy: p, Now: at(9, 0), Ledger: l,
		Pool: candidate.NewMemory(item("go-post", "text", "go", day)),
	})
	assert.Equal(t, []string{"go-post"}, postIDs(d))
}

func TestInverseDecay(t *testing.T) {
	assert.Equal(t, 6.0, InverseDecay(6, 0, 0))
	assert.Equal(t, 3.0, InverseDecay(6, 1, 0))
	assert.Equal(t, 1.0, InverseDecay(6, 1, 2))
	assert.Equal(t, 6.0, NoDecay(6, 10, 10))
}

func TestDecide_Deterministic(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.ThreadRatio = 0.5
		s.AllowLinks = true
		s.LinkPostRatio = 0.5
		s.TopicWeights = map[string]float64{"go": 2, "rust": 1, "zig": 0.5}
	})
	build := func() *candidate.Memory {
		pool := candidate.NewMemory()
		for i := 0; i < 20; i++ {
			it := item(fmt.Sprintf("c%02d", i), []string{"text", "image"}[i%2], []string{"go", "rust", "zig"}[i%3], day.Add(time.Duration(i)*time.Minute))
			it.ThreadEligible = i%4 == 0
			it.HasLink = i%5 == 0
			pool.Add(it)
		}
		return pool
	}
	e := New()
	now := at(13, 0)

	d1 := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: now, Ledger: ledger.NewMemory(), Pool: build()})
	d2 := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: now.Add(20 * time.Second), Ledger: ledger.NewMemory(), Pool: build()})

	require.Equal(t, OutcomePublish, d1.Outcome)
	assert.Equal(t, postIDs(d1), postIDs(d2), "same seed bucket, same state, same decision")
	assert.Equal(t, d1.ID, d2.ID, "a repeated decision keeps its ID")

	d3 := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: now.Add(time.Minute), Ledger: ledger.NewMemory(), Pool: build()})
	require.Equal(t, OutcomePublish, d3.Outcome)
	assert.NotEqual(t, d1.ID, d3.ID, "another seed bucket is another decision")
}

func TestDecisionID(t *testing.T) {
	id := DecisionID("a", 42, []string{"x", "y"})
	assert.Equal(t, id, DecisionID("a", 42, []string{"x", "y"}))
	assert.Equal(t, uuid.Version(5), id.Version())
	assert.NotEqual(t, id, DecisionID("a", 42, []string{"y", "x"}), "post order matters")
	assert.NotEqual(t, id, DecisionID("a", 43, []string{"x", "y"}))
	assert.NotEqual(t, id, DecisionID("b", 42, []string{"x", "y"}))
	assert.NotEqual(t, id, DecisionID("a", 42, nil))
}

func TestDecide_TraceLogsCandidateWeights(t *testing.T) {
	core, logs := observer.New(logging.TraceLevel)
	e := New(WithLogger(zap.New(core)))
	p := mustPolicy(t, func(s *policy.Settings) { s.TopicWeights = map[string]float64{"rust": 0} })
	pool := candidate.NewMemory(item("go1", "text", "go", day), item("rust1", "text", "rust", day))

	ctx := logging.WithAccountID(logging.WithRunID(context.Background(), "run-1"), acct)
	d := e.Decide(ctx, Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, OutcomePublish, d.Outcome)

	entries := logs.FilterMessage("candidate weighed").All()
	require.Len(t, entries, 2)
	weights := map[string]float64{}
	for _, entry := range entries {
		assert.Equal(t, logging.TraceLevel, entry.Level)
		fields := entry.ContextMap()
		assert.Equal(t, "run-1", fields["run.id"])
		assert.Equal(t, acct, fields["account.id"])
		weights[fields["candidate_id"].(string)] = fields["weight"].(float64)
	}
	assert.InDelta(t, 1.0, weights["go1"], 1e-9)
	assert.Zero(t, weights["rust1"], "excluded candidates are still traced")
}

func TestDecide_NoTraceAboveTraceLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := New(WithLogger(zap.New(core)))
	p := mustPolicy(t, nil)
	d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: candidate.NewMemory(item("a", "text", "go", day))})
	require.Equal(t, OutcomePublish, d.Outcome)
	assert.Zero(t, logs.FilterMessage("candidate weighed").Len())
}

func TestSeed(t *testing.T) {
	now := at(9, 0)
	assert.Equal(t, Seed("a", now, time.Minute), Seed("a", now.Add(59*time.Second), time.Minute))
	assert.NotEqual(t, Seed("a", now, time.Minute), Seed("a", now.Add(time.Minute), time.Minute))
	assert.NotEqual(t, Seed("a", now, time.Minute), Seed("b", now, time.Minute))
	assert.Equal(t, Seed("a", now, 0), Seed("a", now, DefaultSeedBucket))

	pre := time.Date(1969, 12, 31, 23, 59, 30, 0, time.UTC)
	assert.Equal(t, Seed("a", pre, time.Minute), Seed("a", pre.Add(29*time.Second), time.Minute))
	assert.NotEqual(t, Seed("a", pre, time.Minute), Seed("a", pre.Add(30*time.Second), time.Minute))
}

// A simulated week of frequent runs never breaks spacing, hours, or the
// daily maximum, and never reuses a candidate.
func TestDecide_SimulatedWeekHonorsConstraints(t *testing.T) {
	p := mustPolicy(t, func(s *policy.Settings) {
		s.Timezone = "Europe/Berlin"
		s.DailyPostMin = 2
		s.DailyPostMax = 3
		s.AllowedHours = []int{8, 9, 10, 12, 14, 16, 18, 20}
		s.MinSpacingHours = 2.5
		s.ThreadRatio = 0.3
		s.MaxThreadLen = 3
		s.AllowLinks = true
		s.LinkPostRatio = 0.4
	})
	pool := candidate.NewMemory()
	for i := 0; i < 200; i++ {
		it := item(fmt.Sprintf("c%03d", i), "text", []string{"go", "rust"}[i%2], day.Add(-time.Duration(i)*time.Minute))
		it.ThreadEligible = i%3 == 0
		it.HasLink = i%4 == 0
		pool.Add(it)
	}
	l := ledger.NewMemory()
	e := New()

	seen := map[string]bool{}
	perDay := map[string]int{}
	var published []time.Time
	for now := day; now.Before(day.Add(7 * 24 * time.Hour)); now = now.Add(10 * time.Minute) {
		d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: now, Ledger: l, Pool: pool})
		require.NotEqual(t, OutcomeError, d.Outcome, d.Err)
		if !d.IsPublish() {
			continue
		}
		local := now.In(p.Location)
		assert.True(t, p.AllowedHours.Contains(local.Hour()), "published at %v", local)
		if n := len(published); n > 0 {
			assert.GreaterOrEqual(t, now.Sub(published[n-1]), p.MinSpacing)
		}
		for _, id := range postIDs(d) {
			assert.False(t, seen[id], "candidate %s reused", id)
			seen[id] = true
		}
		perDay[local.Format(time.DateOnly)]++
		published = append(published, now)
		record(t, l, d)
	}

	require.NotEmpty(t, published)
	for dayKey, n := range perDay {
		assert.LessOrEqual(t, n, p.DailyPostMax, dayKey)
	}
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) CountSince(ctx context.Context, accountID string, t time.Time) (int, error) {
	args := m.Called(ctx, accountID, t)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) LastPublishedAt(ctx context.Context, accountID string) (time.Time, bool, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *mockLedger) RecentLabelCounts(ctx context.Context, accountID string, since time.Time) (ledger.LabelCounts, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).(ledger.LabelCounts), args.Error(1)
}

func (m *mockLedger) Append(ctx context.Context, e ledger.Entry) error {
	return m.Called(ctx, e).Error(0)
}

func TestDecide_LedgerFailureIsCollaboratorError(t *testing.T) {
	p := mustPolicy(t, nil)
	pool := candidate.NewMemory(item("a", "text", "go", day))
	boom := errors.New("connection refused")

	tests := []struct {
		name  string
		setup func(m *mockLedger)
	}{
		{"count", func(m *mockLedger) {
			m.On("CountSince", mock.Anything, acct, mock.Anything).Return(0, boom)
		}},
		{"last", func(m *mockLedger) {
			m.On("CountSince", mock.Anything, acct, mock.Anything).Return(0, nil)
			m.On("LastPublishedAt", mock.Anything, acct).Return(time.Time{}, false, boom)
		}},
		{"recent", func(m *mockLedger) {
			m.On("CountSince", mock.Anything, acct, mock.Anything).Return(0, nil)
			m.On("LastPublishedAt", mock.Anything, acct).Return(time.Time{}, false, nil)
			m.On("RecentLabelCounts", mock.Anything, acct, mock.Anything).Return(ledger.LabelCounts{}, boom)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockLedger{}
			tt.setup(m)

			d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: m, Pool: pool})
			assert.Equal(t, OutcomeError, d.Outcome)
			assert.Equal(t, ReasonCollaborator, d.Reason)
			assert.ErrorIs(t, d.Err, ErrCollaborator)
			assert.ErrorIs(t, d.Err, boom)
			m.AssertExpectations(t)
			m.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		})
	}
}

type brokenPool struct {
	candidate.Pool
	listErr  error
	claimErr error
}

func (b brokenPool) Unconsumed(ctx context.Context, accountID string) ([]candidate.Item, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.Pool.Unconsumed(ctx, accountID)
}

func (b brokenPool) MarkConsumed(ctx context.Context, accountID, id string) error {
	if b.claimErr != nil {
		return b.claimErr
	}
	return b.Pool.MarkConsumed(ctx, accountID, id)
}

func TestDecide_PoolFailures(t *testing.T) {
	p := mustPolicy(t, nil)
	base := func() candidate.Pool { return candidate.NewMemory(item("a", "text", "go", day)) }

	tests := []struct {
		name    string
		pool    candidate.Pool
		reason  string
		wantErr error
	}{
		{"list fails", brokenPool{Pool: base(), listErr: errors.New("timeout")}, ReasonCollaborator, ErrCollaborator},
		{"claim fails", brokenPool{Pool: base(), claimErr: errors.New("timeout")}, ReasonCollaborator, ErrCollaborator},
		{"double consumption", brokenPool{Pool: base(), claimErr: candidate.ErrAlreadyConsumed}, ReasonInvariant, ErrInvariant},
		{"vanished candidate", brokenPool{Pool: base(), claimErr: candidate.ErrNotFound}, ReasonInvariant, ErrInvariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: tt.pool})
			assert.Equal(t, OutcomeError, d.Outcome)
			assert.Equal(t, tt.reason, d.Reason)
			assert.ErrorIs(t, d.Err, tt.wantErr)
			assert.Empty(t, d.Posts)
			assert.False(t, d.IsPublish())
		})
	}
}

func TestDecide_InvariantIsLoggedAtError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := New(WithLogger(zap.New(core)))
	p := mustPolicy(t, nil)
	pool := brokenPool{Pool: candidate.NewMemory(item("a", "text", "go", day)), claimErr: candidate.ErrAlreadyConsumed}

	d := e.Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: pool})
	require.Equal(t, ReasonInvariant, d.Reason)

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, acct, entries[0].ContextMap()["account_id"])
}

func TestDecide_RejectsUnvalidatedPolicy(t *testing.T) {
	d := New().Decide(context.Background(), Input{
		AccountID: acct,
		Policy:    &policy.Policy{DailyPostMax: 5, Location: time.UTC},
		Now:       at(9, 0),
		Ledger:    ledger.NewMemory(),
		Pool:      candidate.NewMemory(item("a", "text", "go", day)),
	})
	assert.Equal(t, OutcomeError, d.Outcome)
	assert.ErrorIs(t, d.Err, ErrInvariant)
}

func TestDecide_ScoreScalesWeight(t *testing.T) {
	p := mustPolicy(t, nil)
	lo, hi := item("lo", "text", "go", day), item("hi", "text", "go", day)
	lo.Score, hi.Score = 0, 4

	d := New().Decide(context.Background(), Input{AccountID: acct, Policy: p, Now: at(9, 0), Ledger: ledger.NewMemory(), Pool: candidate.NewMemory(lo, hi)})
	require.Equal(t, OutcomePublish, d.Outcome)
	for _, post := range d.Posts {
		switch post.Item.ID {
		case "lo":
			assert.InDelta(t, 0.01, post.Weight, 1e-9)
		case "hi":
			assert.InDelta(t, 4.0, post.Weight, 1e-9)
		}
	}
}
