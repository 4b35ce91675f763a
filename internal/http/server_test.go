package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
	"github.com/fyrsmithlabs/signalforge/internal/engine"
	"github.com/fyrsmithlabs/signalforge/internal/guardrail"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"github.com/fyrsmithlabs/signalforge/internal/publish"
	"github.com/fyrsmithlabs/signalforge/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// Monday 09:00 UTC, an allowed hour under the default policy.
var runTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server   *Server
	store    *store.Store
	pub      *publish.Recorder
	registry *prometheus.Registry
}

func setupTestServer(t *testing.T, cfg *Config, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	pub := publish.NewRecorder()
	coord, err := coordinator.New(st, st.Ledger(), st.Pool(), engine.New(), pub,
		coordinator.WithClock(func() time.Time { return runTime }),
		coordinator.WithMetrics(coordinator.NewMetrics(reg)),
	)
	require.NoError(t, err)

	gcfg := guardrail.DefaultConfig()
	gcfg.ScanSecrets = false
	checker, err := guardrail.New(gcfg)
	require.NoError(t, err)
	gate := guardrail.NewGate(checker, st.Pool(), zap.NewNop(), guardrail.WithRegisterer(reg))

	opts = append([]Option{WithGatherer(reg), WithDrafts(gate)}, opts...)
	server, err := NewServer(coord, st, zap.NewNop(), cfg, opts...)
	require.NoError(t, err)
	server.now = func() time.Time { return runTime.Add(-time.Hour) }

	return &testEnv{server: server, store: st, pub: pub, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	st := &store.Store{}
	coord := &fakeScheduler{}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(coord, st, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8010, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(coord, st, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when collaborators are nil", func(t *testing.T) {
		_, err := NewServer(nil, st, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "scheduler cannot be nil")
		_, err = NewServer(coord, nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "account store cannot be nil")
	})
}

type fakeScheduler struct {
	err error
}

func (f *fakeScheduler) Run(context.Context) (*coordinator.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &coordinator.Summary{RunID: "r1"}, nil
}

func (f *fakeScheduler) PostingDisabled() bool { return true }

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		env := setupTestServer(t, &Config{Version: "1.0.0"}, WithHealthCheck("store", env0Ping))
		rec := env.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "1.0.0", resp.Version)
		assert.False(t, resp.PostingDisabled)
		assert.Equal(t, map[string]string{"store": "ok"}, resp.Checks)
	})

	t.Run("degraded", func(t *testing.T) {
		env := setupTestServer(t, nil, WithHealthCheck("nats", func(context.Context) error {
			return errors.New("nats: no servers available")
		}))
		rec := env.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Contains(t, resp.Checks["nats"], "no servers available")
	})
}

func env0Ping(context.Context) error { return nil }

func TestBearerAuth(t *testing.T) {
	env := setupTestServer(t, &Config{Token: "s3cret"})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code, "health is public")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", nil).Code, "metrics are public")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/accounts", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/accounts", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/scheduler/run", nil, "Authorization", "s3cret").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/accounts", nil, "Authorization", "Bearer s3cret").Code)
}

func TestHandleValidate(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/settings/validate", policy.DefaultSettings())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ValidationResponse](t, rec).Valid)

	bad := policy.DefaultSettings()
	bad.DailyPostMin, bad.DailyPostMax = 5, 2
	bad.AllowedHours = []int{24}
	rec = env.do(t, http.MethodPost, "/settings/validate", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[ValidationResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, []string{"daily_post_min", "daily_post_max", "allowed_hours"}, resp.Fields)

	req := httptest.NewRequest(http.MethodPost, "/settings/validate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestAccountSettingsLifecycle(t *testing.T) {
	env := setupTestServer(t, nil)

	rec := env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "acme", Handle: "@acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, policy.DefaultSettings(), decode[store.Account](t, rec).Settings)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{Handle: "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "has space"}).Code)
	assert.Equal(t, http.StatusInternalServerError, env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "acme"}).Code)

	invalid := policy.DefaultSettings()
	invalid.MinSpacingHours = 0
	assert.Equal(t, http.StatusUnprocessableEntity,
		env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "bad", Settings: &invalid}).Code)

	rec = env.do(t, http.MethodGet, "/accounts/acme/settings", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, policy.DefaultSettings(), decode[policy.Settings](t, rec))

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/accounts/ghost/settings", nil).Code)

	// Rejected settings are never persisted.
	rec = env.do(t, http.MethodPut, "/accounts/acme/settings", invalid)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"min_spacing_hours"}, decode[ValidationResponse](t, rec).Fields)
	stored, err := env.store.GetSettings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.MinSpacingHours)

	updated := policy.DefaultSettings()
	updated.Timezone = "Europe/Berlin"
	updated.TopicWeights = map[string]float64{"go": 3}
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/accounts/acme/settings", updated).Code)
	stored, err = env.store.GetSettings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, updated, stored)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/accounts/ghost/settings", updated).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/accounts/acme/enabled", EnabledRequest{Enabled: true}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/accounts/ghost/enabled", EnabledRequest{Enabled: true}).Code)

	rec = env.do(t, http.MethodGet, "/accounts", nil)
	accts := decode[[]store.Account](t, rec)
	require.Len(t, accts, 1)
	assert.True(t, accts[0].Enabled)
}

func TestRunEndToEnd(t *testing.T) {
	env := setupTestServer(t, nil)

	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "acme", Handle: "@acme", Enabled: true}).Code)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "idle", Handle: "@idle", Enabled: true}).Code)

	rec := env.do(t, http.MethodPost, "/accounts/acme/drafts", DraftRequest{ID: "d1", Format: "text", Topic: "go", Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/accounts/acme/drafts", DraftRequest{ID: "d2"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/accounts/acme/drafts", DraftRequest{ID: "../d3", Content: "x"}).Code)

	rec = env.do(t, http.MethodPost, "/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[coordinator.Summary](t, rec)
	require.Len(t, summary.Results, 2)
	acme, ok := summary.Result("acme")
	require.True(t, ok)
	assert.Equal(t, coordinator.OutcomePublished, acme.Outcome)
	assert.Equal(t, []string{"d1"}, acme.Posts)

	idle, _ := summary.Result("idle")
	assert.Equal(t, coordinator.OutcomeSkipped, idle.Outcome)
	assert.Equal(t, engine.ReasonNoCandidates, idle.Reason)

	require.Len(t, env.pub.ForAccount("acme"), 1)
	entries, err := env.store.Ledger().Entries(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signalforge_runs_total 1")
	assert.Contains(t, rec.Body.String(), "signalforge_posts_published_total 1")
}

func TestRunOutlivesCallerDisconnect(t *testing.T) {
	env := setupTestServer(t, nil)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "acme", Handle: "@acme", Enabled: true}).Code)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/accounts/acme/drafts", DraftRequest{ID: "d1", Content: "hello"}).Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/scheduler/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[coordinator.Summary](t, rec)
	acme, ok := summary.Result("acme")
	require.True(t, ok)
	assert.Equal(t, coordinator.OutcomePublished, acme.Outcome)
	assert.Len(t, env.pub.ForAccount("acme"), 1)
}

func TestAddDraft_Intake(t *testing.T) {
	env := setupTestServer(t, nil)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/accounts", CreateAccountRequest{ID: "acme", Handle: "@acme", Enabled: true}).Code)

	rec := env.do(t, http.MethodPost, "/accounts/ghost/drafts", DraftRequest{ID: "d1", Content: "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "drafts for unknown accounts are refused")
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/accounts/bad!/drafts", DraftRequest{ID: "d1", Content: "hello"}).Code)

	rec = env.do(t, http.MethodPost, "/accounts/acme/drafts", DraftRequest{ID: "d1", Topic: "go", Content: "range over func is great"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name   string
		req    DraftRequest
		reason guardrail.Reason
	}{
		{"too long", DraftRequest{ID: "d2", Content: strings.Repeat("x", 261)}, guardrail.ReasonThreadLength},
		{"blocked term", DraftRequest{ID: "d3", Content: "go die"}, guardrail.ReasonSafety},
		{"link on a no-link account", DraftRequest{ID: "d4", Content: "see https://go.dev"}, guardrail.ReasonLinkPolicy},
		{"near duplicate", DraftRequest{ID: "d5", Content: "Range over func is GREAT!"}, guardrail.ReasonSimilarity},
		{"copied source", DraftRequest{ID: "d6", Content: "the proposal was accepted", SourceText: "The proposal was accepted."}, guardrail.ReasonSourceSimilarity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/accounts/acme/drafts", tt.req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.reason), decode[ErrorResponse](t, rec).Reason)
		})
	}

	items, err := env.store.Pool().Unconsumed(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, items, 1, "only the accepted draft is stored")
	assert.Equal(t, "d1", items[0].ID)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), `signalforge_candidates_rejected_total{reason="link_policy"} 1`)
}

func TestRunFailure(t *testing.T) {
	server, err := NewServer(&fakeScheduler{err: errors.New("list enabled accounts: db down")}, &store.Store{}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scheduler/run", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	env := setupTestServer(t, nil, WithHTTPMetrics(NewHTTPMetrics(mp.Meter(InstrumentationName), nil)))

	env.do(t, http.MethodGet, "/health", nil)
	env.do(t, http.MethodGet, "/accounts/one/settings", nil)
	env.do(t, http.MethodGet, "/accounts/two/settings", nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
			if m.Name != "signalforge.http.requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[endpoint.AsString()+" "+status.Emit()] += dp.Value
			}
		}
	}

	assert.Contains(t, names, "signalforge.http.request_duration_seconds")
	assert.Contains(t, names, "signalforge.http.response_size_bytes")
	assert.Equal(t, int64(1), counts["/health 200"])
	assert.Equal(t, int64(2), counts["/accounts/:id/settings 404"], "route pattern keeps account ids out of labels")
}
