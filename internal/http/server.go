// Package http serves the signalforge operator API: scheduler trigger,
// account settings and Prometheus metrics.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
	"github.com/fyrsmithlabs/signalforge/internal/guardrail"
	"github.com/fyrsmithlabs/signalforge/internal/logging"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"github.com/fyrsmithlabs/signalforge/internal/sanitize"
	"github.com/fyrsmithlabs/signalforge/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AccountStore is the settings side of the store used by the API.
type AccountStore interface {
	CreateAccount(ctx context.Context, a store.Account) error
	ListAccounts(ctx context.Context) ([]store.Account, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	GetSettings(ctx context.Context, id string) (policy.Settings, error)
	SaveSettings(ctx context.Context, id string, s policy.Settings) error
}

// DraftSink admits manually written candidates after the intake checks.
// Failed checks return a *guardrail.Rejection.
type DraftSink interface {
	Admit(ctx context.Context, it candidate.Item, settings policy.Settings, sourceText string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Scheduler runs the coordinator on demand.
type Scheduler interface {
	coordinator.Runner
	PostingDisabled() bool
}

// Server provides the HTTP API.
type Server struct {
	echo      *echo.Echo
	scheduler Scheduler
	accounts  AccountStore
	drafts    DraftSink
	gatherer  prometheus.Gatherer
	metrics   *HTTPMetrics
	checks    map[string]HealthCheck
	logger    *zap.Logger
	config    *Config
	now       func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Token   string // bearer token; empty disables auth
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHTTPMetrics records OTEL request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDrafts enables POST /accounts/:id/drafts.
func WithDrafts(d DraftSink) Option {
	return func(s *Server) { s.drafts = d }
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates the server and registers its routes.
func NewServer(scheduler Scheduler, accounts AccountStore, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8010}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		scheduler: scheduler,
		accounts:  accounts,
		checks:    make(map[string]HealthCheck),
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

		err := next(c)

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request.id", requestID),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	var auth []echo.MiddlewareFunc
	if s.config.Token != "" {
		auth = append(auth, s.bearerAuth())
	}

	s.echo.POST("/scheduler/run", s.handleRun, auth...)
	s.echo.POST("/settings/validate", s.handleValidate, auth...)
	s.echo.GET("/accounts", s.handleListAccounts, auth...)
	s.echo.POST("/accounts", s.handleCreateAccount, auth...)
	s.echo.PUT("/accounts/:id/enabled", s.handleSetEnabled, auth...)
	s.echo.GET("/accounts/:id/settings", s.handleGetSettings, auth...)
	s.echo.PUT("/accounts/:id/settings", s.handlePutSettings, auth...)
	if s.drafts != nil {
		s.echo.POST("/accounts/:id/drafts", s.handleAddDraft, auth...)
	}
}

// bearerAuth rejects requests without the configured token. Missing and
// wrong tokens both get 401.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.Token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			s.logger.Warn("unauthorized request", zap.String("uri", c.Request().RequestURI), zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:          "ok",
		Version:         s.config.Version,
		PostingDisabled: s.scheduler.PostingDisabled(),
	}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	return c.JSON(code, resp)
}

// handleRun runs to completion even if the caller goes away; each account
// is bounded by its own deadline instead.
func (s *Server) handleRun(c echo.Context) error {
	summary, err := s.scheduler.Run(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		s.logger.Error("triggered run failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleValidate(c echo.Context) error {
	var settings policy.Settings
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := policy.Validate(settings); err != nil {
		return s.validationFailed(c, err)
	}
	return c.JSON(http.StatusOK, ValidationResponse{Valid: true})
}

func (s *Server) handleListAccounts(c echo.Context) error {
	accts, err := s.accounts.ListAccounts(c.Request().Context())
	if err != nil {
		return s.storeError(c, err)
	}
	if accts == nil {
		accts = []store.Account{}
	}
	return c.JSON(http.StatusOK, accts)
}

func (s *Server) handleCreateAccount(c echo.Context) error {
	var req CreateAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id field is required")
	}
	if err := sanitize.AccountID(req.ID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	settings := policy.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if _, err := policy.Validate(settings); err != nil {
		return s.validationFailed(c, err)
	}

	acct := store.Account{ID: req.ID, Handle: req.Handle, Enabled: req.Enabled, Settings: settings}
	if err := s.accounts.CreateAccount(c.Request().Context(), acct); err != nil {
		return s.storeError(c, err)
	}
	s.logger.Info("account created", zap.String("account.id", req.ID), zap.Bool("enabled", req.Enabled))
	return c.JSON(http.StatusCreated, acct)
}

func (s *Server) handleSetEnabled(c echo.Context) error {
	var req EnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.accounts.SetEnabled(c.Request().Context(), c.Param("id"), req.Enabled); err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	settings, err := s.accounts.GetSettings(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

// handlePutSettings persists only settings that validate, so stored
// settings only go invalid through direct database edits.
func (s *Server) handlePutSettings(c echo.Context) error {
	var settings policy.Settings
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := policy.Validate(settings); err != nil {
		return s.validationFailed(c, err)
	}
	id := c.Param("id")
	if err := s.accounts.SaveSettings(c.Request().Context(), id, settings); err != nil {
		return s.storeError(c, err)
	}
	s.logger.Info("account settings updated", zap.String("account.id", id))
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) handleAddDraft(c echo.Context) error {
	var req DraftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and content fields are required")
	}
	if err := sanitize.ItemID(req.ID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	accountID := c.Param("id")
	if err := sanitize.AccountID(accountID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	settings, err := s.accounts.GetSettings(ctx, accountID)
	if err != nil {
		return s.storeError(c, err)
	}

	score := req.Score
	if score == 0 {
		score = 1
	}
	it := candidate.FromDraft(req.ID, accountID, req.Format, req.Topic, req.Content, s.now().UTC(), score)
	if err := s.drafts.Admit(ctx, it, settings, req.SourceText); err != nil {
		if rej, ok := guardrail.AsRejection(err); ok {
			return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: rej.Error(), Reason: string(rej.Reason)})
		}
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, it)
}

func (s *Server) validationFailed(c echo.Context, err error) error {
	ve, ok := policy.AsValidationError(err)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusUnprocessableEntity, ValidationResponse{
		Valid:      false,
		Violations: ve.Violations,
		Fields:     ve.Fields(),
	})
}

func (s *Server) storeError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrAccountNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	s.logger.Error("store request failed",
		zap.String("path", c.Path()),
		zap.String("account.id", c.Param("id")),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr), zap.Bool("auth", s.config.Token != ""))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
