// Package coordinator runs the decision engine across every enabled account
// and realizes the resulting publish decisions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/engine"
	"github.com/fyrsmithlabs/signalforge/internal/ledger"
	"github.com/fyrsmithlabs/signalforge/internal/lock"
	"github.com/fyrsmithlabs/signalforge/internal/logging"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"github.com/fyrsmithlabs/signalforge/internal/publish"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for the per-run limits.
const (
	DefaultConcurrency        = 4
	DefaultAccountTimeout     = 30 * time.Second
	DefaultMaxPublishAttempts = 3
)

// releaseTimeout bounds returning candidates after a failed publish. The
// account lock must outlive the account deadline by at least this much.
const releaseTimeout = 5 * time.Second

const tracerName = "github.com/fyrsmithlabs/signalforge/internal/coordinator"

// Coordinator runs scheduling across accounts. Runs may overlap; the locker
// keeps two runs from working on the same account at once.
type Coordinator struct {
	accounts  AccountSource
	ledger    ledger.Ledger
	pool      candidate.Pool
	engine    *engine.Engine
	publisher publish.Publisher

	locker          lock.Locker
	concurrency     int
	accountTimeout  time.Duration
	maxAttempts     int
	postingDisabled bool
	clock           func() time.Time
	metrics         *Metrics
	tracer          trace.Tracer
	logger          *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker sets the per-account locker. Defaults to an in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithConcurrency bounds how many accounts are processed at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithAccountTimeout sets the deadline for one account's decision, publish
// and ledger append.
func WithAccountTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.accountTimeout = d
		}
	}
}

// WithMaxPublishAttempts sets how many failed publishes retire a
// candidate. n <= 0 retries forever.
func WithMaxPublishAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithPostingDisabled computes decisions without publishing or consuming
// candidates.
func WithPostingDisabled(disabled bool) Option {
	return func(c *Coordinator) { c.postingDisabled = disabled }
}

// WithClock overrides the time source used for decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.clock = now }
}

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracerProvider sets where run and account spans go. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(accounts AccountSource, l ledger.Ledger, pool candidate.Pool, eng *engine.Engine, pub publish.Publisher, opts ...Option) (*Coordinator, error) {
	switch {
	case accounts == nil:
		return nil, errors.New("account source cannot be nil")
	case l == nil:
		return nil, errors.New("ledger cannot be nil")
	case pool == nil:
		return nil, errors.New("candidate pool cannot be nil")
	case eng == nil:
		return nil, errors.New("engine cannot be nil")
	case pub == nil:
		return nil, errors.New("publisher cannot be nil")
	}

	c := &Coordinator{
		accounts:       accounts,
		ledger:         l,
		pool:           pool,
		engine:         eng,
		publisher:      pub,
		locker:         lock.NewLocal(),
		concurrency:    DefaultConcurrency,
		accountTimeout: DefaultAccountTimeout,
		maxAttempts:    DefaultMaxPublishAttempts,
		clock:          time.Now,
		tracer:         otel.Tracer(tracerName),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// PostingDisabled reports whether the kill switch is on.
func (c *Coordinator) PostingDisabled() bool {
	return c.postingDisabled
}

// Run processes every enabled account once. Per-account failures are
// reported in the summary; the returned error is only set when the account
// list itself cannot be read.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := c.tracer.Start(ctx, "coordinator.Run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	logger := c.logger.With(logging.ContextFields(ctx)...)
	summary := &Summary{RunID: runID, StartedAt: c.clock()}

	accounts, err := c.accounts.EnabledAccounts(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list accounts")
		logger.Error("failed to list enabled accounts", zap.Error(err))
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}

	logger.Info("scheduler run started",
		zap.Int("accounts", len(accounts)),
		zap.Bool("posting_disabled", c.postingDisabled),
	)

	results := make([]AccountResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, acct := range accounts {
		g.Go(func() error {
			results[i] = c.safeRunAccount(ctx, logger, acct)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].AccountID < results[j].AccountID })
	summary.Results = results
	summary.FinishedAt = c.clock()
	c.metrics.observe(summary)

	counts := summary.Counts()
	span.SetAttributes(
		attribute.Int("run.accounts", len(results)),
		attribute.Int("run.published", counts[OutcomePublished]),
	)
	logger.Info("scheduler run finished",
		zap.Int("published", counts[OutcomePublished]),
		zap.Int("skipped", counts[OutcomeSkipped]),
		zap.Int("failed", counts[OutcomeError]+counts[OutcomePublishFailed]),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

func (c *Coordinator) safeRunAccount(ctx context.Context, logger *zap.Logger, acct Account) (res AccountResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("account processing panicked",
				zap.String("account.id", acct.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = AccountResult{
				AccountID: acct.ID,
				Outcome:   OutcomeError,
				Reason:    ReasonPanic,
				Error:     fmt.Sprint(r),
			}
		}
	}()
	return c.runAccount(ctx, acct)
}

func (c *Coordinator) runAccount(ctx context.Context, acct Account) AccountResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.accountTimeout)
	defer cancel()

	ctx = logging.WithAccountID(ctx, acct.ID)
	ctx, span := c.tracer.Start(ctx, "coordinator.account", trace.WithAttributes(attribute.String("account.id", acct.ID)))
	defer span.End()

	logger := c.logger.With(logging.ContextFields(ctx)...)
	res := c.processAccount(ctx, logger, acct)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("result.outcome", string(res.Outcome)),
		attribute.String("result.reason", res.Reason),
	)
	if res.Error != "" {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (c *Coordinator) processAccount(ctx context.Context, logger *zap.Logger, acct Account) AccountResult {
	res := AccountResult{AccountID: acct.ID}

	p, err := policy.Validate(acct.Settings)
	if err != nil {
		res.Outcome, res.Reason = OutcomeInvalidPolicy, ReasonInvalidPolicy
		res.Error = err.Error()
		if ve, ok := policy.AsValidationError(err); ok {
			res.Violations = ve.Violations
		}
		logger.Warn("account has invalid policy", zap.Error(err))
		return res
	}

	unlock, ok, err := c.locker.TryLock(ctx, acct.ID)
	if err != nil {
		res.Outcome, res.Reason, res.Error = OutcomeError, ReasonLockUnavailable, err.Error()
		logger.Warn("account lock unavailable", zap.Error(err))
		return res
	}
	if !ok {
		res.Outcome, res.Reason = OutcomeLocked, ReasonAccountLocked
		logger.Info("account already being processed")
		return res
	}
	defer unlock()

	pool := c.pool
	if c.postingDisabled {
		pool = candidate.NewDryRun(c.pool)
	}

	d := c.engine.Decide(ctx, engine.Input{
		AccountID: acct.ID,
		Policy:    p,
		Now:       c.clock(),
		Ledger:    c.ledger,
		Pool:      pool,
	})
	res.DecisionID = d.ID.String()
	res.Annotations = d.Annotations

	switch d.Outcome {
	case engine.OutcomeSkip:
		res.Outcome, res.Reason = OutcomeSkipped, d.Reason
		logger.Debug("account skipped", zap.String("reason", d.Reason), zap.Strings("annotations", d.Annotations))
		return res
	case engine.OutcomeError:
		res.Outcome, res.Reason = OutcomeError, d.Reason
		if d.Err != nil {
			res.Error = d.Err.Error()
		}
		return res
	}

	res.Posts = make([]string, len(d.Posts))
	for i, post := range d.Posts {
		res.Posts[i] = post.Item.ID
	}

	if c.postingDisabled {
		res.Outcome, res.Reason = OutcomePublishDisabled, ReasonPostingDisabled
		logger.Info("posting disabled, decision not published", zap.Strings("posts", res.Posts))
		return res
	}

	if err := c.publisher.Publish(ctx, publish.FromDecision(d)); err != nil {
		res.Outcome, res.Reason, res.Error = OutcomePublishFailed, ReasonPublishFailed, err.Error()
		logger.Warn("publish failed, decision not recorded", zap.String("decision_id", res.DecisionID), zap.Error(err))
		res.Retired = c.release(logger, acct.ID, res.Posts)
		return res
	}

	entry := entryFor(d)
	if err := c.ledger.Append(ctx, entry); err != nil {
		// The post is out; spacing and quota for this account are now
		// undercounted until the ledger is repaired.
		res.Outcome, res.Reason, res.Error = OutcomeError, ReasonLedgerAppend, err.Error()
		logger.Error("published decision could not be recorded",
			zap.String("decision_id", res.DecisionID),
			zap.Strings("posts", res.Posts),
			zap.Error(err),
		)
		return res
	}

	res.Outcome = OutcomePublished
	logger.Info("decision published",
		zap.String("decision_id", res.DecisionID),
		zap.Int("posts", len(res.Posts)),
		zap.Strings("annotations", d.Annotations),
	)
	return res
}

// release returns the candidates of an unpublished decision to the pool so
// a later run can pick them again, and reports the ones that ran out of
// attempts instead. The account lock is still held.
func (c *Coordinator) release(logger *zap.Logger, accountID string, ids []string) []string {
	r, ok := c.pool.(candidate.Releaser)
	if !ok {
		return nil
	}
	// The account deadline may be what failed the publish.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	var retired []string
	for _, id := range ids {
		gone, err := r.Release(ctx, accountID, id, c.maxAttempts)
		if err != nil {
			logger.Warn("failed to release candidate", zap.String("candidate_id", id), zap.Error(err))
			continue
		}
		if gone {
			retired = append(retired, id)
			logger.Warn("candidate retired after repeated publish failures",
				zap.String("candidate_id", id),
				zap.Int("max_attempts", c.maxAttempts),
			)
		}
	}
	return retired
}

// entryFor records a whole decision as one ledger entry: thread length is
// the post count, labels come from the first post, and the link flag is set
// when any post links.
func entryFor(d engine.Decision) ledger.Entry {
	e := ledger.Entry{
		AccountID:    d.AccountID,
		PublishedAt:  d.DecidedAt,
		Format:       d.Posts[0].Format,
		Topic:        d.Posts[0].Topic,
		ThreadLength: len(d.Posts),
		DecisionID:   d.ID.String(),
	}
	for _, p := range d.Posts {
		if p.HasLink {
			e.HasLink = true
		}
	}
	return e
}
