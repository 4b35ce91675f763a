package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/ledger"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/signalforge/internal/engine")

// DefaultRecencyWindow is how far back label usage counts toward decay.
const DefaultRecencyWindow = 7 * 24 * time.Hour

// minScore floors candidate scores so unscored items stay selectable.
const minScore = 0.01

// Input is everything one decision reads.
type Input struct {
	AccountID string
	Policy    *policy.Policy
	Now       time.Time
	Ledger    ledger.Ledger
	Pool      candidate.Pool
}

// Engine produces scheduling decisions. It holds no per-account state and
// is safe for concurrent use.
type Engine struct {
	decay         DecayFunc
	recencyWindow time.Duration
	seedBucket    time.Duration
	logger        *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecay replaces the recency decay function.
func WithDecay(fn DecayFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.decay = fn
		}
	}
}

// WithRecencyWindow sets how far back label counts are read.
func WithRecencyWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.recencyWindow = d
		}
	}
}

// WithSeedBucket sets the time bucket used when seeding each decision.
func WithSeedBucket(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.seedBucket = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		decay:         InverseDecay,
		recencyWindow: DefaultRecencyWindow,
		seedBucket:    DefaultSeedBucket,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the decision steps for one account. It never returns a Go
// error; collaborator failures become OutcomeError decisions.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	ctx, span := tracer.Start(ctx, "engine.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", in.AccountID))

	d := e.decide(ctx, in)

	span.SetAttributes(
		attribute.String("decision.outcome", string(d.Outcome)),
		attribute.String("decision.reason", d.Reason),
		attribute.Int("decision.posts", len(d.Posts)),
	)
	if d.Err != nil {
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, d.Reason)
	}
	return d
}

func (e *Engine) decide(ctx context.Context, in Input) Decision {
	seed := Seed(in.AccountID, in.Now, e.seedBucket)
	d := newDecision(in.AccountID, in.Now, seed)
	p := in.Policy

	if !p.Valid() {
		return e.invariant(ctx, d, errors.New("policy was not produced by policy.Validate"))
	}

	local := in.Now.In(p.Location)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)

	postedToday, err := in.Ledger.CountSince(ctx, in.AccountID, startOfDay)
	if err != nil {
		return e.collaborator(ctx, d, "count posts today", err)
	}
	if postedToday >= p.DailyPostMax {
		return d.skip(ReasonDailyMax)
	}

	hour := local.Hour()
	if !p.AllowedHours.Contains(hour) {
		return d.skip(ReasonOutsideHours)
	}

	if p.AllowedHours.CountFrom(hour) < p.DailyPostMin-postedToday {
		d.Annotations = append(d.Annotations, AnnotationBehindQuota)
	}

	last, ok, err := in.Ledger.LastPublishedAt(ctx, in.AccountID)
	if err != nil {
		return e.collaborator(ctx, d, "read last publish time", err)
	}
	if ok && in.Now.Sub(last) < p.MinSpacing {
		return d.skip(ReasonSpacing)
	}

	items, err := in.Pool.Unconsumed(ctx, in.AccountID)
	if err != nil {
		return e.collaborator(ctx, d, "list candidates", err)
	}
	if len(items) == 0 {
		return d.skip(ReasonNoCandidates)
	}

	recent, err := in.Ledger.RecentLabelCounts(ctx, in.AccountID, in.Now.Add(-e.recencyWindow))
	if err != nil {
		return e.collaborator(ctx, d, "read recent label counts", err)
	}

	eligible := e.weigh(ctx, p, items, recent)
	if len(eligible) == 0 {
		return d.skip(ReasonNoEligible)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	// Draw order is fixed: shape, then link, then one draw per slot.
	shapeDraw := rng.Float64()
	linkDraw := rng.Float64()

	var threadable []weighted
	for _, w := range eligible {
		if w.item.ThreadEligible {
			threadable = append(threadable, w)
		}
	}

	slots, from := 1, eligible
	if shapeDraw < p.ThreadRatio && len(threadable) > 0 {
		slots, from = min(p.MaxThreadLen, len(threadable)), threadable
	}
	preferLink := p.AllowLinks && linkDraw < p.LinkPostRatio

	chosen := pick(rng, from, slots, preferLink)
	if len(chosen) == 0 {
		return d.skip(ReasonNoEligible)
	}

	for _, c := range chosen {
		if err := in.Pool.MarkConsumed(ctx, in.AccountID, c.item.ID); err != nil {
			if errors.Is(err, candidate.ErrAlreadyConsumed) || errors.Is(err, candidate.ErrNotFound) {
				return e.invariant(ctx, d, fmt.Errorf("claim candidate %s: %w", c.item.ID, err))
			}
			return e.collaborator(ctx, d, "mark candidate consumed", err)
		}
	}

	ids := make([]string, len(chosen))
	for i, c := range chosen {
		ids[i] = c.item.ID
	}
	d.ID = DecisionID(in.AccountID, seed, ids)
	d.Outcome = OutcomePublish
	d.Posts = make([]Post, len(chosen))
	for i, c := range chosen {
		d.Posts[i] = Post{
			Position: i,
			Item:     c.item,
			Format:   c.item.Format,
			Topic:    c.item.Topic,
			HasLink:  c.item.HasLink,
			Weight:   c.weight,
		}
	}

	e.logger.Debug("publish decision",
		zap.String("account_id", in.AccountID),
		zap.Int("posts", len(d.Posts)),
		zap.Bool("prefer_link", preferLink),
		zap.Strings("annotations", d.Annotations),
	)
	return d
}

func (e *Engine) collaborator(ctx context.Context, d Decision, op string, err error) Decision {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Join(err, ctxErr)
	}
	e.logger.Warn("collaborator unavailable",
		zap.String("account_id", d.AccountID),
		zap.String("op", op),
		zap.Error(err),
	)
	return d.fail(ReasonCollaborator, fmt.Errorf("%w: %s: %w", ErrCollaborator, op, err))
}

func (e *Engine) invariant(_ context.Context, d Decision, err error) Decision {
	e.logger.Error("invariant violation, decision aborted",
		zap.String("account_id", d.AccountID),
		zap.String("decision_id", d.ID.String()),
		zap.Error(err),
	)
	return d.fail(ReasonInvariant, fmt.Errorf("%w: %w", ErrInvariant, err))
}
