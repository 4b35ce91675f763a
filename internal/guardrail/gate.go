package guardrail

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/signalforge/internal/candidate"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Sink stores admitted candidates. Contents lists the text of everything
// the account already has, consumed or not.
type Sink interface {
	Add(ctx context.Context, it candidate.Item) error
	Contents(ctx context.Context, accountID string) ([]string, error)
}

// Gate is the only way new candidates reach a Sink.
type Gate struct {
	checker  *Checker
	sink     Sink
	logger   *zap.Logger
	rejected *prometheus.CounterVec
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRegisterer counts rejections as signalforge_candidates_rejected_total
// by reason.
func WithRegisterer(reg prometheus.Registerer) GateOption {
	return func(g *Gate) {
		g.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "signalforge_candidates_rejected_total",
			Help: "Candidates refused at intake by reason",
		}, []string{"reason"})
	}
}

// NewGate wires checker in front of sink.
func NewGate(checker *Checker, sink Sink, logger *zap.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{checker: checker, sink: sink, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit checks it against the account's settings, the optional source
// text and the account's existing candidates, and stores it when every
// check passes. Failed checks return a *Rejection.
func (g *Gate) Admit(ctx context.Context, it candidate.Item, settings policy.Settings, sourceText string) error {
	existing, err := g.sink.Contents(ctx, it.AccountID)
	if err != nil {
		return fmt.Errorf("load existing candidates: %w", err)
	}

	err = g.checker.Check(Draft{Item: it, Settings: settings, SourceText: sourceText, Existing: existing})
	if rej, ok := AsRejection(err); ok {
		g.logger.Info("candidate rejected",
			zap.String("account.id", it.AccountID),
			zap.String("candidate_id", it.ID),
			zap.String("reason", string(rej.Reason)),
			zap.String("detail", rej.Detail),
		)
		if g.rejected != nil {
			g.rejected.WithLabelValues(string(rej.Reason)).Inc()
		}
		return err
	}
	if err != nil {
		return err
	}
	return g.sink.Add(ctx, it)
}
