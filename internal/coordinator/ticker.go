package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is anything that can perform one scheduler run.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

// Ticker triggers a run every interval in the background.
//
// Each run is independent: errors and panics are logged and the ticker
// keeps going until Stop is called.
type Ticker struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// TickerOption configures a Ticker.
type TickerOption func(*Ticker)

// WithRunTimeout bounds each triggered run. Defaults to the interval.
func WithRunTimeout(d time.Duration) TickerOption {
	return func(t *Ticker) {
		if d > 0 {
			t.runTimeout = d
		}
	}
}

// NewTicker creates a ticker. It does not start until Start is called.
func NewTicker(runner Runner, interval time.Duration, logger *zap.Logger, opts ...TickerOption) (*Ticker, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Ticker{
		runner:     runner,
		interval:   interval,
		runTimeout: interval,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start begins the background loop. Starting a running ticker is an error.
func (t *Ticker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("ticker is already running")
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.running = true

	t.logger.Info("scheduler ticker started", zap.Duration("interval", t.interval))
	go t.loop(t.stopCh, t.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for an in-flight run to finish.
// Stopping a stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	done := t.doneCh
	t.mu.Unlock()

	<-done
	t.logger.Info("scheduler ticker stopped")
}

// Running reports whether the loop is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Ticker) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			t.safeRun(stopCh)
		case <-stopCh:
			return
		}
	}
}

func (t *Ticker) safeRun(stopCh <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("scheduled run panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.runTimeout)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := t.runner.Run(ctx)
	if err != nil {
		t.logger.Error("scheduled run failed", zap.Error(err))
		return
	}
	counts := summary.Counts()
	t.logger.Info("scheduled run completed",
		zap.String("run.id", summary.RunID),
		zap.Int("accounts", len(summary.Results)),
		zap.Int("published", counts[OutcomePublished]),
	)
}
