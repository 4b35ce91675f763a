// Package workflows runs scheduler passes as Temporal workflows, so runs can
// be triggered on a cron schedule with durable history.
package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
)

// DefaultRunTimeout bounds one scheduler activity.
const DefaultRunTimeout = 10 * time.Minute

// SchedulerRunInput configures one workflow execution.
type SchedulerRunInput struct {
	Trigger string        // "cron" or "manual"
	Timeout time.Duration // activity start-to-close; DefaultRunTimeout when zero
}

// SchedulerRunResult is the condensed run summary kept in workflow history.
type SchedulerRunResult struct {
	RunID     string
	Accounts  int
	Published int
	Skipped   int
	Failed    int
	Outcomes  map[string]int
}

// SchedulerRunWorkflow performs one scheduler pass through
// RunSchedulerActivity. The activity is attempted exactly once: a failed
// pass is not retried within the same trigger, the next trigger is the retry.
func SchedulerRunWorkflow(ctx workflow.Context, in SchedulerRunInput) (*SchedulerRunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting scheduler run", "trigger", in.Trigger)

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var a *Activities
	var result SchedulerRunResult
	if err := workflow.ExecuteActivity(ctx, a.RunSchedulerActivity, in).Get(ctx, &result); err != nil {
		logger.Error("Scheduler run failed", "error", err)
		return nil, err
	}

	logger.Info("Scheduler run completed",
		"run_id", result.RunID,
		"accounts", result.Accounts,
		"published", result.Published)
	return &result, nil
}

// Activities holds the dependencies of the scheduler activity.
type Activities struct {
	runner coordinator.Runner
	logger *zap.Logger
}

// NewActivities creates the activity set around a coordinator.
func NewActivities(runner coordinator.Runner, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, logger: logger}
}

// RunSchedulerActivity executes one coordinator run.
func (a *Activities) RunSchedulerActivity(ctx context.Context, in SchedulerRunInput) (*SchedulerRunResult, error) {
	start := time.Now()
	info := activity.GetInfo(ctx)
	logger := a.logger.With(
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.String("trigger", in.Trigger),
	)

	summary, err := a.runner.Run(ctx)
	recordRun(ctx, in.Trigger, time.Since(start), err)
	if err != nil {
		logger.Error("scheduler activity failed", zap.Error(err))
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("scheduler run: %v", err), "SchedulerRunFailed", err)
	}

	result := summarize(summary)
	logger.Info("scheduler activity completed",
		zap.String("run.id", result.RunID),
		zap.Int("published", result.Published),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func summarize(s *coordinator.Summary) *SchedulerRunResult {
	counts := s.Counts()
	out := &SchedulerRunResult{
		RunID:     s.RunID,
		Accounts:  len(s.Results),
		Published: counts[coordinator.OutcomePublished],
		Skipped:   counts[coordinator.OutcomeSkipped],
		Failed:    counts[coordinator.OutcomeError] + counts[coordinator.OutcomePublishFailed],
		Outcomes:  make(map[string]int, len(counts)),
	}
	for outcome, n := range counts {
		out.Outcomes[string(outcome)] = n
	}
	return out
}
