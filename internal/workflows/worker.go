package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
)

// CronWorkflowID is the fixed ID of the cron-driven workflow, so restarts
// never start a second schedule.
const CronWorkflowID = "signalforge-scheduler-cron"

// NewWorker returns a worker on taskQueue with the scheduler workflow and
// activity registered. The caller starts and stops it.
func NewWorker(c client.Client, taskQueue string, runner coordinator.Runner, logger *zap.Logger) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(SchedulerRunWorkflow)
	w.RegisterActivity(NewActivities(runner, logger))
	return w
}

// StartCron starts the cron workflow unless it is already running.
func StartCron(ctx context.Context, c client.Client, taskQueue, schedule string, logger *zap.Logger) error {
	if schedule == "" {
		return fmt.Errorf("cron schedule is required")
	}
	opts := client.StartWorkflowOptions{
		ID:           CronWorkflowID,
		TaskQueue:    taskQueue,
		CronSchedule: schedule,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SchedulerRunWorkflow, SchedulerRunInput{Trigger: "cron"})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		logger.Info("scheduler cron workflow already running", zap.String("workflow_id", CronWorkflowID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("start cron workflow: %w", err)
	}
	logger.Info("scheduler cron workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("schedule", schedule),
	)
	return nil
}
