package workflows

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/signalforge/internal/workflows"

var (
	metricsOnce   sync.Once
	runCounter    metric.Int64Counter
	runDuration   metric.Float64Histogram
	runErrCounter metric.Int64Counter
)

// initMetrics creates the instruments on first use, after telemetry has
// installed the global meter provider.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	runCounter, _ = meter.Int64Counter(
		"signalforge.workflows.scheduler_run.executions",
		metric.WithDescription("Scheduler activity executions by trigger"),
		metric.WithUnit("{execution}"),
	)
	runDuration, _ = meter.Float64Histogram(
		"signalforge.workflows.scheduler_run.duration",
		metric.WithDescription("Duration of scheduler activity executions"),
		metric.WithUnit("s"),
	)
	runErrCounter, _ = meter.Int64Counter(
		"signalforge.workflows.scheduler_run.errors",
		metric.WithDescription("Scheduler activity executions that failed"),
		metric.WithUnit("{error}"),
	)
}

// recordRun is called from activities only; workflow code must stay
// deterministic.
func recordRun(ctx context.Context, trigger string, d time.Duration, err error) {
	metricsOnce.Do(initMetrics)
	attrs := metric.WithAttributes(attribute.String("trigger", trigger))
	if runCounter != nil {
		runCounter.Add(ctx, 1, attrs)
	}
	if runDuration != nil {
		runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil && runErrCounter != nil {
		runErrCounter.Add(ctx, 1, attrs)
	}
}
