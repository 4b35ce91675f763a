package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for scheduler runs.
//
// Metrics:
//   - signalforge_runs_total - Count of completed runs
//   - signalforge_run_duration_seconds - Histogram of run durations
//   - signalforge_account_results_total{outcome,reason} - Per-account results
//   - signalforge_publish_failures_total - Publisher calls that failed
//   - signalforge_posts_published_total - Posts handed to the publisher successfully
//   - signalforge_candidates_retired_total - Candidates dropped after too many failed publishes
type Metrics struct {
	RunsTotal         prometheus.Counter
	RunDuration       prometheus.Histogram
	ResultsTotal      *prometheus.CounterVec
	PublishFailures   prometheus.Counter
	PostsPublished    prometheus.Counter
	CandidatesRetired prometheus.Counter
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "signalforge_runs_total",
			Help: "Total number of scheduler runs completed",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalforge_run_duration_seconds",
			Help:    "Duration of scheduler runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		ResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalforge_account_results_total",
			Help: "Per-account run results by outcome and reason",
		}, []string{"outcome", "reason"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "signalforge_publish_failures_total",
			Help: "Total number of failed publisher calls",
		}),
		PostsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "signalforge_posts_published_total",
			Help: "Total number of posts accepted by the publisher",
		}),
		CandidatesRetired: f.NewCounter(prometheus.CounterOpts{
			Name: "signalforge_candidates_retired_total",
			Help: "Total number of candidates retired after reaching the publish attempt limit",
		}),
	}
}

func (m *Metrics) observe(s *Summary) {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
	m.RunDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	for _, r := range s.Results {
		m.ResultsTotal.WithLabelValues(string(r.Outcome), r.Reason).Inc()
		switch r.Outcome {
		case OutcomePublishFailed:
			m.PublishFailures.Inc()
			m.CandidatesRetired.Add(float64(len(r.Retired)))
		case OutcomePublished:
			m.PostsPublished.Add(float64(len(r.Posts)))
		}
	}
}
