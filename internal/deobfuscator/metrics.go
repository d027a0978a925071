package deobfuscator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for deobfuscation runs. A nil *Metrics records nothing.
type Metrics struct {
	// Runs by terminal status
	runs *prometheus.CounterVec

	// Pass activity
	replacements *prometheus.CounterVec
	passFailures *prometheus.CounterVec

	// Literal sweep
	decodedLiterals prometheus.Counter

	// Dynamic execution payloads seen before rewriting
	intercepted *prometheus.CounterVec

	// Per-run shape
	rounds     prometheus.Histogram
	score      prometheus.Histogram
	capReached prometheus.Counter
	duration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phpunmixer_runs_total",
				Help: "Total number of deobfuscation runs by status",
			},
			[]string{"status"},
		),

		replacements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phpunmixer_pass_replacements_total",
				Help: "Total number of nodes replaced by each pass",
			},
			[]string{"pass"},
		),

		passFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phpunmixer_pass_failures_total",
				Help: "Total number of pass invocations that failed and were skipped",
			},
			[]string{"pass"},
		),

		decodedLiterals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "phpunmixer_decoded_literals_total",
				Help: "Total number of string literals rewritten by the literal sweep",
			},
		),

		intercepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phpunmixer_intercepted_payloads_total",
				Help: "Total number of literal dynamic-execution payloads found before rewriting",
			},
			[]string{"construct"},
		),

		rounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phpunmixer_rounds",
				Help:    "Optimizer rounds per run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 13),
			},
		),

		score: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phpunmixer_score",
				Help:    "Deobfuscation score per run",
				Buckets: []float64{0, 10, 50, 100, 250, 1000, 5000},
			},
		),

		capReached: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "phpunmixer_iteration_cap_reached_total",
				Help: "Total number of runs stopped by the round cap",
			},
		),

		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phpunmixer_run_duration_seconds",
				Help:    "Wall time of a deobfuscation run",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) replaced(pass string, n int) {
	if m == nil {
		return
	}
	m.replacements.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) passFailed(pass string) {
	if m == nil {
		return
	}
	m.passFailures.WithLabelValues(pass).Inc()
}

func (m *Metrics) decoded(n int) {
	if m == nil {
		return
	}
	m.decodedLiterals.Add(float64(n))
}

func (m *Metrics) interceptedPayload(construct string) {
	if m == nil {
		return
	}
	m.intercepted.WithLabelValues(construct).Inc()
}

func (m *Metrics) observeRun(r *Report, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(r.Status.Label()).Inc()
	m.duration.Observe(elapsed.Seconds())
	if r.Status == StatusParseFailed {
		return
	}
	m.rounds.Observe(float64(r.Rounds))
	m.score.Observe(float64(r.Score))
	if r.CapReached {
		m.capReached.Inc()
	}
}
