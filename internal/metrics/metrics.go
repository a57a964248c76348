package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backport"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder holds the Prometheus collectors of one engine instance.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	stageDuration  *prometheus.HistogramVec
	stageResults   *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searches       *prometheus.CounterVec
	gitDuration    *prometheus.HistogramVec
	gitCalls       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	unknown        prometheus.Counter
}

// New creates a Recorder whose collectors are registered with reg.
// Pass prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "stage_duration_seconds",
				Help:      "Duration of one search stage in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60},
			},
			[]string{"stage"},
		),
		stageResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "stage_results_total",
				Help:      "Search stages by stage and result (accepted, rejected, skipped, error)",
			},
			[]string{"stage", "result"},
		),
		searchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Duration of a complete staged search in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "total",
				Help:      "Completed searches by final status",
			},
			[]string{"status"},
		),
		gitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "git",
				Name:      "command_duration_seconds",
				Help:      "Duration of git commands in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"command"},
		),
		gitCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "git",
				Name:      "commands_total",
				Help:      "Git commands by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by cache kind and result (hit, miss)",
			},
			[]string{"kind", "result"},
		),
		unknown: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "unknown_candidates_total",
				Help:      "Candidates dropped because their diff could not be fetched",
			},
		),
	}
}

// ObserveStage records one stage execution
func (r *Recorder) ObserveStage(stage string, d time.Duration, result string) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	r.stageResults.WithLabelValues(stage, result).Inc()
}

// ObserveSearch records a finished search with its final status
func (r *Recorder) ObserveSearch(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.searchDuration.Observe(d.Seconds())
	r.searches.WithLabelValues(status).Inc()
}

// ObserveGit records one git command
func (r *Recorder) ObserveGit(command string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.gitDuration.WithLabelValues(command).Observe(d.Seconds())
	r.gitCalls.WithLabelValues(command, outcome).Inc()
}

// ObserveCache records a cache hit or miss for the given cache kind
func (r *Recorder) ObserveCache(kind string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(kind, result).Inc()
}

// AddUnknown counts candidates excluded from scoring
func (r *Recorder) AddUnknown(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.unknown.Add(float64(n))
}

// Handler exposes the collectors of g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
