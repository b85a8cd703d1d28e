// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Leads processed by scoring runs, labelled ok | degraded | failed
	LeadsScored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_leads_scored_total",
		Help: "Total number of leads processed by scoring runs, by outcome",
	}, []string{"outcome"})

	// Wall time of a full scoring run
	ScoringRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_scoring_run_duration_seconds",
		Help:    "Duration of batch scoring runs",
		Buckets: prometheus.DefBuckets,
	})

	HotLeads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_hot_leads_total",
		Help: "Total number of leads classified hot",
	})

	HistoryEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_score_history_entries_total",
		Help: "Total number of score history entries appended",
	})

	// Analytics runs, labelled completed | partially_failed
	AnalyticsRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_analytics_runs_total",
		Help: "Total number of analytics runs, by final state",
	}, []string{"state"})

	AnalyticsRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_analytics_run_duration_seconds",
		Help:    "Duration of analytics runs",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_http_requests_total",
		Help: "Total number of HTTP requests, by route and status code",
	}, []string{"route", "code"})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			LeadsScored,
			ScoringRunDuration,
			HotLeads,
			HistoryEntries,
			AnalyticsRuns,
			AnalyticsRunDuration,
			HTTPRequests,
		)
	})
}
