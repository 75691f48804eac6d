// Package metrics registers the Prometheus collectors shared by the pipeline passes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceQueries counts upstream search calls by platform and result (ok, error, cached).
	SourceQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_source_queries_total",
		Help: "Source adapter queries by platform and result",
	}, []string{"platform", "result"})

	// SourceFindings counts findings returned after filtering.
	SourceFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_source_findings_total",
		Help: "Findings returned by source adapters after filtering",
	}, []string{"platform"})

	PostsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_posts_ingested_total",
		Help: "Ingest outcomes by result (inserted, duplicate, failed)",
	}, []string{"result"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_classifications_total",
		Help: "Classification attempts by result",
	}, []string{"result"})

	Drafts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_drafts_total",
		Help: "Draft attempts by result",
	}, []string{"result"})

	BudgetDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_budget_decisions_total",
		Help: "Budget gate decisions by task and outcome",
	}, []string{"task", "outcome"})

	LLMSpendUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_llm_spend_usd_total",
		Help: "LLM spend in USD recorded by the ledger",
	}, []string{"task", "model"})

	QueueTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replyradar_autopilot_transitions_total",
		Help: "Autopilot queue item transitions by target status",
	}, []string{"status"})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replyradar_pass_duration_seconds",
		Help:    "Duration of batch passes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"pass"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
