package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		AgentRuns, ModelAttempts, AgentDuration,
		OrchestrationDuration, TranscriptChunks,
	)
}

// AgentRuns counts agent results by outcome: live | fallback | canned.
var AgentRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_agent_runs_total",
		Help: "Agent results produced, by outcome.",
	},
	[]string{"agent", "outcome"},
)

// ModelAttempts counts individual model invocations, including retries.
var ModelAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_model_attempts_total",
		Help: "Model invocation attempts, by result.",
	},
	[]string{"agent", "result"}, // ok | error
)

var AgentDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "council_agent_duration_seconds",
		Help:    "Wall time of a single agent run.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"agent"},
)

var OrchestrationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "council_orchestration_duration_seconds",
		Help:    "Wall time of a full roster run.",
		Buckets: prometheus.DefBuckets,
	},
)

var TranscriptChunks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "council_transcript_chunks_total",
		Help: "Transcript lines appended, by source.",
	},
	[]string{"source"}, // text | audio | ws
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
