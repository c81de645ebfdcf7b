package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watcher metrics
	FolderEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_folder_events_total",
			Help: "Folder events emitted by the watcher",
		},
		[]string{"endpoint", "kind"},
	)

	// Processor metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_messages_processed_total",
			Help: "Messages that reached a terminal status",
		},
		[]string{"endpoint", "status"}, // "completed" or "failed"
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_processing_duration_seconds",
			Help:    "Time spent routing and handling one message",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"handler_kind"},
	)

	InFlightMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailroom_in_flight_messages",
			Help: "Messages currently being processed",
		},
	)

	// Responder metrics
	AgentTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_agent_tokens_total",
			Help: "Tokens reported by providers per agent",
		},
		[]string{"agent", "direction"}, // "input" or "output"
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_tool_calls_total",
			Help: "Mailbox tool invocations by agents",
		},
		[]string{"tool", "outcome"},
	)

	// Infrastructure metrics
	StatusStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_status_store_latency_seconds",
			Help:    "Status store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailroom_http_requests_total",
			Help: "Total HTTP requests served by the daemon",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailroom_provider_healthy",
			Help: "1 when the agent's provider passed its last health check",
		},
		[]string{"agent"},
	)
)
