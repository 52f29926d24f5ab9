package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for layer_query_validations_total.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Outcome label values for layer_mcp_tool_calls_total.
const (
	ToolOutcomeSuccess   = "success"
	ToolOutcomeToolError = "tool_error"
	ToolOutcomeFault     = "fault"
)

// LayerMetrics holds the layer-query collectors. A nil *LayerMetrics is valid
// and records nothing, which keeps unit tests free of registry setup.
type LayerMetrics struct {
	validations *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	degraded    prometheus.Counter
	duration    *prometheus.HistogramVec
	toolCalls   *prometheus.CounterVec
}

// NewLayerMetrics creates the collectors and registers them with reg.
func NewLayerMetrics(reg prometheus.Registerer) *LayerMetrics {
	m := &LayerMetrics{
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layer_query_validations_total",
				Help: "Layer query validations by level and outcome.",
			},
			[]string{"level", "outcome"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layer_query_rejections_total",
				Help: "Rejected layer queries by the validation stage that rejected them.",
			},
			[]string{"stage"},
		),
		degraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "layer_query_metadata_degraded_total",
				Help: "Spatial metadata computations that fell back to degraded metadata.",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "layer_query_duration_seconds",
				Help:    "Duration of layer query operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layer_mcp_tool_calls_total",
				Help: "MCP tool calls by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
	}

	reg.MustRegister(m.validations, m.rejections, m.degraded, m.duration, m.toolCalls)
	return m
}

// ObserveValidation counts one validation outcome.
func (m *LayerMetrics) ObserveValidation(level string, valid bool) {
	if m == nil {
		return
	}
	outcome := OutcomeRejected
	if valid {
		outcome = OutcomeAccepted
	}
	m.validations.WithLabelValues(level, outcome).Inc()
}

// ObserveRejection counts a rejection at stage.
func (m *LayerMetrics) ObserveRejection(stage string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(stage).Inc()
}

// ObserveDegradedMetadata counts a metadata fallback.
func (m *LayerMetrics) ObserveDegradedMetadata() {
	if m == nil {
		return
	}
	m.degraded.Inc()
}

// ObserveDuration records how long operation took since start.
func (m *LayerMetrics) ObserveDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveToolCall counts one MCP tool call and records its duration under
// the operation label "mcp:<tool>".
func (m *LayerMetrics) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues("mcp:" + tool).Observe(elapsed.Seconds())
}
