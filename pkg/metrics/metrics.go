package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes Prometheus instruments for the decision engine.
// A nil *Recorder is valid and records nothing, so components can be
// wired without metrics in tests.
type Recorder struct {
	modelCalls         *prometheus.CounterVec
	transportRetries   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	callLatency        *prometheus.HistogramVec
}

// New registers the quorum instruments on the default registry.
func New() *Recorder {
	return &Recorder{
		modelCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_model_calls_total",
				Help: "Model gateway calls by model id and outcome",
			},
			[]string{"model", "outcome"},
		),
		transportRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_transport_retries_total",
				Help: "Transport-level retries by model id",
			},
			[]string{"model"},
		),
		validationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_validation_failures_total",
				Help: "Schema validation failures by model id",
			},
			[]string{"model"},
		),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_decisions_total",
				Help: "Trade recommendations by action",
			},
			[]string{"action"},
		),
		callLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_model_call_duration_seconds",
				Help:    "Model call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
}

// RecordModelCall counts one gateway call with its outcome ("ok" or "error").
func (r *Recorder) RecordModelCall(model, outcome string) {
	if r == nil {
		return
	}
	r.modelCalls.WithLabelValues(model, outcome).Inc()
}

// RecordTransportRetry counts one transport retry.
func (r *Recorder) RecordTransportRetry(model string) {
	if r == nil {
		return
	}
	r.transportRetries.WithLabelValues(model).Inc()
}

// RecordValidationFailure counts one schema validation failure.
func (r *Recorder) RecordValidationFailure(model string) {
	if r == nil {
		return
	}
	r.validationFailures.WithLabelValues(model).Inc()
}

// RecordDecision counts one synthesized recommendation.
func (r *Recorder) RecordDecision(action string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(action).Inc()
}

// RecordCallLatency observes a model call duration in seconds.
func (r *Recorder) RecordCallLatency(model string, seconds float64) {
	if r == nil {
		return
	}
	r.callLatency.WithLabelValues(model).Observe(seconds)
}
