// Package metrics exposes the daemon's Prometheus counters/gauges/histograms
// and an optional HTTP listener for scraping (spec.md treats rich
// observability as out of the core's scope, but the ambient stack still
// carries metrics the way the teacher's observability package does).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the daemon's runtime counters. Each instance owns its
// own registry so tests can construct one without colliding with the
// global default registry.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions tracks in-memory session count.
	ActiveSessions prometheus.Gauge

	// ToolExecutions counts tool invocations by tool name and outcome
	// (success|error|timeout).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool wall-clock time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// InferenceLoopDuration measures one session.send turn end-to-end,
	// including every tool round.
	InferenceLoopDuration prometheus.Histogram

	// SkillsActivated counts RAG-triggered skill activations.
	SkillsActivated *prometheus.CounterVec

	// StreamErrors counts LLM Gateway terminal errors by provider.
	StreamErrors *prometheus.CounterVec
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ruster_active_sessions",
			Help: "Current number of in-memory sessions.",
		}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ruster_tool_executions_total",
			Help: "Total tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ruster_tool_execution_duration_seconds",
			Help:    "Tool execution wall-clock duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		InferenceLoopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ruster_inference_loop_duration_seconds",
			Help:    "Duration of one session.send turn, including tool rounds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		SkillsActivated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ruster_skills_activated_total",
			Help: "Total RAG-triggered skill activations by skill name.",
		}, []string{"skill"}),

		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ruster_llm_stream_errors_total",
			Help: "Total terminal LLM Gateway stream errors by provider.",
		}, []string{"provider"}),
	}
}

// Every recorder method is nil-receiver safe, so callers can thread a
// *Metrics through constructors without special-casing a disabled metrics
// server (cmd/ruster always builds one; only the HTTP listener is
// conditional on metrics.enabled).

// SessionCreated increments the active session gauge.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionDeleted decrements the active session gauge.
func (m *Metrics) SessionDeleted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ToolExecuted records one tool invocation's outcome (success|error|timeout)
// and wall-clock duration.
func (m *Metrics) ToolExecuted(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// InferenceTurnCompleted records one session.send turn's end-to-end
// duration, including every tool round.
func (m *Metrics) InferenceTurnCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceLoopDuration.Observe(d.Seconds())
}

// SkillActivated records a RAG-triggered skill activation.
func (m *Metrics) SkillActivated(skill string) {
	if m == nil {
		return
	}
	m.SkillsActivated.WithLabelValues(skill).Inc()
}

// StreamErrored records a terminal LLM Gateway stream error.
func (m *Metrics) StreamErrored(provider string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(provider).Inc()
}

// Serve starts a blocking HTTP server exposing /metrics until ctx is
// cancelled. Intended to be run in its own goroutine.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
