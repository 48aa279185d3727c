// Package observability is the injected audit surface: breadcrumbs, error
// captures, and span timings. The orchestrator only ever sees the Port
// interface; the process-wide sink lives in cmd/server, never in a global.
package observability

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"
)

type Port interface {
	// Tag attaches an attribute to every later line for this request.
	Tag(key, value string)
	Breadcrumb(category, message string, attrs ...any)
	// Capture records an error with full internal detail. 5xx responses are
	// sanitized for the caller; this is where the real message goes.
	Capture(err error, attrs ...any)
	// Span times a step; call the returned func when the step ends.
	Span(name string) func()
}

type Metrics struct {
	Checkouts    *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	GatewayCalls *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "requests_total",
			Help:      "Checkout requests by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "request_duration_seconds",
			Help:      "Checkout request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"channel"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by gateway and result.",
		}, []string{"gateway", "result"}),
	}
	reg.MustRegister(m.Checkouts, m.Duration, m.GatewayCalls)
	return m
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// Sink is the process-wide observability backend. ForRequest derives the
// request-scoped Port handed to the orchestrator.
type Sink struct {
	log     *slog.Logger
	Metrics *Metrics
}

func NewSink(log *slog.Logger, metrics *Metrics) *Sink {
	return &Sink{log: log, Metrics: metrics}
}

func (s *Sink) ForRequest(requestID string) Port {
	return &recorder{log: s.log.With("request_id", requestID)}
}

type recorder struct {
	log *slog.Logger
}

func (r *recorder) Tag(key, value string) {
	r.log = r.log.With(key, value)
}

func (r *recorder) Breadcrumb(category, message string, attrs ...any) {
	r.log.Info(message, append([]any{"category", category}, attrs...)...)
}

func (r *recorder) Capture(err error, attrs ...any) {
	r.log.Error("captured error", append([]any{"error", err.Error()}, attrs...)...)
}

func (r *recorder) Span(name string) func() {
	start := time.Now()
	return func() {
		r.log.Debug("span", "name", name, "duration_ms", time.Since(start).Milliseconds())
	}
}

// Nop returns a Port that records nothing, for tests.
func Nop() Port { return nop{} }

type nop struct{}

func (nop) Tag(string, string)                {}
func (nop) Breadcrumb(string, string, ...any) {}
func (nop) Capture(error, ...any)             {}
func (nop) Span(string) func()                { return func() {} }
