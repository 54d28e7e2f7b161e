// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humanrelay/internal/detection"
)

const namespace = "humanrelay"

// Metrics implements detection.Recorder and workflow.Metrics on top of a
// dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	detections   *prometheus.CounterVec
	confidence   *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	iterations   *prometheus.CounterVec
	state        prometheus.Gauge
}

var _ detection.Recorder = (*Metrics)(nil)

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detect calls by target, winning strategy and outcome.",
		}, []string{"target", "strategy", "outcome"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_confidence",
			Help:      "Confidence of successful detections.",
			Buckets:   []float64{0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 0.99, 1},
		}, []string{"strategy"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed workflow steps by state and failure kind.",
		}, []string{"state", "kind"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Relay iterations by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_state",
			Help:      "Ordinal of the current workflow state.",
		}),
	}
	m.registry.MustRegister(m.detections, m.confidence, m.stepFailures, m.iterations, m.state)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDetection(target string, strategy detection.Strategy, found bool, confidence float64) {
	outcome := "miss"
	label := "none"
	if found {
		outcome = "found"
		label = strategy.String()
		m.confidence.WithLabelValues(label).Observe(confidence)
	}
	m.detections.WithLabelValues(target, label, outcome).Inc()
}

func (m *Metrics) SetState(_ string, ordinal int) { m.state.Set(float64(ordinal)) }

func (m *Metrics) ObserveStepFailure(state, kind string) {
	m.stepFailures.WithLabelValues(state, kind).Inc()
}

func (m *Metrics) ObserveIteration(outcome string) { m.iterations.WithLabelValues(outcome).Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
