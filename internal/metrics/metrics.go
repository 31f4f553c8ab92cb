// Package metrics exports gateway counters and latencies to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drok"

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	toolDispatches  *prometheus.CounterVec
	evictions       prometheus.Counter
	gatherer        prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Orchestration runs by outcome and error kind.",
		}, []string{"outcome", "error_kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of orchestration runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Chat provider calls by purpose and result.",
		}, []string{"purpose", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of chat provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purpose"}),
		toolDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_dispatches_total",
			Help:      "Tool dispatches by tool and result.",
		}, []string{"tool", "result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evicted_turns_total",
			Help:      "Turns dropped from channel history by eviction or clearing.",
		}),
		gatherer: reg,
	}
	var err error
	if m.runs, err = register(reg, m.runs); err != nil {
		return nil, err
	}
	if m.runDuration, err = register(reg, m.runDuration); err != nil {
		return nil, err
	}
	if m.providerCalls, err = register(reg, m.providerCalls); err != nil {
		return nil, err
	}
	if m.providerLatency, err = register(reg, m.providerLatency); err != nil {
		return nil, err
	}
	if m.toolDispatches, err = register(reg, m.toolDispatches); err != nil {
		return nil, err
	}
	if m.evictions, err = register(reg, m.evictions); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RunFinished records the end of an orchestration run.
func (m *Metrics) RunFinished(outcome, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome, errorKind).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ProviderCall records one chat provider round trip.
func (m *Metrics) ProviderCall(purpose, result string, d time.Duration) {
	if m == nil {
		return
	}
	if purpose == "" {
		purpose = "unknown"
	}
	m.providerCalls.WithLabelValues(purpose, result).Inc()
	m.providerLatency.WithLabelValues(purpose).Observe(d.Seconds())
}

// ToolDispatched records a tool dispatch result ("ok", "error", "unknown").
func (m *Metrics) ToolDispatched(tool, result string) {
	if m == nil {
		return
	}
	m.toolDispatches.WithLabelValues(tool, result).Inc()
}

// HistoryEvicted records dropped history turns.
func (m *Metrics) HistoryEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}
