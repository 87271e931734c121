// Package metrics exposes exchange activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/port"
)

const namespace = "carbon"

var _ port.MetricsRecorder = (*Recorder)(nil)

// Recorder owns its registry so several instances (tests, embedded use) can
// coexist in one process.
type Recorder struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	supply        *prometheus.GaugeVec
	outboxDropped prometheus.Counter
	requests      *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger and marketplace operations by outcome kind.",
		}, []string{"op", "kind"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside the sequencer per operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		supply: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credits",
			Help:      "Credit supply by state.",
		}, []string{"state"}),
		outboxDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dropped_total",
			Help:      "Event notifications dropped because the outbox was full.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served per transport and status.",
		}, []string{"transport", "status"}),
	}
}

func (r *Recorder) ObserveOperation(op string, err error, elapsed time.Duration) {
	kind := domain.KindOf(err)
	if kind == domain.KindNone {
		kind = "ok"
	}
	r.operations.WithLabelValues(op, string(kind)).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveSupply(s domain.Supply) {
	r.supply.WithLabelValues("minted").Set(float64(s.Minted))
	r.supply.WithLabelValues("retired").Set(float64(s.Retired))
	r.supply.WithLabelValues("escrowed").Set(float64(s.Escrowed))
	r.supply.WithLabelValues("circulating").Set(float64(s.Circulating))
}

func (r *Recorder) OutboxDropped() {
	r.outboxDropped.Inc()
}

// ObserveRequest counts a served request; status is an HTTP status or gRPC
// code name.
func (r *Recorder) ObserveRequest(transport, status string) {
	r.requests.WithLabelValues(transport, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
