package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	InboundMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead",
		Name:      "inbound_messages_total",
		Help:      "Customer messages handled, by dialogue stage after the turn.",
	}, []string{"stage"})

	DispatchEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead",
		Name:      "dispatch_events_total",
		Help:      "Audit events written by the dispatcher, by kind.",
	}, []string{"kind"})

	CatalogRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead",
		Name:      "catalog_refreshes_total",
		Help:      "Catalog refresh attempts by purchase type and result.",
	}, []string{"purchase_type", "result"})

	GeneratorCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lead",
		Name:      "generator_calls_total",
		Help:      "Generative fallback calls by result.",
	}, []string{"result"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lead",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

func init() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		InboundMessages,
		DispatchEvents,
		CatalogRefreshes,
		GeneratorCalls,
		HTTPDuration,
	)
}

// Registry exposes the process registry, mainly for tests.
func Registry() *prometheus.Registry {
	return registry
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Result maps an error to the "ok"/"error" label used by the counters.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
