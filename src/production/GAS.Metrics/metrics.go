package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes used as the "outcome" label.
const (
	OutcomeStored    = "stored"
	OutcomeInvalid   = "invalid"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Metrics holds Prometheus collectors for the telemetry server. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsIngested   *prometheus.CounterVec
	PublishesTotal     *prometheus.CounterVec
	MessagesConsumed   *prometheus.CounterVec
	IngestDuration     *prometheus.HistogramVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
	SubscriberState    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_readings_ingested_total",
				Help: "Total number of sensor readings processed, by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_broker_publishes_total",
				Help: "Total number of readings forwarded to the broker, by result",
			},
			[]string{"result"},
		),
		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_broker_messages_consumed_total",
				Help: "Total number of broker messages handled by the subscriber, by outcome",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gas_ingest_duration_seconds",
				Help:    "Duration of persisting one reading",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		HTTPRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		SubscriberState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gas_subscriber_state",
				Help: "Subscriber lifecycle state (0 disconnected, 1 connecting, 2 subscribed, 3 processing)",
			},
		),
	}

	m.registry.MustRegister(
		m.ReadingsIngested,
		m.PublishesTotal,
		m.MessagesConsumed,
		m.IngestDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestLatency,
		m.SubscriberState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
