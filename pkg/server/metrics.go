package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the runtime.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	events          prometheus.Counter
	clients         prometheus.Gauge
	clientsTotal    prometheus.Counter
	objects         *prometheus.GaugeVec
	slowClients     prometheus.Counter
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
}

// newMetrics registers the runtime collectors with registry.
func newMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	const namespace = "kestrel"

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests dispatched",
		}, []string{"interface"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request handler duration in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"interface"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_errors_total",
			Help:      "Total number of fatal client errors by kind",
		}, []string{"kind"}),

		events: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events queued to clients",
		}),

		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Number of connected clients",
		}),

		clientsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_total",
			Help:      "Total number of accepted clients",
		}),

		objects: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objects",
			Help:      "Number of live protocol objects by interface",
		}, []string{"interface"}),

		slowClients: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_clients_total",
			Help:      "Total number of clients disconnected for not reading events",
		}),

		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_bytes_total",
			Help:      "Total bytes received from clients",
		}),

		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sent_bytes_total",
			Help:      "Total bytes sent to clients",
		}),
	}
}

func (m *Metrics) observeRequest(iface string, d time.Duration) {
	m.requests.WithLabelValues(iface).Inc()
	m.requestDuration.WithLabelValues(iface).Observe(d.Seconds())
}

// ObjectCreated implements Observer.
func (m *Metrics) ObjectCreated(c *Client, obj Object) {
	m.objects.WithLabelValues(obj.Interface()).Inc()
}

// ObjectDestroyed implements Observer.
func (m *Metrics) ObjectDestroyed(c *Client, obj Object) {
	m.objects.WithLabelValues(obj.Interface()).Dec()
}
