package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one service on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	DevisTransitions *prometheus.CounterVec
	StockLines       *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	EventsConsumed   *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	Acknowledgements *prometheus.CounterVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	labels := prometheus.Labels{"service": service}

	return &Metrics{
		registry: reg,
		DevisTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_devis_transitions_total",
			Help:        "Devis state transitions by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		StockLines: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_stock_arbitration_lines_total",
			Help:        "Arbitrated part lines by classification.",
			ConstLabels: labels,
		}, []string{"classification"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_events_published_total",
			Help:        "Outbox events written to the queue.",
			ConstLabels: labels,
		}, []string{"topic", "result"}),
		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_events_consumed_total",
			Help:        "Queue messages handled by consumers.",
			ConstLabels: labels,
		}, []string{"topic", "result"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_notification_deliveries_total",
			Help:        "Notification delivery attempts by target and outcome.",
			ConstLabels: labels,
		}, []string{"target", "outcome"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "interconnect_notification_delivery_seconds",
			Help:        "Notification HTTP callback latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"target"}),
		Acknowledgements: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "interconnect_acknowledgements_total",
			Help:        "Callbacks received by the ERP receiver, first deliveries vs duplicates.",
			ConstLabels: labels,
		}, []string{"event_type", "result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDelivery(target, outcome string, d time.Duration) {
	m.Deliveries.WithLabelValues(target, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(target).Observe(d.Seconds())
}
