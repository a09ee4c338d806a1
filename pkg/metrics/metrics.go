package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics
	MessagesPolled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_dispatcher_messages_total",
			Help: "Total number of messages polled from the upstream topic",
		},
	)

	MessagesCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_dispatcher_commits_total",
			Help: "Total number of offsets committed after fan-out",
		},
	)

	MessagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serving_layer_dispatcher_skipped_total",
			Help: "Total number of messages skipped by reason",
		},
		[]string{"reason"},
	)

	// Fan-out metrics
	SubscribersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "serving_layer_subscribers_active",
			Help: "Number of currently registered subscriber queues",
		},
	)

	PayloadsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_payloads_delivered_total",
			Help: "Total number of payloads enqueued to subscriber queues",
		},
	)

	PayloadsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_payloads_dropped_total",
			Help: "Total number of payloads dropped on full queues (drop policy only)",
		},
	)

	// Proxy metrics
	ProxiedStreams = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_proxied_streams_total",
			Help: "Total number of SSE streams proxied to group instances",
		},
	)

	ProxyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "serving_layer_proxy_errors_total",
			Help: "Total number of SSE proxy failures",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesPolled)
	prometheus.MustRegister(MessagesCommitted)
	prometheus.MustRegister(MessagesSkipped)
	prometheus.MustRegister(SubscribersActive)
	prometheus.MustRegister(PayloadsDelivered)
	prometheus.MustRegister(PayloadsDropped)
	prometheus.MustRegister(ProxiedStreams)
	prometheus.MustRegister(ProxyErrors)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
