package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "nt4"

type metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	staleDropped   prometheus.Counter
	pendingParked  prometheus.Counter
	eventsDropped  prometheus.Counter
	reconnects     prometheus.Counter
	queueDepth     prometheus.Gauge
	connected      prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer, clientName string) *metrics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"client": clientName}

	return &metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_sent_total",
			Help:        "Websocket frames written to the server",
			ConstLabels: labels,
		}, []string{"kind"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "frames_received_total",
			Help:        "Websocket frames read from the server",
			ConstLabels: labels,
		}, []string{"kind"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "decode_errors_total",
			Help:        "Inbound frames or records that could not be decoded",
			ConstLabels: labels,
		}, []string{"kind"}),

		staleDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "stale_values_dropped_total",
			Help:        "Queued values dropped because their topic id was no longer valid",
			ConstLabels: labels,
		}),

		pendingParked: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "values_parked_total",
			Help:        "Values held until their topic was announced",
			ConstLabels: labels,
		}),

		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "events_dropped_total",
			Help:        "Subscriber events dropped because the subscriber fell behind",
			ConstLabels: labels,
		}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "reconnect_attempts_total",
			Help:        "Attempts to reconnect after losing the connection",
			ConstLabels: labels,
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "outbound_queue_depth",
			Help:        "Frames waiting for the write loop",
			ConstLabels: labels,
		}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "connected",
			Help:        "1 while connected to the server",
			ConstLabels: labels,
		}),
	}
}
