package lifecycle

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the ambient Prometheus instrumentation exposed on the
// support /metrics route: registrations accepted/rejected, per-receiver
// queue depth, aggregation samples processed per channel, and live
// monitoring subscriptions.
type metrics struct {
	registry *prometheus.Registry

	registrationsAccepted prometheus.Counter
	registrationsRejected prometheus.Counter
	queueDepth            *prometheus.GaugeVec
	aggregationSamples    *prometheus.CounterVec
	subscriptionsLive     prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		registrationsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlunit_registrations_accepted_total",
			Help: "Number of entity registrations accepted.",
		}),
		registrationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlunit_registrations_rejected_total",
			Help: "Number of entity registrations rejected.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlunit_receiver_queue_depth",
			Help: "Current number of items queued per receiver.",
		}, []string{"receiver"}),
		aggregationSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlunit_aggregation_samples_processed_total",
			Help: "Number of monitoring samples successfully aggregated, per channel.",
		}, []string{"channel"}),
		subscriptionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "controlunit_monitoring_subscriptions_live",
			Help: "Number of physical monitoring subscriptions currently open.",
		}),
	}

	reg.MustRegister(
		m.registrationsAccepted,
		m.registrationsRejected,
		m.queueDepth,
		m.aggregationSamples,
		m.subscriptionsLive,
	)
	return m
}
