package bus

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes bus counters for health checks and dashboards.
type Metrics struct {
	published      prometheus.Counter
	dropped        prometheus.Counter
	delivered      *prometheus.CounterVec
	handlerFailed  *prometheus.CounterVec
	handlerTimeout *prometheus.CounterVec
	queueDepth     prometheus.GaugeFunc
}

// NewMetrics registers bus metrics against the given registerer.
func NewMetrics(reg prometheus.Registerer, depth func() float64) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Events accepted onto the dispatch queue",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Events dropped by fire-and-forget publish on a full queue",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_handler_calls_total",
			Help: "Handler invocations by subscriber name",
		}, []string{"handler"}),
		handlerFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_handler_failures_total",
			Help: "Handler panics by subscriber name",
		}, []string{"handler"}),
		handlerTimeout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_handler_timeouts_total",
			Help: "Handler timeouts by subscriber name",
		}, []string{"handler"}),
		queueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bus_queue_depth",
			Help: "Events waiting in the dispatch queue",
		}, depth),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.dropped, m.delivered, m.handlerFailed, m.handlerTimeout, m.queueDepth)
	}
	return m
}
