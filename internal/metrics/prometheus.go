package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirrors collector events into a private Prometheus registry.
type Prometheus struct {
	registry       *prometheus.Registry
	requestsTotal  *prometheus.CounterVec
	responsesTotal *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	healthy        *prometheus.GaugeVec
}

func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
	}

	p.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests received per route",
		},
		[]string{"route"},
	)

	p.responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total number of upstream responses relayed per route and status code",
		},
		[]string{"route", "code"},
	)

	p.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of failed forwards per route",
		},
		[]string{"route"},
	)

	p.rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Total number of requests refused before forwarding",
		},
		[]string{"route", "reason"},
	)

	p.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time from request receipt to the end of the relayed response",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route"},
	)

	p.healthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_healthy",
			Help:      "Whether the last health probe of the route's upstream succeeded (1) or not (0)",
		},
		[]string{"route"},
	)

	p.registry.MustRegister(
		p.requestsTotal,
		p.responsesTotal,
		p.upstreamErrors,
		p.rejectedTotal,
		p.duration,
		p.healthy,
	)

	return p
}

func (p *Prometheus) addRoute(route string) {
	p.requestsTotal.WithLabelValues(route)
	p.upstreamErrors.WithLabelValues(route)
	p.healthy.WithLabelValues(route).Set(1)
}

func (p *Prometheus) observe(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		p.requestsTotal.WithLabelValues(event.Route).Inc()
	case EventResponseCompleted:
		p.responsesTotal.WithLabelValues(event.Route, strconv.Itoa(event.StatusCode)).Inc()
		p.duration.WithLabelValues(event.Route).Observe(event.Duration.Seconds())
	case EventUpstreamFailed:
		p.upstreamErrors.WithLabelValues(event.Route).Inc()
	case EventRequestRejected:
		p.rejectedTotal.WithLabelValues(event.Route, event.Reason).Inc()
	case EventHealthChanged:
		v := 0.0
		if event.Healthy {
			v = 1
		}
		p.healthy.WithLabelValues(event.Route).Set(v)
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(
		p.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}
