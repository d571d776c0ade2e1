package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventResponseCompleted EventType = "response_completed"
	EventUpstreamFailed    EventType = "upstream_failed"
	EventRequestRejected   EventType = "request_rejected"
	EventHealthChanged     EventType = "health_changed"
)

// Rejection reasons carried by EventRequestRejected.
const (
	ReasonAdmission   = "admission"
	ReasonCircuitOpen = "circuit_open"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	Reason     string
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	done       chan struct{}
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: NewPrometheus("tlsforward"),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// RegisterRoute makes a route visible in snapshots and scrapes before its
// first request.
func (c *Collector) RegisterRoute(route string) {
	c.metrics.AddRoute(route)
	c.prometheus.addRoute(route)
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics event dropped",
			slog.String("type", string(event.Type)),
			slog.String("route", event.Route))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its buffer after shutdown.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Route, event.Timestamp)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Route, event.Duration, event.StatusCode)

	case EventUpstreamFailed:
		c.metrics.RecordFailure(event.Route)

	case EventRequestRejected:
		c.metrics.RecordRejection(event.Route)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Route, event.Healthy, event.Timestamp)

	default:
		c.logger.Warn("Unknown metrics event", slog.String("type", string(event.Type)))
		return
	}

	c.prometheus.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
