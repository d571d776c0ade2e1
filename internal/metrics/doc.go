// Package metrics collects per-route forwarding metrics.
//
// Forwarders emit events through Collector.Emit, which never blocks: when
// the buffer is full the event is dropped. A single goroutine applies events
// to two views:
//   - an in-memory snapshot (request, failure and rejection counts, latency
//     percentiles over the last 1000 samples, status codes, health) served
//     as JSON
//   - a private Prometheus registry served in the exposition format
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.RegisterRoute("127.0.0.1:8080")
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Route:      "127.0.0.1:8080",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
// Remaining events are drained when the context is cancelled; Done is closed
// afterwards.
package metrics
