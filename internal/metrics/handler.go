package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/tlsforward/internal/circuitbreaker"
	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

// BreakerStats reports circuit breaker states by route.
type BreakerStats interface {
	Stats() map[string]circuitbreaker.State
}

// UpstreamStats reports live upstream state by route.
type UpstreamStats interface {
	Stats() map[string]upstream.Stats
}

type statsResponse struct {
	Snapshot
	Upstreams map[string]upstream.Stats       `json:"upstreams,omitempty"`
	Breakers  map[string]circuitbreaker.State `json:"breakers,omitempty"`
}

// Handler serves the JSON snapshot. upstreams and breakers may be nil.
func (c *Collector) Handler(upstreams UpstreamStats, breakers BreakerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Snapshot: c.metrics.Snapshot()}
		if upstreams != nil {
			resp.Upstreams = upstreams.Stats()
		}
		if breakers != nil {
			resp.Breakers = breakers.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// PrometheusHandler serves the collector's metrics for scraping.
func (c *Collector) PrometheusHandler() http.Handler {
	return c.prometheus.Handler()
}

// Prometheus returns the collector's Prometheus mirror.
func (c *Collector) Prometheus() *Prometheus {
	return c.prometheus
}
