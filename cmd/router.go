package main

import (
	"io"
	"net/http"

	"github.com/angeloszaimis/tlsforward/internal/circuitbreaker"
	"github.com/angeloszaimis/tlsforward/internal/metrics"
	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

func setupAdminRouter(metricsCollector *metrics.Collector, upstreams upstream.Set, breakers *circuitbreaker.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metricsCollector.PrometheusHandler())
	mux.HandleFunc("/stats", metricsCollector.Handler(upstreams, breakers))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})

	return mux
}
