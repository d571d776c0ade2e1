package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/tlsforward/config"
	"github.com/angeloszaimis/tlsforward/internal/circuitbreaker"
	"github.com/angeloszaimis/tlsforward/internal/forward"
	"github.com/angeloszaimis/tlsforward/internal/healthcheck"
	"github.com/angeloszaimis/tlsforward/internal/listener"
	"github.com/angeloszaimis/tlsforward/internal/metrics"
	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

// metricsBufferSize is the collector's event queue length.
const metricsBufferSize = 1000

// forwarder holds everything built from one Config.
type forwarder struct {
	log       *slog.Logger
	transport *http.Transport
	collector *metrics.Collector
	breakers  *circuitbreaker.Registry
	pipelines []*forward.Pipeline
	upstreams upstream.Set
	probes    []*healthcheck.Probe
	listeners *listener.Set
}

func newForwarder(cfg *config.Config, log *slog.Logger) (*forwarder, error) {
	if cfg.Upstream.InsecureSkipVerify {
		log.Warn("Upstream TLS certificate verification is disabled")
	}

	transport, err := upstream.NewTransport(upstream.TransportConfig{
		InsecureSkipVerify:    cfg.Upstream.InsecureSkipVerify,
		CAFile:                cfg.Upstream.CAFile,
		DialTimeout:           cfg.Upstream.DialTimeout,
		TLSHandshakeTimeout:   cfg.Upstream.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.Upstream.IdleConnTimeout,
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream transport: %w", err)
	}

	timeouts := listener.Timeouts{
		ReadHeader: cfg.Server.ReadHeaderTimeout,
		Idle:       cfg.Server.IdleTimeout,
		Write:      cfg.Server.WriteTimeout,
		Shutdown:   cfg.Server.ShutdownTimeout,
	}

	f := &forwarder{
		log:       log,
		transport: transport,
		collector: metrics.NewCollector(metricsBufferSize, log),
		breakers:  circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cfg.CircuitBreaker.ResetTimeout),
		upstreams: upstream.Set{},
		listeners: listener.NewSet(log, timeouts),
	}

	var admission *semaphore.Weighted
	if cfg.Admission.MaxInFlight > 0 {
		admission = semaphore.NewWeighted(cfg.Admission.MaxInFlight)
	}

	for _, route := range cfg.Routes {
		opts := []forward.Option{forward.WithCollector(f.collector)}
		if admission != nil {
			opts = append(opts, forward.WithAdmission(admission, cfg.Admission.Timeout))
		}
		if cfg.CircuitBreaker.Threshold > 0 {
			opts = append(opts, forward.WithBreaker(f.breakers.GetBreaker(route.Source())))
		}

		p := forward.New(route, transport, log, opts...)
		if err := f.listeners.Add(route, p); err != nil {
			return nil, err
		}
		f.collector.RegisterRoute(route.Source())
		f.pipelines = append(f.pipelines, p)
		f.upstreams[route.Source()] = p.Upstream()

		if cfg.HealthCheck.Interval > 0 {
			f.probes = append(f.probes, healthcheck.NewProbe(
				route.Source(), p.Upstream(), transport, cfg.HealthCheck.Interval, f.collector, log))
		}
	}

	if cfg.Admin.Address != "" {
		admin, err := listener.New(cfg.Admin.Address, setupAdminRouter(f.collector, f.upstreams, f.breakers), timeouts)
		if err != nil {
			return nil, err
		}
		f.listeners.AddServer("admin", admin)
	}

	return f, nil
}

// listen binds every route and the admin server, if any.
func (f *forwarder) listen(ctx context.Context) error {
	return f.listeners.Listen(ctx)
}

// serve runs until ctx is cancelled, then drains metrics and releases
// upstream connections.
func (f *forwarder) serve(ctx context.Context) error {
	collectorCtx, stopCollector := context.WithCancel(context.WithoutCancel(ctx))
	f.collector.Start(collectorCtx)

	for _, probe := range f.probes {
		go probe.Run(ctx)
	}

	err := f.listeners.Serve(ctx)

	stopCollector()
	<-f.collector.Done()
	f.transport.CloseIdleConnections()

	f.log.Info("Shutdown complete")
	return err
}
