package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/tlsforward/internal/metrics"
	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 5 * time.Second

// Probe periodically sends HEAD to a route's destination and records whether
// it answered. The result is informational; forwarding is never skipped.
type Probe struct {
	route     string
	upstream  *upstream.Upstream
	client    *http.Client
	interval  time.Duration
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewProbe builds a probe for one route. collector may be nil.
func NewProbe(
	route string,
	u *upstream.Upstream,
	transport http.RoundTripper,
	interval time.Duration,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Probe {
	return &Probe{
		route:    route,
		upstream: u,
		client: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		interval:  interval,
		collector: collector,
		logger:    logger.With(slog.String("route", route)),
	}
}

// Run probes every interval until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Health check stopped",
				slog.String("destination", p.upstream.URL().String()))
			return

		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one probe and reports the resulting health.
func (p *Probe) Check(ctx context.Context) bool {
	healthy := p.probe(ctx)
	if ctx.Err() != nil {
		return p.upstream.IsHealthy()
	}

	if !p.upstream.SetHealthy(healthy) {
		return healthy
	}

	if healthy {
		p.logger.Info("Upstream is back up",
			slog.String("destination", p.upstream.URL().String()))
	} else {
		p.logger.Warn("Upstream is down",
			slog.String("destination", p.upstream.URL().String()))
	}

	if p.collector != nil {
		p.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Route:   p.route,
			Healthy: healthy,
		})
	}

	return healthy
}

func (p *Probe) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.upstream.URL().String(), nil)
	if err != nil {
		return false
	}

	res, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Health probe failed", slog.String("error", err.Error()))
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode < http.StatusInternalServerError
}
