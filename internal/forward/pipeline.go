package forward

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/tlsforward/config"
	"github.com/angeloszaimis/tlsforward/internal/circuitbreaker"
	"github.com/angeloszaimis/tlsforward/internal/metrics"
	"github.com/angeloszaimis/tlsforward/internal/upstream"
)

// Pipeline forwards every request of one route to its destination.
type Pipeline struct {
	name        string
	destination string
	route       config.Route
	headers     http.Header
	upstream    *upstream.Upstream
	proxy       *httputil.ReverseProxy
	logger      *slog.Logger

	admission        *semaphore.Weighted
	admissionTimeout time.Duration
	breaker          *circuitbreaker.CircuitBreaker
	collector        *metrics.Collector
}

type Option func(*Pipeline)

// WithAdmission bounds concurrent forwards with a semaphore shared across
// routes. A request waits at most timeout for a slot; zero waits for as
// long as the client does.
func WithAdmission(sem *semaphore.Weighted, timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.admission = sem
		p.admissionTimeout = timeout
	}
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(p *Pipeline) {
		p.breaker = cb
	}
}

func WithCollector(c *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.collector = c
	}
}

// New builds the pipeline for route. transport is shared by all routes.
func New(route config.Route, transport http.RoundTripper, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:        route.Source(),
		destination: route.Destination().String(),
		route:       route,
		headers:     route.Headers(),
		upstream:    upstream.New(route.Destination()),
		logger:      logger.With(slog.String("route", route.Source())),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      transport,
		FlushInterval:  -1,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		ErrorLog:       slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
		BufferPool:     newBufferPool(copyBufferSize),
	}

	return p
}

// Upstream returns the route's upstream state, shared with health probing.
func (p *Pipeline) Upstream() *upstream.Upstream {
	return p.upstream
}

// Route returns the route this pipeline serves.
func (p *Pipeline) Route() config.Route {
	return p.route
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	p.emitEvent(metrics.MetricEvent{
		Type:  metrics.EventRequestReceived,
		Route: p.name,
	})

	if p.admission != nil {
		if err := p.admit(r.Context()); err != nil {
			p.reject(w, r, metrics.ReasonAdmission, err)
			return
		}
		defer p.admission.Release(1)
	}

	if p.breaker != nil && !p.breaker.Allow() {
		p.reject(w, r, metrics.ReasonCircuitOpen, ErrCircuitOpen)
		return
	}

	p.upstream.IncrementActive()
	defer p.upstream.DecrementActive()

	rec := &statusRecorder{ResponseWriter: w}

	finished := false
	defer func() {
		// Only reached when the proxy panicked with http.ErrAbortHandler
		// while relaying; the panic keeps unwinding afterwards.
		if !finished {
			p.fail(r, rec.statusCode, http.ErrAbortHandler, time.Since(start))
		}
	}()

	p.proxy.ServeHTTP(rec, r)
	finished = true

	elapsed := time.Since(start)
	if rec.err != nil {
		p.fail(r, rec.statusCode, rec.err, elapsed)
		return
	}

	p.succeed(r, rec.statusCode, elapsed)
}

func (p *Pipeline) admit(ctx context.Context) error {
	if p.admissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.admissionTimeout)
		defer cancel()
	}

	return p.admission.Acquire(ctx, 1)
}

// rewrite sends the request to the destination unchanged: same method, same
// headers, no body. Path and query of the inbound request are not merged.
func (p *Pipeline) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL = p.route.Destination()
	pr.Out.Host = pr.In.Host
	pr.Out.Header = pr.In.Header.Clone()
	if pr.Out.Header == nil {
		pr.Out.Header = http.Header{}
	}

	pr.Out.Body = nil
	pr.Out.GetBody = nil
	pr.Out.ContentLength = 0
	pr.Out.TransferEncoding = nil
}

func (p *Pipeline) modifyResponse(resp *http.Response) error {
	for name, values := range p.headers {
		resp.Header[name] = slices.Clone(values)
	}
	return nil
}

func (p *Pipeline) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}

	if clientGone(r) {
		return
	}

	status := statusFor(err)
	http.Error(w, http.StatusText(status), status)
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	p.logger.Warn("Request rejected",
		slog.String("reason", reason),
		slog.String("path", r.URL.RequestURI()),
		slog.String("method", r.Method),
		slog.String("error", err.Error()))

	p.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventRequestRejected,
		Route:      p.name,
		StatusCode: http.StatusServiceUnavailable,
		Reason:     reason,
	})

	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

func (p *Pipeline) succeed(r *http.Request, status int, elapsed time.Duration) {
	path := r.URL.RequestURI()

	p.logger.Info(fmt.Sprintf("%s %s %s > %s (%d ms)", p.name, path, r.Method, p.destination, elapsed.Milliseconds()),
		slog.String("path", path),
		slog.String("method", r.Method),
		slog.String("destination", p.destination),
		slog.Int("status", status),
		slog.Duration("elapsed", elapsed))

	p.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Route:      p.name,
		Duration:   elapsed,
		StatusCode: status,
	})
	p.upstream.RecordResponse(elapsed)

	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
}

func (p *Pipeline) fail(r *http.Request, status int, err error, elapsed time.Duration) {
	attrs := []any{
		slog.String("path", r.URL.RequestURI()),
		slog.String("method", r.Method),
		slog.String("destination", p.destination),
		slog.Duration("elapsed", elapsed),
		slog.String("error", err.Error()),
	}

	if clientGone(r) {
		p.logger.Debug("Client went away before the forward completed", attrs...)
		if p.breaker != nil {
			p.breaker.Release()
		}
		return
	}

	if status == 0 {
		status = statusFor(err)
	}
	p.logger.Warn("Forward failed", append(attrs, slog.Int("status", status))...)

	p.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventUpstreamFailed,
		Route:      p.name,
		Duration:   elapsed,
		StatusCode: status,
	})

	if p.breaker != nil {
		p.breaker.RecordFailure()
	}
}

func (p *Pipeline) emitEvent(event metrics.MetricEvent) {
	if p.collector == nil {
		return
	}
	p.collector.Emit(event)
}
