package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tlsforward/config"
)

// Set owns one server per route, plus any auxiliary servers, and runs them
// together.
type Set struct {
	logger   *slog.Logger
	timeouts Timeouts
	entries  []entry
}

type entry struct {
	name   string
	banner string
	server *Server
}

func NewSet(logger *slog.Logger, timeouts Timeouts) *Set {
	return &Set{
		logger:   logger,
		timeouts: timeouts,
	}
}

// Add registers a server for route, bound to the route's source address.
func (s *Set) Add(route config.Route, handler http.Handler) error {
	srv, err := New(route.Source(), handler, s.timeouts)
	if err != nil {
		return err
	}

	s.entries = append(s.entries, entry{
		name:   route.Source(),
		banner: route.String(),
		server: srv,
	})
	return nil
}

// AddServer registers an auxiliary server, such as the admin endpoint.
func (s *Set) AddServer(name string, srv *Server) {
	s.entries = append(s.entries, entry{name: name, server: srv})
}

// Listen binds every server in the order added. If any bind fails, the
// listeners already bound are closed and the error is returned.
func (s *Set) Listen(ctx context.Context) error {
	for i, e := range s.entries {
		if err := e.server.Listen(ctx); err != nil {
			for _, bound := range s.entries[:i] {
				_ = bound.server.Close()
			}
			return fmt.Errorf("listen %s: %w", e.name, err)
		}

		banner := e.banner
		if banner == "" {
			banner = e.name + " listening"
		}
		s.logger.Info(banner, slog.String("addr", e.server.Addr().String()))
	}

	return nil
}

// Addrs returns the bound addresses in the order servers were added.
func (s *Set) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.entries))
	for _, e := range s.entries {
		addrs = append(addrs, e.server.Addr())
	}
	return addrs
}

// Serve runs every bound server until ctx is cancelled or one of them fails,
// then shuts all of them down gracefully.
func (s *Set) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, e := range s.entries {
		g.Go(func() error {
			if err := e.server.Serve(); err != nil {
				return fmt.Errorf("serve %s: %w", e.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down listeners")

		var errs []error
		for _, e := range s.entries {
			if err := e.server.Shutdown(gctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", e.name, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
