// Package metrics wires the tracker's Prometheus registry and exposes it
// over HTTP. Individual subsystems register their own collectors against
// DefaultRegisterer; this package only owns enable/disable and the HTTP
// exposition endpoint (the management REST API and health-check endpoint
// remain external collaborators per spec.md §1).
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/pkg/stop"
)

var logger = log.NewLogger("metrics")

// DefaultRegisterer is the registry every subsystem's collectors are
// registered against.
var DefaultRegisterer = prometheus.NewRegistry()

var enabled atomic.Bool

// Enabled reports whether a metrics server is currently running. The pg,
// redis and lmdb storage drivers consult this before doing the work of
// populating gauges on their periodic statistics tick.
func Enabled() bool {
	return enabled.Load()
}

// Server exposes DefaultRegisterer over HTTP at /metrics.
type Server struct {
	srv *http.Server
}

// NewServer starts a metrics HTTP server listening on addr and returns a
// Stopper for it.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(DefaultRegisterer, promhttp.HandlerOpts{}))
	s := &Server{srv: &http.Server{Addr: addr, Handler: mux}}
	enabled.Store(true)

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	return s
}

// Stop implements stop.Stopper.
func (s *Server) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		enabled.Store(false)
		if err := s.srv.Shutdown(context.Background()); err != nil {
			c <- err
		}
	}()
	return c.Result()
}
