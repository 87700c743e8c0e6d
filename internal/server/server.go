// Package server exposes a small read-only HTTP API over the supervisor:
// current state, resolved device, recent logs, a live event stream, and
// Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/hdmistream/internal/events"
	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/supervisor"
	"github.com/smazurov/hdmistream/internal/version"
)

// Server is the HTTP status API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	sup        *supervisor.Supervisor
	bus        *events.Bus
	logger     *slog.Logger
}

// Options configure the status server.
type Options struct {
	Supervisor     *supervisor.Supervisor
	Bus            *events.Bus
	MetricsHandler http.Handler
}

// New creates the server and registers all routes.
func New(opts Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("hdmistream API", version.Version)
	config.Info.Description = "Status API for the HDMI capture streaming supervisor"
	config.Servers = []*huma.Server{}

	s := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		sup:    opts.Supervisor,
		bus:    opts.Bus,
		logger: logging.GetLogger("api"),
	}

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	s.registerStatusRoutes()
	s.registerDeviceRoutes()
	s.registerLogRoutes()
	s.registerEventRoutes()
	return s
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting status API", "addr", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
