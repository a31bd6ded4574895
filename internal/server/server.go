// Package server exposes the console over HTTP: the WebSocket upgrade route,
// a health check and the Prometheus endpoint.
package server

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	appmiddleware "github.com/nfrund/consoled/internal/middleware"
	"github.com/nfrund/consoled/internal/websocket"
)

const defaultShutdownTimeout = 10 * time.Second

// Options configures a Server. Metrics is nil when /metrics is disabled.
type Options struct {
	Addr            string
	WSPath          string
	ConnectRate     float64
	ShutdownTimeout time.Duration
	Bridge          *websocket.Bridge
	Metrics         *prometheus.Registry
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E               *echo.Echo
	addr            string
	wsPath          string
	connectRate     float64
	shutdownTimeout time.Duration
	bridge          *websocket.Bridge
	metrics         *prometheus.Registry
	logger          *slog.Logger
}

// New creates a Server with its middleware chain and routes registered.
func New(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		E:               e,
		addr:            opts.Addr,
		wsPath:          opts.WSPath,
		connectRate:     opts.ConnectRate,
		shutdownTimeout: opts.ShutdownTimeout,
		bridge:          opts.Bridge,
		metrics:         opts.Metrics,
		logger:          slog.Default().With("component", "server"),
	}

	setupErrorHandling(e)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)

	s.RegisterRoutes()
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.addr }
