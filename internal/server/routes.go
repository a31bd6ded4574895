package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"

	appmiddleware "github.com/nfrund/consoled/internal/middleware"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	if s.metrics != nil {
		s.E.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "consoled",
			Subsystem:  "http",
			Registerer: s.metrics,
			Skipper: func(c echo.Context) bool {
				// Upgraded connections live for minutes and would skew latencies.
				return c.Path() == s.wsPath || strings.HasPrefix(c.Path(), "/metrics")
			},
		}))
		s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: s.metrics}))
	}

	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	if s.bridge != nil {
		s.E.GET(s.wsPath, s.bridge.Handle, appmiddleware.RateLimiter(s.connectRate))
	}
}
