package server

import (
	"context"
	"errors"
	"fmt"
)

// Shutdown closes every WebSocket connection first, since hijacked
// connections are not tracked by the HTTP server, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down console server")
	var errs []error
	if s.bridge != nil {
		if err := s.bridge.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close websocket connections: %w", err))
		}
	}
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	return errors.Join(errs...)
}
