package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
)

// setupErrorHandling installs an error handler that logs unhandled errors
// with a stack trace. Errors that are already *echo.HTTPError are expected
// and logged at debug level only.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			slog.Debug("HTTP error", "status", he.Code, "error", err, "path", c.Request().URL.Path)
			e.DefaultHTTPErrorHandler(err, c)
			return
		}

		slog.Error("Internal Server Error (Unhandled)",
			"error", err.Error(),
			"path", c.Request().URL.Path,
			"stack_trace", string(debug.Stack()))
		if werr := c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)); werr != nil {
			slog.Error("Failed to write error response", "error", werr)
		}
	}
}
