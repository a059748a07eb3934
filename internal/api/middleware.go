package api

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// slowRequestThreshold is the duration above which requests are logged at WARN level.
const slowRequestThreshold = 500 * time.Millisecond

// RequestLogger logs every request with its status and timing. Server errors
// log at ERROR, slow requests at WARN and everything else at DEBUG.
// Websocket streams are logged when they close.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			duration := time.Since(start)
			status := c.Response().Status
			attrs := []any{
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"duration_ms", duration.Milliseconds(),
			}
			if id := c.Param("case"); id != "" {
				attrs = append(attrs, "case", id)
			}
			if id := c.Param("run"); id != "" {
				attrs = append(attrs, "run", id)
			}

			switch {
			case status >= 500:
				logger.Error("request failed", attrs...)
			case duration > slowRequestThreshold && c.Request().Header.Get("Upgrade") == "":
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
			// The error was already written by c.Error.
			return nil
		}
	}
}
