package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is the liveness probe.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger is a dependency checked by the readiness probe.  *sql.DB and
// *redis.Client satisfy it through small adapters in main.
type Pinger func(ctx context.Context) error

// Ready reports 503 when any required dependency fails its ping.
// Optional dependencies are reported but never fail the probe.
func Ready(required, optional map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		checks := echo.Map{}
		for name, ping := range required {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		for name, ping := range optional {
			if err := ping(ctx); err != nil {
				checks[name] = "degraded: " + err.Error()
				continue
			}
			checks[name] = "ok"
		}
		return c.JSON(status, echo.Map{"checks": checks})
	}
}
