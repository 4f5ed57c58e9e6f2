// Package health serves the /health/store check. Both record store backends
// answer with the same StoreReport so dashboards need not care which one is
// configured.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DefaultTimeout caps a single check.
const DefaultTimeout = 5 * time.Second

type StoreReport struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// StoreCheck describes one backend. Details is optional and is reported even
// when the ping fails.
type StoreCheck struct {
	Store   string
	Ping    func(ctx context.Context) error
	Details func() any
	Timeout time.Duration
}

func (sc StoreCheck) Run(ctx context.Context) StoreReport {
	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := sc.Ping(ctx)
	report := StoreReport{
		Status:    StatusHealthy,
		Store:     sc.Store,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		report.Status = StatusUnhealthy
		report.Error = err.Error()
	}
	if sc.Details != nil {
		report.Details = sc.Details()
	}
	return report
}

// Handler answers 200 when the store responds and 503 otherwise.
func Handler(sc StoreCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := sc.Run(c.Request().Context())
		code := http.StatusOK
		if report.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, report)
	}
}
