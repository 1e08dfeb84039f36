package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/renopulse/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check. Local placement has none.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// probeReport is the body of the startup and readiness probes.
type probeReport struct {
	Status      string            `json:"status"`
	Placement   string            `json:"placement"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.probe(ctx))
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status":    "ok",
		"placement": s.config.Placement,
		"uptime":    time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness takes the instance out of rotation once shutdown has begun, before any check runs.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.draining.Load() {
		return s.writeProbe(c, probeReport{Status: "draining", Placement: s.config.Placement})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.probe(ctx))
}

// probe runs all checks concurrently. The reported failure is the first failing check in declared order.
func (s *Server) probe(ctx context.Context) probeReport {
	report := probeReport{Status: "ready", Placement: s.config.Placement}
	if len(s.healthChecks) == 0 {
		return report
	}

	results := make([]error, len(s.healthChecks))
	var g errgroup.Group
	for i, hc := range s.healthChecks {
		g.Go(func() error {
			results[i] = hc.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report.Checks = make(map[string]string, len(s.healthChecks))
	for i, hc := range s.healthChecks {
		err := results[i]
		if err == nil {
			report.Checks[hc.Name] = "ok"
			continue
		}
		report.Checks[hc.Name] = err.Error()
		if report.FailedCheck == "" {
			report.Status = "unhealthy"
			report.FailedCheck = hc.Name
			report.Error = err.Error()
		}
	}
	return report
}

func (s *Server) writeProbe(c echo.Context, report probeReport) error {
	status := http.StatusOK
	if report.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
