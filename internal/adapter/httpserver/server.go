package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/config"
	"github.com/pscheid92/renopulse/internal/platform/logging"
)

// notifier is the part of broadcast.Directory the handlers use.
type notifier interface {
	Dispatch(ctx context.Context, topic domain.Topic, w http.ResponseWriter, r *http.Request) error
	Publish(ctx context.Context, topic domain.Topic, msg domain.Message) error
	Hosted(ctx context.Context, id domain.ActorID, topic string) (*broadcast.Actor, error)
}

var _ notifier = (*broadcast.Directory)(nil)

type Server struct {
	echo   *echo.Echo
	config *config.Config

	notifier       notifier
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	healthChecks []HealthCheck
	startTime    time.Time
	draining     atomic.Bool
}

func NewServer(cfg *config.Config, notifier notifier, reg *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		notifier:       notifier,
		httpMetrics:    metrics.NewHTTPMetrics(reg),
		metricsHandler: metrics.Handler(reg),
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, e.g. for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	logging.Logger.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown fails readiness first, then stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
