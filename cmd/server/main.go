package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/adapter/httpserver"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/pscheid92/renopulse/internal/adapter/redis"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/config"
	"github.com/pscheid92/renopulse/internal/platform/logging"
	"github.com/pscheid92/renopulse/internal/platform/retry"
	"github.com/pscheid92/renopulse/internal/platform/version"
)

const shutdownTimeout = 15 * time.Second

// placementStack is the optional Redis-backed placement. Both fields are nil in local mode.
type placementStack struct {
	client    *redis.Client
	placement *redis.Placement
}

func (p placementStack) domainPlacement() domain.Placement {
	if p.placement == nil {
		return broadcast.LocalPlacement{}
	}
	return p.placement
}

func (p placementStack) healthChecks() []httpserver.HealthCheck {
	if p.client == nil {
		return nil
	}
	return []httpserver.HealthCheck{
		{Name: "redis", Check: p.client.Ping},
		{Name: "redis_circuit", Check: func(context.Context) error {
			if p.client.Breaker().State() == circuitbreaker.OpenState {
				return errors.New("circuit breaker open")
			}
			return nil
		}},
	}
}

func (p placementStack) close() {
	if p.placement != nil {
		p.placement.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupPlacement(cfg *config.Config, clock clockwork.Clock, m *metrics.PlacementMetrics) placementStack {
	if cfg.Placement != config.PlacementRedis {
		return placementStack{}
	}

	client, err := redis.NewClient(cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis not reachable yet, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	always := func(error) retry.Action { return retry.Retry }
	if err := retry.DoVoid(ctx, policy, always, client.Ping); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	placement := redis.NewPlacement(client, cfg.AdvertiseURL, cfg.LeaseTTL, clock, m)
	placement.Start()
	slog.Info("Redis placement enabled", "advertise_url", cfg.AdvertiseURL, "lease_ttl", cfg.LeaseTTL)

	return placementStack{client: client, placement: placement}
}

func runGracefulShutdown(srv *httpserver.Server, dir *broadcast.Directory, placement placementStack) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := dir.Close(shutdownCtx); err != nil {
			slog.Error("Failed to stop actors cleanly", "error", err)
		}
		placement.close()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"placement", cfg.Placement,
		"version", version.Get().Version)

	reg := metrics.NewRegistry()
	notifyMetrics := metrics.NewNotifyMetrics(reg)
	placementMetrics := metrics.NewPlacementMetrics(reg)

	placement := setupPlacement(cfg, clock, placementMetrics)

	dir := broadcast.NewDirectory(placement.domainPlacement(), broadcast.DirectoryOptions{
		Actor: broadcast.Options{
			MaxSessions:     cfg.MaxSessionsPerTopic,
			MaxMessageBytes: cfg.MaxMessageBytes,
			Inbound:         cfg.Inbound(),
			CheckOrigin:     broadcast.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
			Clock:           clock,
			Metrics:         notifyMetrics,
		},
		Placement: placementMetrics,
	})
	if placement.placement != nil {
		placement.placement.OnLost(func(id domain.ActorID) {
			dir.Evict(id, "lease lost")
		})
	}

	srv := httpserver.NewServer(cfg, dir, reg, placement.healthChecks())

	done := runGracefulShutdown(srv, dir, placement)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", fmt.Errorf("listen on :%s: %w", cfg.Port, err))
		os.Exit(1)
	}

	<-done
}
