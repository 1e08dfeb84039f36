package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/renopulse/internal/domain"
	"go-simpler.org/env"
)

const (
	PlacementLocal = "local"
	PlacementRedis = "redis"

	minLeaseTTL = 3 * time.Second
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	Placement    string        `env:"PLACEMENT" default:"local"`
	RedisURL     string        `env:"REDIS_URL"`
	AdvertiseURL string        `env:"ADVERTISE_URL"`
	LeaseTTL     time.Duration `env:"LEASE_TTL" default:"30s"`

	InboundPolicy       string `env:"INBOUND_POLICY" default:"broadcast"`
	MaxSessionsPerTopic int    `env:"MAX_SESSIONS_PER_TOPIC" default:"1000"`
	MaxMessageBytes     int64  `env:"MAX_MESSAGE_BYTES" default:"65536"`

	PublishRateLimit float64 `env:"PUBLISH_RATE_LIMIT" default:"20"`
	PublishRateBurst int     `env:"PUBLISH_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) Inbound() domain.InboundPolicy {
	// validate() has already rejected unknown values
	p, _ := domain.ParseInboundPolicy(c.InboundPolicy)
	return p
}

func validate(cfg *Config) error {
	switch cfg.Placement {
	case PlacementLocal:
	case PlacementRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when PLACEMENT=redis")
		}
		if cfg.AdvertiseURL == "" {
			return errors.New("ADVERTISE_URL is required when PLACEMENT=redis")
		}
		u, err := url.Parse(cfg.AdvertiseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ADVERTISE_URL must be an absolute URL, got %q", cfg.AdvertiseURL)
		}
		if cfg.LeaseTTL < minLeaseTTL {
			return fmt.Errorf("LEASE_TTL must be at least %s", minLeaseTTL)
		}
	default:
		return fmt.Errorf("PLACEMENT must be %q or %q, got %q", PlacementLocal, PlacementRedis, cfg.Placement)
	}

	if _, err := domain.ParseInboundPolicy(cfg.InboundPolicy); err != nil {
		return fmt.Errorf("INBOUND_POLICY: %w", err)
	}
	if cfg.MaxSessionsPerTopic < 1 {
		return errors.New("MAX_SESSIONS_PER_TOPIC must be positive")
	}
	if cfg.MaxMessageBytes < 1 {
		return errors.New("MAX_MESSAGE_BYTES must be positive")
	}
	if cfg.PublishRateLimit <= 0 || cfg.PublishRateBurst < 1 {
		return errors.New("PUBLISH_RATE_LIMIT and PUBLISH_RATE_BURST must be positive")
	}

	return nil
}
