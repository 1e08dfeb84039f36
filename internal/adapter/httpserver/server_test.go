package httpserver

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/renopulse/internal/broadcast"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/pscheid92/renopulse/internal/platform/config"
)

type mockNotifier struct {
	mu          sync.Mutex
	published   []domain.Message
	dispatchErr error
	publishErr  error
	hostedErr   error
	hosted      *broadcast.Actor
}

func (m *mockNotifier) Dispatch(_ context.Context, _ domain.Topic, w http.ResponseWriter, _ *http.Request) error {
	if m.dispatchErr != nil {
		return m.dispatchErr
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (m *mockNotifier) Publish(_ context.Context, _ domain.Topic, msg domain.Message) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	return nil
}

func (m *mockNotifier) Hosted(context.Context, domain.ActorID, string) (*broadcast.Actor, error) {
	if m.hostedErr != nil {
		return nil, m.hostedErr
	}
	return m.hosted, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		AppURL:              "http://localhost:8080",
		Placement:           config.PlacementLocal,
		InboundPolicy:       string(domain.InboundBroadcast),
		MaxSessionsPerTopic: 100,
		MaxMessageBytes:     1024,
		PublishRateLimit:    1000,
		PublishRateBurst:    1000,
	}
}

func newTestServer(t *testing.T, n notifier, opts ...func(*Server)) *Server {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(), n, opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, n notifier, opts ...func(*Server)) *Server {
	t.Helper()

	srv := NewServer(cfg, n, prometheus.NewRegistry(), nil)
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// newTestDirectory returns a single-instance directory like the one the server runs with.
func newTestDirectory(t *testing.T) *broadcast.Directory {
	t.Helper()

	dir := broadcast.NewDirectory(broadcast.LocalPlacement{}, broadcast.DirectoryOptions{})
	t.Cleanup(func() { _ = dir.Close(context.Background()) })
	return dir
}
