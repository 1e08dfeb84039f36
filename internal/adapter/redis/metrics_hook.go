package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// MetricsHook records latency and outcome of every Redis command.
type MetricsHook struct {
	metrics *metrics.PlacementMetrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m *metrics.PlacementMetrics) *MetricsHook {
	return &MetricsHook{metrics: m}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.metrics.RedisDialFailed()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.metrics.RedisOp(cmd.Name(), opStatus(err), time.Since(start).Seconds())
		return err
	}
}

// ProcessPipelineHook counts a pipeline as one operation.
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.metrics.RedisOp("pipeline", opStatus(err), time.Since(start).Seconds())
		return err
	}
}

// opStatus treats a missing key as success.
func opStatus(err error) string {
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "error"
	}
	return "success"
}
