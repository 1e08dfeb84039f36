package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/renopulse/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingProcess(err error) goredis.ProcessHook {
	return func(context.Context, goredis.Cmder) error { return err }
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(nil))
	for range 10 {
		assert.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "get", "key")))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(goredis.Nil))
	for range 10 {
		err := process(ctx, goredis.NewStringCmd(ctx, "get", "missing"))
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook(nil)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(errors.New("connection refused")))
	for range 2 {
		err := process(ctx, goredis.NewStringCmd(ctx, "get", "key"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	m := metrics.NewPlacementMetrics(prometheus.NewRegistry())
	hook := NewCircuitBreakerHook(m)
	ctx := context.Background()

	process := hook.ProcessHook(failingProcess(errors.New("connection timeout")))
	for range 5 {
		assert.Error(t, process(ctx, goredis.NewStringCmd(ctx, "set", "key", "value")))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))

	called := false
	guarded := hook.ProcessHook(func(context.Context, goredis.Cmder) error {
		called = true
		return nil
	})
	err := guarded(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called, "open breaker must not reach Redis")

	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error { return nil })
	assert.ErrorIs(t, pipeline(ctx, nil), circuitbreaker.ErrOpen)
}
