package redis

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/renopulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupContainerClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewClient("redis://"+endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx))
	return client
}

func TestPlacementIntegration_LeaseLifecycle(t *testing.T) {
	client := setupContainerClient(t)
	ctx := context.Background()
	id := domain.Topic("integration").ActorID()

	a := NewPlacement(client, "http://a:8080", testTTL, clockwork.NewRealClock(), nil)
	b := NewPlacement(client, "http://b:8080", testTTL, clockwork.NewRealClock(), nil)

	claim, err := a.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, claim.Local)

	claim, err = b.Claim(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "http://a:8080", claim.Owner)

	require.NoError(t, a.renew(ctx, id))
	assert.ErrorIs(t, b.renew(ctx, id), ErrLeaseLost)

	require.NoError(t, a.Release(ctx, id))

	claim, err = b.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, claim.Local)
}
