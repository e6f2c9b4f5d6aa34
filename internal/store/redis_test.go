//go:build integration

package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container and returns its address.
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisStore(t *testing.T) {
	addr := setupRedisContainer(t)

	s, err := NewRedisStore(addr, "", 0, time.Minute)
	require.NoError(t, err)

	testStore(t, s)
}

func TestRedisStoreTTL(t *testing.T) {
	addr := setupRedisContainer(t)
	ctx := context.Background()

	s, err := NewRedisStore(addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateRun(ctx, newRun("a", time.Now())))
	require.NoError(t, s.AppendObservation(ctx, "a", observation(0, 1)))

	ttl, err := s.client.TTL(ctx, runKey("a")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	run, err := s.GetRun(ctx, "a")
	require.NoError(t, err)
	run.Status = StatusCompleted
	require.NoError(t, s.UpdateRun(ctx, run))

	ttl, err = s.client.TTL(ctx, runKey("a")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second, "update keeps the expiry")

	ttl, err = s.client.TTL(ctx, observationsKey("a")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, s.Ping(ctx))
}

func TestNewRedisStoreValidation(t *testing.T) {
	_, err := NewRedisStore("", "", 0, 0)
	assert.Error(t, err)

	_, err = NewRedisStore("localhost:6379", "", -1, 0)
	assert.Error(t, err)

	_, err = NewRedisStore("127.0.0.1:1", "", 0, 0)
	assert.ErrorContains(t, err, "failed to connect to redis")
}
