package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis levanta un Redis efímero. Solo corre con TEST_INTEGRATION.
func startRedis(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestRedis_SetGetExpire(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, Config{Addr: addr, Prefix: "it"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", 500*time.Millisecond))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	assert.ErrorIs(t, c.Add(ctx, "k", "other", time.Minute), ErrExists)

	time.Sleep(time.Second)
	_, err = c.Get(ctx, "k")
	assert.True(t, IsNotFound(err))
}

func TestRedis_AddAfterExpiry(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	c, err := NewRedis(ctx, Config{Addr: addr, Prefix: "it:"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Add(ctx, "once", "1", 200*time.Millisecond))
	n, err := c.Raw().Exists(ctx, "it:once").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	time.Sleep(400 * time.Millisecond)
	require.NoError(t, c.Add(ctx, "once", "2", time.Minute))
}
