package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", MigrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://u@h/db", MigrateURL("postgresql://u@h/db"))
	assert.Equal(t, "pgx5://already", MigrateURL("pgx5://already"))
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

// startPostgres levanta un Postgres efímero. Solo corre con TEST_INTEGRATION.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("hellologin_test"),
		postgres.WithUsername("hellologin"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestMigrate_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	v, err := Migrate(ctx, dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	// Idempotente.
	v, err = Migrate(ctx, dsn)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	db, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hl_user`).Scan(&n))
	assert.Zero(t, n)
}
