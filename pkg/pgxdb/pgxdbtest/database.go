package pgxdbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// NewPool connects to a test database with pool settings tuned for tests.
// The pool is closed when the test finishes.
func NewPool(t *testing.T, connectionString string) *pgxpool.Pool {
	t.Helper()

	pool, err := createTestConnection(t.Context(), connectionString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// createTestConnection creates a connection pool for integration tests:
// a minimal pool, short lifecycles and quick failure detection.
func createTestConnection(ctx context.Context, connectionString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, err
	}

	config.MinConns = 1
	config.MaxConns = 4 // concurrent reward updates contend for rows

	config.MaxConnLifetime = 10 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	config.ConnConfig.ConnectTimeout = 5 * time.Second // Fail fast in test scenarios

	return pgxpool.NewWithConfig(ctx, config)
}
