//go:build integration

package migrator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/migrator"
	"github.com/screwyprof/restaker/migrator/migratortest"
)

func TestApplyMigrations(t *testing.T) {
	t.Parallel()

	t.Run("it leaves nothing pending and is idempotent", func(t *testing.T) {
		t.Parallel()

		// Arrange
		pool := migratortest.CreateTestDatabase(t, "migrations")

		// Act
		applied, err := migrator.ApplyMigrations(pool, "migrations")

		// Assert
		require.NoError(t, err)
		assert.Zero(t, applied)

		pending, err := migrator.PendingMigrations(pool, "migrations")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("it creates the populator tables", func(t *testing.T) {
		t.Parallel()

		// Arrange
		pool := migratortest.CreateTestDatabase(t, "migrations")

		// Act & Assert
		for _, table := range []string{"delegations", "operators", "rewards", "population_runs"} {
			var exists bool
			err := pool.QueryRow(t.Context(), "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
			require.NoError(t, err)
			assert.True(t, exists, "table %s", table)
		}
	})
}
