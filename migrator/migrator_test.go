package migrator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/migrator"
)

func TestSchemaMigratorHash(t *testing.T) {
	t.Parallel()

	t.Run("it derives a stable hash from the migration files", func(t *testing.T) {
		t.Parallel()

		// Arrange
		m := migrator.NewSchemaMigrator("migrations")

		// Act
		first, err := m.Hash()
		require.NoError(t, err)
		second, err := m.Hash()
		require.NoError(t, err)

		// Assert
		assert.True(t, strings.HasPrefix(first, "restaker_schema_"))
		assert.Equal(t, first, second)
	})
}
