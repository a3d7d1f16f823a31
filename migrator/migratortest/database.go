package migratortest

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for pgtestdb
	"github.com/peterldowns/pgtestdb"

	"github.com/screwyprof/restaker/migrator"
	"github.com/screwyprof/restaker/pkg/pgxdb/pgxdbtest"
)

// CreateTestDatabase creates a test database from a template with the schema
// migrations applied. Returns the connection pool ready for use.
func CreateTestDatabase(t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()

	dbConfig := pgtestdb.Custom(t, createTestDatabaseConfig(), migrator.NewSchemaMigrator(migrationsDir))

	// Log the database URL for debugging
	t.Logf("testdbconf: %s", dbConfig.URL())

	return pgxdbtest.NewPool(t, dbConfig.URL())
}

// createTestDatabaseConfig creates the standard pgtestdb configuration for restaker tests
func createTestDatabaseConfig() pgtestdb.Config {
	return pgtestdb.Config{
		DriverName: "pgx",
		User:       "restaker",
		Password:   "restaker",
		Host:       "localhost",
		Port:       "5432",
		Options:    "sslmode=disable",
	}
}
