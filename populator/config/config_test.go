package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/screwyprof/restaker/populator/config"
)

// Tests using t.Setenv cannot run in parallel.

func TestNew(t *testing.T) {
	t.Run("it applies defaults", func(t *testing.T) {
		// Act
		cfg := config.New()

		// Assert
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 5*time.Second, cfg.RetryDelay())
		assert.Equal(t, 1000, cfg.PageSize)
		assert.Equal(t, 5, cfg.MaxPages)
		assert.Equal(t, 10*time.Second, cfg.RewardsTimeout)
		assert.False(t, cfg.MockMode)
		assert.Empty(t, cfg.RewardsAPIKey)
	})

	t.Run("it reads overrides from the environment", func(t *testing.T) {
		// Arrange
		t.Setenv("POPULATOR_MAX_RETRIES", "5")
		t.Setenv("POPULATOR_RETRY_DELAY_MS", "250")
		t.Setenv("POPULATOR_MOCK_MODE", "true")
		t.Setenv("POPULATOR_REWARDS_API_KEY", "secret")
		t.Setenv("POPULATOR_SCHEDULE", "@every 1h")

		// Act
		cfg := config.New()

		// Assert
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay())
		assert.True(t, cfg.MockMode)
		assert.Equal(t, "secret", cfg.RewardsAPIKey)
		assert.Equal(t, "@every 1h", cfg.Schedule)
	})

	t.Run("it panics on malformed values", func(t *testing.T) {
		// Arrange
		t.Setenv("POPULATOR_PAGE_SIZE", "lots")

		// Act & Assert
		assert.Panics(t, func() { config.New() })
	})
}
