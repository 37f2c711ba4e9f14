package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/fleet-billing/internal/domain"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with required database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/billing?sslmode=disable")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 8, cfg.Batch.Workers)
		assert.Equal(t, 30*time.Second, cfg.GetItemTimeout())
		assert.Equal(t, []domain.Category{domain.CategoryTax}, cfg.GetRestrictedCategories())
		assert.Len(t, cfg.GetPaymentMatrixTiers(), 5)
		assert.Equal(t, "America/New_York", cfg.GetLocation().String())
		assert.True(t, cfg.IsDevelopment())
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "file:billing.db")
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("BATCH_WORKERS", "3")
		t.Setenv("RESTRICTED_CATEGORIES", "Tax, Misc")
		t.Setenv("ENV", "production")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, 3, cfg.Batch.Workers)
		assert.Equal(t, []domain.Category{domain.CategoryTax, domain.CategoryMisc}, cfg.GetRestrictedCategories())
		assert.True(t, cfg.IsProduction())
	})

	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: "8080", ReadTimeout: "1s", WriteTimeout: "1s"},
			Database:  DatabaseConfig{Driver: "postgres", URL: "postgres://x", ConnMaxLifetime: "1m"},
			Redis:     RedisConfig{DirectoryTTL: "1m"},
			Scheduler: SchedulerConfig{Timezone: "UTC"},
			Business:  BusinessConfig{PaymentMatrixTiers: "200=FULL;*=300", RestrictedCategories: "Tax", DelinquencyThreshold: 2},
			Batch:     BatchConfig{Workers: 1, ItemTimeout: "1s", RetryBase: "10ms", ClaimTTL: "1m"},
			Health:    HealthConfig{Timeout: "1s"},
		}
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorContains string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, errorContains: "DATABASE_DRIVER"},
		{name: "bad tiers", mutate: func(c *Config) { c.Business.PaymentMatrixTiers = "500=100;200=FULL" }, errorContains: "PAYMENT_MATRIX_TIERS"},
		{name: "unknown restricted category", mutate: func(c *Config) { c.Business.RestrictedCategories = "Parking" }, errorContains: "RESTRICTED_CATEGORIES"},
		{name: "bad timeout", mutate: func(c *Config) { c.Batch.ItemTimeout = "soon" }, errorContains: "BATCH_ITEM_TIMEOUT"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, errorContains: "SCHEDULER_TIMEZONE"},
		{name: "no workers", mutate: func(c *Config) { c.Batch.Workers = 0 }, errorContains: "BATCH_WORKERS"},
		{name: "claim shorter than item timeout", mutate: func(c *Config) { c.Batch.ClaimTTL = "500ms" }, errorContains: "CLAIM_TTL"},
		{name: "claim equal to item timeout", mutate: func(c *Config) { c.Batch.ClaimTTL = "1s" }, errorContains: "CLAIM_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}
