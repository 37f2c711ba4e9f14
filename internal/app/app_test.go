package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/pkg/logger"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:          "sqlite",
			URL:             filepath.Join(t.TempDir(), "app.db"),
			ConnMaxLifetime: "5m",
			AutoMigrate:     true,
		},
		Redis: config.RedisConfig{
			DirectoryTTL:  "1m",
			NotifyChannel: "test:postings",
		},
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Business: config.BusinessConfig{
			PaymentMatrixTiers:   "200=FULL;*=100",
			RestrictedCategories: "Tax",
			DelinquencyThreshold: 2,
		},
		Batch: config.BatchConfig{
			Workers:     2,
			ItemTimeout: "5s",
			MaxRetries:  1,
			RetryBase:   "1ms",
			ClaimTTL:    "1m",
		},
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("without redis", func(t *testing.T) {
		a, err := New(ctx, sqliteConfig(t), logger.Discard())
		require.NoError(t, err)
		defer a.Close()

		assert.Nil(t, a.Redis)
		assert.NoError(t, a.Store.Ping(ctx))

		obligation, err := a.Service.CreateObligation(ctx, &domain.CreateObligationRequest{
			Category:        domain.CategoryRepair,
			ReferenceID:     "R-1",
			DriverID:        "D-1",
			PrincipalAmount: decimal.RequireFromString("120.00"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ObligationStatusDraft, obligation.Status)
	})

	t.Run("with redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := sqliteConfig(t)
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = mr.Addr()

		a, err := New(ctx, cfg, logger.Discard())
		require.NoError(t, err)
		defer a.Close()

		require.NotNil(t, a.Redis)
		_, err = a.Service.SaveVehicle(ctx, &domain.Vehicle{ID: "V-1", Plate: "abc 123"})
		require.NoError(t, err)

		families, err := a.Registry.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := sqliteConfig(t)
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr

		_, err := New(ctx, cfg, logger.Discard())
		assert.Error(t, err)
	})
}
