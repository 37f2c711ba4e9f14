// Package app builds the billing engine and its collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/cache"
	"github.com/segyhp/fleet-billing/internal/config"
	"github.com/segyhp/fleet-billing/internal/engine"
	"github.com/segyhp/fleet-billing/internal/lock"
	"github.com/segyhp/fleet-billing/internal/metrics"
	"github.com/segyhp/fleet-billing/internal/notify"
	"github.com/segyhp/fleet-billing/internal/repository"
	"github.com/segyhp/fleet-billing/internal/service"
)

type App struct {
	DB       *sqlx.DB
	Store    repository.Store
	Redis    *redis.Client
	Registry *prometheus.Registry
	Service  *service.BillingService
}

// New opens the database, optionally connects to Redis, and builds the service.
// Without Redis the directory is read uncached, every batch claim is granted
// and posting notifications are dropped.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	db, err := repository.Open(ctx, repository.Options{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.GetConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database schema is up to date")
	}

	a := &App{
		DB:       db,
		Store:    repository.NewStore(db),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		dir       engine.Directory = a.Store.Directory()
		claimer   lock.Claimer
		publisher notify.Publisher
	)

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		dir = cache.NewDirectoryCache(dir, a.Redis, cfg.GetDirectoryTTL(), logger)
		claimer = lock.NewRedisClaimer(a.Redis, cfg.GetClaimTTL(), logger)
		publisher = notify.NewRedisPublisher(a.Redis, cfg.Redis.NotifyChannel, logger)
	} else {
		logger.Warn("Redis disabled; directory cache, distributed claims and notifications are off")
	}

	a.Service, err = service.NewBillingService(a.Store, dir, claimer, publisher, metrics.New(a.Registry), logger, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
