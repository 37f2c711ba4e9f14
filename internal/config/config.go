package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Batch     BatchConfig     `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"DATABASE_DRIVER"`
	URL             string `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `mapstructure:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	Enabled       bool   `mapstructure:"REDIS_ENABLED"`
	Addr          string `mapstructure:"REDIS_ADDR"`
	Password      string `mapstructure:"REDIS_PASSWORD"`
	DB            int    `mapstructure:"REDIS_DB"`
	DirectoryTTL  string `mapstructure:"DIRECTORY_CACHE_TTL"`
	NotifyChannel string `mapstructure:"NOTIFY_CHANNEL"`
}

type SchedulerConfig struct {
	Timezone        string `mapstructure:"SCHEDULER_TIMEZONE"`
	AssociationCron string `mapstructure:"SCHEDULER_ASSOCIATION_CRON"`
	PostingCron     string `mapstructure:"SCHEDULER_POSTING_CRON"`
	MarkDueCron     string `mapstructure:"SCHEDULER_MARK_DUE_CRON"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	PaymentMatrixTiers   string `mapstructure:"PAYMENT_MATRIX_TIERS"`
	RestrictedCategories string `mapstructure:"RESTRICTED_CATEGORIES"`
	DelinquencyThreshold int    `mapstructure:"DELINQUENCY_THRESHOLD"`
}

type BatchConfig struct {
	Workers     int    `mapstructure:"BATCH_WORKERS"`
	Limit       int    `mapstructure:"BATCH_LIMIT"`
	ItemTimeout string `mapstructure:"BATCH_ITEM_TIMEOUT"`
	MaxRetries  int    `mapstructure:"BATCH_MAX_RETRIES"`
	RetryBase   string `mapstructure:"BATCH_RETRY_BASE"`
	ClaimTTL    string `mapstructure:"CLAIM_TTL"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"SERVER_PORT":                "8080",
	"SERVER_HOST":                "0.0.0.0",
	"ENV":                        "development",
	"SERVER_READ_TIMEOUT":        "15s",
	"SERVER_WRITE_TIMEOUT":       "60s",
	"DATABASE_DRIVER":            "postgres",
	"DATABASE_URL":               "",
	"DATABASE_MAX_OPEN_CONNS":    25,
	"DATABASE_MAX_IDLE_CONNS":    5,
	"DATABASE_CONN_MAX_LIFETIME": "5m",
	"DATABASE_AUTO_MIGRATE":      true,
	"REDIS_ENABLED":              true,
	"REDIS_ADDR":                 "localhost:6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"DIRECTORY_CACHE_TTL":        "10m",
	"NOTIFY_CHANNEL":             "fleet-billing:postings",
	"SCHEDULER_TIMEZONE":         "America/New_York",
	"SCHEDULER_ASSOCIATION_CRON": "0 */15 * * * *",
	"SCHEDULER_POSTING_CRON":     "0 5 0 * * SUN",
	"SCHEDULER_MARK_DUE_CRON":    "0 0 1 * * *",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "json",
	"PAYMENT_MATRIX_TIERS":       "200=FULL;500=100;1000=200;3000=250;*=300",
	"RESTRICTED_CATEGORIES":      "Tax",
	"DELINQUENCY_THRESHOLD":      2,
	"BATCH_WORKERS":              8,
	"BATCH_LIMIT":                500,
	"BATCH_ITEM_TIMEOUT":         "30s",
	"BATCH_MAX_RETRIES":          3,
	"BATCH_RETRY_BASE":           "100ms",
	"CLAIM_TTL":                  "2m",
	"HEALTH_CHECK_TIMEOUT":       "5s",
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	// Don't fail if .env file doesn't exist; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Business.DelinquencyThreshold <= 0 {
		return fmt.Errorf("DELINQUENCY_THRESHOLD must be greater than 0")
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be greater than 0")
	}

	if c.Batch.MaxRetries < 0 {
		return fmt.Errorf("BATCH_MAX_RETRIES cannot be negative")
	}

	if _, err := engine.ParseTiers(c.Business.PaymentMatrixTiers); err != nil {
		return fmt.Errorf("PAYMENT_MATRIX_TIERS is invalid: %w", err)
	}

	if _, err := c.parseRestrictedCategories(); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid IANA zone: %w", err)
	}

	durations := map[string]string{
		"SERVER_READ_TIMEOUT":        c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":       c.Server.WriteTimeout,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"DIRECTORY_CACHE_TTL":        c.Redis.DirectoryTTL,
		"BATCH_ITEM_TIMEOUT":         c.Batch.ItemTimeout,
		"BATCH_RETRY_BASE":           c.Batch.RetryBase,
		"CLAIM_TTL":                  c.Batch.ClaimTTL,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
	}

	// A claim must outlive the item it guards.
	if c.GetClaimTTL() <= c.GetItemTimeout() {
		return fmt.Errorf("CLAIM_TTL (%s) must be longer than BATCH_ITEM_TIMEOUT (%s)", c.Batch.ClaimTTL, c.Batch.ItemTimeout)
	}

	return nil
}

func (c *Config) parseRestrictedCategories() ([]domain.Category, error) {
	var categories []domain.Category
	for _, raw := range strings.Split(c.Business.RestrictedCategories, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		category := domain.Category(name)
		if !category.Valid() {
			return nil, fmt.Errorf("RESTRICTED_CATEGORIES contains unknown category %q", name)
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetPaymentMatrixTiers returns the parsed payment matrix tiers
func (c *Config) GetPaymentMatrixTiers() []engine.Tier {
	tiers, _ := engine.ParseTiers(c.Business.PaymentMatrixTiers)
	return tiers
}

// GetRestrictedCategories returns the categories payments may never be allocated to
func (c *Config) GetRestrictedCategories() []domain.Category {
	categories, _ := c.parseRestrictedCategories()
	return categories
}

// GetLocation returns the business timezone used for payment weeks
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

// GetReadTimeout returns the HTTP read timeout as duration
func (c *Config) GetReadTimeout() time.Duration { return mustDuration(c.Server.ReadTimeout) }

// GetWriteTimeout returns the HTTP write timeout as duration
func (c *Config) GetWriteTimeout() time.Duration { return mustDuration(c.Server.WriteTimeout) }

// GetConnMaxLifetime returns the database connection lifetime as duration
func (c *Config) GetConnMaxLifetime() time.Duration { return mustDuration(c.Database.ConnMaxLifetime) }

// GetDirectoryTTL returns the vehicle cache TTL as duration
func (c *Config) GetDirectoryTTL() time.Duration { return mustDuration(c.Redis.DirectoryTTL) }

// GetItemTimeout returns the per-item batch timeout as duration
func (c *Config) GetItemTimeout() time.Duration { return mustDuration(c.Batch.ItemTimeout) }

// GetRetryBase returns the first retry delay as duration
func (c *Config) GetRetryBase() time.Duration { return mustDuration(c.Batch.RetryBase) }

// GetClaimTTL returns the batch claim expiry as duration
func (c *Config) GetClaimTTL() time.Duration { return mustDuration(c.Batch.ClaimTTL) }

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration { return mustDuration(c.Health.Timeout) }
