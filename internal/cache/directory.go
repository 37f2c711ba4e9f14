package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
	"github.com/segyhp/fleet-billing/internal/engine"
	customError "github.com/segyhp/fleet-billing/pkg/errors"
	"github.com/segyhp/fleet-billing/pkg/utils"
)

// missing marks a plate known to have no vehicle, so repeated misses skip the database.
const missing = "-"

// DirectoryCache caches plate lookups of a directory in Redis. Lease
// lookups are time dependent and always go to the underlying directory.
// Cache errors fall back to the directory.
type DirectoryCache struct {
	next   engine.Directory
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewDirectoryCache(next engine.Directory, client *redis.Client, ttl time.Duration, logger *logrus.Logger) *DirectoryCache {
	return &DirectoryCache{next: next, client: client, ttl: ttl, logger: logger}
}

func vehicleKey(plate string) string {
	return fmt.Sprintf("vehicle:plate:%s", plate)
}

func (c *DirectoryCache) VehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	plate = utils.NormalizePlate(plate)
	key := vehicleKey(plate)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && raw == missing:
		return nil, nil
	case err == nil:
		var v domain.Vehicle
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr == nil {
			return &v, nil
		}
		c.logger.WithField("key", key).Warn("Dropping unreadable vehicle cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).Warn("Vehicle cache read failed")
	}

	vehicle, err := c.next.VehicleByPlate(ctx, plate)
	if err != nil {
		return nil, err
	}

	value := missing
	if vehicle != nil {
		encoded, err := json.Marshal(vehicle)
		if err != nil {
			return vehicle, nil
		}
		value = string(encoded)
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Vehicle cache write failed")
	}
	return vehicle, nil
}

func (c *DirectoryCache) LeasesActiveAt(ctx context.Context, vehicleID string, ts time.Time) ([]*domain.Lease, error) {
	return c.next.LeasesActiveAt(ctx, vehicleID, ts)
}

func (c *DirectoryCache) LeaseDrivers(ctx context.Context, leaseID string) ([]*domain.LeaseDriver, error) {
	return c.next.LeaseDrivers(ctx, leaseID)
}

// Invalidate drops the cached lookup of a plate after the directory changed.
func (c *DirectoryCache) Invalidate(ctx context.Context, plate string) error {
	if err := c.client.Del(ctx, vehicleKey(utils.NormalizePlate(plate))).Err(); err != nil {
		return customError.WrapCacheError(err)
	}
	return nil
}
