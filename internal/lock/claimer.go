package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	customError "github.com/segyhp/fleet-billing/pkg/errors"
)

// Release gives a claim back before its expiry.
type Release func(ctx context.Context)

// Claimer hands out short-lived exclusive claims on batch items so that two
// batch runs never work on the same item at the same time.
type Claimer interface {
	// TryClaim attempts the claim once. ok is false when another worker holds it.
	TryClaim(ctx context.Context, key string) (release Release, ok bool, err error)
}

// Key formats the claim key of a batch item.
func Key(kind, id string) string {
	return fmt.Sprintf("claim:%s:%s", kind, id)
}

// RedisClaimer claims items through redsync mutexes.
type RedisClaimer struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisClaimer builds a claimer on an existing go-redis client.
func NewRedisClaimer(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisClaimer {
	return &RedisClaimer{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisClaimer) TryClaim(ctx context.Context, key string) (Release, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, customError.WrapValidation(errors.New("claim key is empty"))
	}

	mutex := c.rs.NewMutex(key,
		redsync.WithExpiry(c.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			c.logger.WithField("claim_key", key).Debug("Item already claimed")
			return nil, false, nil
		}
		return nil, false, customError.WrapClaimUnavailable(key, err)
	}

	release := func(ctx context.Context) {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil || !ok {
			c.logger.WithFields(logrus.Fields{
				"claim_key": key,
				"error":     err,
			}).Warn("Claim was not released cleanly")
		}
	}
	return release, true, nil
}

// isContention separates "someone else holds it" from real failures.
// redsync reports contention as ErrFailed or a *ErrTaken, depending on version.
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

// NoopClaimer grants every claim. It serves single-process deployments without Redis.
type NoopClaimer struct{}

func (NoopClaimer) TryClaim(ctx context.Context, key string) (Release, bool, error) {
	return func(context.Context) {}, true, nil
}
