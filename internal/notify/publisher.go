package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/fleet-billing/internal/domain"
)

// Publisher announces committed postings. Publishing never blocks or fails
// the posting that produced the event.
type Publisher interface {
	Publish(event domain.PostingEvent)
}

// RedisPublisher sends posting events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (p *RedisPublisher) Publish(event domain.PostingEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to encode posting event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			p.logger.WithFields(logrus.Fields{
				"posting_id": event.PostingID,
				"channel":    p.channel,
				"error":      err,
			}).Warn("Failed to publish posting event")
		}
	}()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(domain.PostingEvent) {}
