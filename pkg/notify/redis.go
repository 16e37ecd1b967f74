package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/flock/pkg/observability"
)

// DefaultChannel is the pub/sub channel membership events go to
const DefaultChannel = "flock:notifications:membership"

// RedisNotifier publishes events as JSON on a Redis pub/sub channel, where
// the mail sender picks them up
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisNotifier creates a publisher on channel, or DefaultChannel when
// channel is empty
func NewRedisNotifier(client redis.UniversalClient, channel string, logger *observability.Logger, metrics *observability.Metrics) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger.WithField("component", "notify"),
		metrics: metrics,
	}
}

func (n *RedisNotifier) OnMembershipCreated(ctx context.Context, event MembershipEvent) {
	err := n.publish(ctx, event)
	n.metrics.RecordNotification("redis", err)
	if err != nil {
		n.logger.WithError(err).WithField("community_id", event.CommunityID).Warn("Failed to publish membership notification")
	}
}

func (n *RedisNotifier) publish(ctx context.Context, event MembershipEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.channel, err)
	}
	return nil
}
