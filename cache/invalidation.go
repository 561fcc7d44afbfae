// cache/invalidation.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

// InvalidationNotice asks every cache-holding node to drop its entry for a
// policy. Notices are idempotent: applying a duplicate is a no-op.
type InvalidationNotice struct {
	PolicyID model.PolicyID `json:"policy_id"`
}

// Broadcaster publishes invalidation notices to all cluster members
// holding a replica of the enforcer cache. Delivery is at-least-once.
type Broadcaster interface {
	Publish(ctx context.Context, notice InvalidationNotice) error
}

// RedisBroadcaster fans invalidation notices out over a Redis pub/sub
// channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, notice InvalidationNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation notice: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation notice: %w", err)
	}
	logger.Debug("Invalidation notice published",
		zap.String("policyID", string(notice.PolicyID)))
	return nil
}

// SubscribeInvalidations applies broadcast invalidation notices to the
// local enforcer cache until ctx is cancelled. Both cache lines of the
// policy are dropped, since either may reflect the superseded revision.
func SubscribeInvalidations(ctx context.Context, client *redis.Client, channel string, cache *EnforcerCache) {
	pubsub := client.Subscribe(ctx, channel)
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var notice InvalidationNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					logger.Warn("Dropping malformed invalidation notice", zap.Error(err))
					continue
				}
				cache.Invalidate(Key{PolicyID: notice.PolicyID, ResolveImports: true})
				cache.Invalidate(Key{PolicyID: notice.PolicyID, ResolveImports: false})
				logger.Debug("Invalidation notice applied",
					zap.String("policyID", string(notice.PolicyID)))
			}
		}
	}()
}
