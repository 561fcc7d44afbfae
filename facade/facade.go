// facade/facade.go
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ditto_errors "github.com/neottil/ditto/errors"
	logger "github.com/neottil/ditto/logging"
	"github.com/neottil/ditto/model"
)

// Retriever is the authoritative source of entity projections.
type Retriever interface {
	RetrieveEntity(ctx context.Context, id model.EntityID) (map[string]any, error)
}

// CachingFacade serves entity projections from a Redis base cache,
// enriching a cached base with the incremental event tail where possible
// and falling back to a full refetch otherwise.
type CachingFacade struct {
	client    *redis.Client
	retriever Retriever
	ttl       time.Duration
}

func NewCachingFacade(client *redis.Client, retriever Retriever, ttl time.Duration) *CachingFacade {
	return &CachingFacade{client: client, retriever: retriever, ttl: ttl}
}

// cachedEntity is the persisted form of a base projection.
type cachedEntity struct {
	Revision int64          `json:"revision"`
	Entity   map[string]any `json:"entity"`
}

// Retrieve returns the entity projection at least as recent as
// fromRevision. Nil events and revision -1 force a full refetch. Ask
// timeouts from the retriever surface as ErrAskTimeout for the caller's
// bounded retry.
func (f *CachingFacade) Retrieve(ctx context.Context, id model.EntityID, events []model.Event, fromRevision int64) (map[string]any, error) {
	if events == nil && fromRevision < 0 {
		return f.refetch(ctx, id)
	}

	base, ok, err := f.cachedBase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok || base.Revision < firstRevision(events)-1 {
		// the cached base is too old for the event tail to apply cleanly
		return f.refetch(ctx, id)
	}

	entity := base.Entity
	revision := base.Revision
	for _, event := range events {
		if event.Revision <= revision {
			continue
		}
		entity = applyEvent(entity, event)
		revision = event.Revision
	}
	f.cacheBase(ctx, id, cachedEntity{Revision: revision, Entity: entity})
	return entity, nil
}

func (f *CachingFacade) refetch(ctx context.Context, id model.EntityID) (map[string]any, error) {
	entity, err := f.retriever.RetrieveEntity(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ditto_errors.ErrAskTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ditto_errors.ErrEntityUnavailable, err)
	}
	f.cacheBase(ctx, id, cachedEntity{Revision: entityRevision(entity), Entity: entity})
	return entity, nil
}

func (f *CachingFacade) cachedBase(ctx context.Context, id model.EntityID) (cachedEntity, bool, error) {
	key := fmt.Sprintf("entity:%s", id)
	payload, err := f.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return cachedEntity{}, false, nil
	} else if err != nil {
		return cachedEntity{}, false, fmt.Errorf("failed to get entity from cache: %w", err)
	}

	var base cachedEntity
	if err := json.Unmarshal([]byte(payload), &base); err != nil {
		return cachedEntity{}, false, fmt.Errorf("failed to unmarshal cached entity: %w", err)
	}
	return base, true, nil
}

func (f *CachingFacade) cacheBase(ctx context.Context, id model.EntityID, base cachedEntity) {
	payload, err := json.Marshal(base)
	if err != nil {
		logger.Warn("Failed to marshal entity for caching",
			zap.String("entityID", string(id)), zap.Error(err))
		return
	}
	key := fmt.Sprintf("entity:%s", id)
	if err := f.client.Set(ctx, key, payload, f.ttl).Err(); err != nil {
		logger.Warn("Failed to cache entity", zap.String("entityID", string(id)), zap.Error(err))
	}
}

// Invalidate drops the cached base projection for the entity.
func (f *CachingFacade) Invalidate(ctx context.Context, id model.EntityID) error {
	key := fmt.Sprintf("entity:%s", id)
	if err := f.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete entity from cache: %w", err)
	}
	return nil
}

// applyEvent folds one change event into the projection. A deletion clears
// the projection; other events shallow-merge their payload.
func applyEvent(entity map[string]any, event model.Event) map[string]any {
	if event.Type == model.EventDeleted {
		return map[string]any{}
	}
	merged := make(map[string]any, len(entity)+len(event.Payload))
	for k, v := range entity {
		merged[k] = v
	}
	for k, v := range event.Payload {
		merged[k] = v
	}
	return merged
}

func firstRevision(events []model.Event) int64 {
	first := int64(0)
	for _, e := range events {
		if first == 0 || e.Revision < first {
			first = e.Revision
		}
	}
	return first
}

func entityRevision(entity map[string]any) int64 {
	switch rev := entity["revision"].(type) {
	case int64:
		return rev
	case float64:
		return int64(rev)
	default:
		return 0
	}
}
