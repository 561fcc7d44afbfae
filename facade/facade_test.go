package facade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ditto_errors "github.com/neottil/ditto/errors"
	"github.com/neottil/ditto/model"
)

type retrieverFunc func(ctx context.Context, id model.EntityID) (map[string]any, error)

func (f retrieverFunc) RetrieveEntity(ctx context.Context, id model.EntityID) (map[string]any, error) {
	return f(ctx, id)
}

func TestRefetchErrorKinds(t *testing.T) {
	t.Run("DeadlineBecomesAskTimeout", func(t *testing.T) {
		f := NewCachingFacade(nil, retrieverFunc(func(context.Context, model.EntityID) (map[string]any, error) {
			return nil, fmt.Errorf("ask failed: %w", context.DeadlineExceeded)
		}), time.Minute)
		_, err := f.Retrieve(context.Background(), "org.example:sensor-1", nil, -1)
		assert.ErrorIs(t, err, ditto_errors.ErrAskTimeout)
	})

	t.Run("OtherFailuresBecomeEntityUnavailable", func(t *testing.T) {
		f := NewCachingFacade(nil, retrieverFunc(func(context.Context, model.EntityID) (map[string]any, error) {
			return nil, errors.New("store gone")
		}), time.Minute)
		_, err := f.Retrieve(context.Background(), "org.example:sensor-1", nil, -1)
		assert.ErrorIs(t, err, ditto_errors.ErrEntityUnavailable)
		assert.NotErrorIs(t, err, ditto_errors.ErrAskTimeout)
	})
}

func TestApplyEvent(t *testing.T) {
	base := map[string]any{
		"entityId":   "org.example:sensor-1",
		"attributes": map[string]any{"location": "basement"},
	}

	t.Run("ModificationShallowMerges", func(t *testing.T) {
		merged := applyEvent(base, model.Event{
			Type:    model.EventModified,
			Payload: map[string]any{"attributes": map[string]any{"location": "attic"}},
		})
		assert.Equal(t, map[string]any{"location": "attic"}, merged["attributes"])
		assert.Equal(t, "org.example:sensor-1", merged["entityId"])
		// the base projection is never mutated in place
		assert.Equal(t, map[string]any{"location": "basement"}, base["attributes"])
	})

	t.Run("DeletionClearsProjection", func(t *testing.T) {
		cleared := applyEvent(base, model.Event{Type: model.EventDeleted})
		assert.Empty(t, cleared)
	})
}

func TestFirstRevision(t *testing.T) {
	assert.Equal(t, int64(0), firstRevision(nil))
	events := []model.Event{
		{Revision: 9, Timestamp: time.Now()},
		{Revision: 7, Timestamp: time.Now()},
		{Revision: 8, Timestamp: time.Now()},
	}
	assert.Equal(t, int64(7), firstRevision(events))
}

func TestEntityRevision(t *testing.T) {
	assert.Equal(t, int64(5), entityRevision(map[string]any{"revision": int64(5)}))
	// JSON decoding yields float64 numbers
	assert.Equal(t, int64(5), entityRevision(map[string]any{"revision": float64(5)}))
	assert.Equal(t, int64(0), entityRevision(map[string]any{}))
	assert.Equal(t, int64(0), entityRevision(map[string]any{"revision": "5"}))
}
