// Package eventhandler contains subscribers that react to domain events.
// The rating core's cache-invalidation contract lives here: any write to
// the ledger invalidates keys tagged by user, any snapshot replace
// invalidates keys tagged by date.
package eventhandler

import (
	"context"
	"fmt"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// CacheInvalidator drops stale cache entries when the rating core mutates state.
type CacheInvalidator struct {
	cache standings.SnapshotCache
	log   *logger.Logger
}

// NewCacheInvalidator creates a new CacheInvalidator.
func NewCacheInvalidator(cache standings.SnapshotCache, log *logger.Logger) *CacheInvalidator {
	if log == nil {
		log = logger.Default()
	}
	return &CacheInvalidator{cache: cache, log: log}
}

// Register subscribes the invalidator to the events it cares about.
func (h *CacheInvalidator) Register(bus shared.EventSubscriber) error {
	for _, eventType := range []shared.EventType{
		shared.EventGameGraded,
		shared.EventRatingRecomputed,
		shared.EventSnapshotRebuilt,
	} {
		if err := bus.Subscribe(eventType, h.Handle); err != nil {
			return fmt.Errorf("cache invalidator: subscribe %s: %w", eventType, err)
		}
	}
	return nil
}

// Handle processes a single event.
func (h *CacheInvalidator) Handle(ctx context.Context, event shared.Event) error {
	switch e := event.(type) {
	case shared.GameGradedEvent:
		return h.invalidateUser(ctx, e.UserID)
	case shared.RatingRecomputedEvent:
		return h.invalidateUser(ctx, e.UserID)
	case shared.SnapshotRebuiltEvent:
		date, err := timeutil.ParseDateKey(e.Date)
		if err != nil {
			return err
		}
		if err := h.cache.InvalidateDate(ctx, date); err != nil {
			h.log.Warn("failed to invalidate date cache",
				logger.SnapshotDate(e.Date), logger.Err(err))
			return err
		}
		return nil
	default:
		return nil
	}
}

func (h *CacheInvalidator) invalidateUser(ctx context.Context, userID int64) error {
	if err := h.cache.InvalidateUser(ctx, userID); err != nil {
		h.log.Warn("failed to invalidate user cache",
			logger.UserID(userID), logger.Err(err))
		return err
	}
	return nil
}
