// Package redis implements Redis caching for the laser-tag rating hub.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// Implements standings.SnapshotCache and rating.Cache.
//
// Tagging scheme:
//   - "standings:date:{YYYY-MM-DD}" holds one serialized daily snapshot
//   - "standings:dates" is a set of currently cached date keys
//   - "player:{id}:*" holds per-player data
//
// A ledger write can shift any cached day at or after the changed game, so
// user invalidation conservatively drops every cached snapshot. Snapshots
// are cheap to refill from date_rank_snapshots; correctness over hit rate.
// ══════════════════════════════════════════════════════════════════════════════

// keyCachedDates is the tag set of snapshot date keys currently in cache.
const keyCachedDates = PrefixStandings + "dates"

// cachedEntry is the wire form of one standings row.
type cachedEntry struct {
	UserID       int64  `json:"user_id"`
	Rank         int    `json:"rank"`
	Position     int    `json:"position"`
	PositionText string `json:"position_text"`
}

// cachedSnapshot is the wire form of one daily snapshot.
type cachedSnapshot struct {
	Date    string        `json:"date"`
	Entries []cachedEntry `json:"entries"`
}

// StandingsCache caches daily standings snapshots in Redis.
type StandingsCache struct {
	cache *Cache
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache(cache *Cache) *StandingsCache {
	return &StandingsCache{cache: cache}
}

// ─────────────────────────────────────────────────────────────────────────────
// SNAPSHOT OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// GetSnapshot returns the cached snapshot for a date, or nil on a miss.
func (s *StandingsCache) GetSnapshot(ctx context.Context, date time.Time) (*standings.Snapshot, error) {
	dateKey := timeutil.DateKey(date)

	var payload cachedSnapshot
	err := s.cache.Get(ctx, StandingsKey(dateKey), &payload)
	if err != nil {
		if err == ErrCacheMiss {
			return nil, nil
		}
		return nil, err
	}

	day, err := timeutil.ParseDateKey(payload.Date)
	if err != nil {
		// Corrupt payload: drop it and report a miss.
		_ = s.cache.Delete(ctx, StandingsKey(dateKey))
		return nil, nil
	}

	entries := make([]standings.Entry, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		entries = append(entries, standings.Entry{
			UserID:       e.UserID,
			Rank:         e.Rank,
			Position:     e.Position,
			PositionText: e.PositionText,
		})
	}

	return &standings.Snapshot{Date: day, Entries: entries}, nil
}

// SetSnapshot caches a snapshot with the given TTL and tags its date key.
func (s *StandingsCache) SetSnapshot(ctx context.Context, snapshot *standings.Snapshot, ttl time.Duration) error {
	if snapshot == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		ttl = TTLStandingsCache
	}

	dateKey := timeutil.DateKey(snapshot.Date)

	payload := cachedSnapshot{
		Date:    dateKey,
		Entries: make([]cachedEntry, 0, len(snapshot.Entries)),
	}
	for _, e := range snapshot.Entries {
		payload.Entries = append(payload.Entries, cachedEntry{
			UserID:       e.UserID,
			Rank:         e.Rank,
			Position:     e.Position,
			PositionText: e.PositionText,
		})
	}

	if err := s.cache.Set(ctx, StandingsKey(dateKey), payload, ttl); err != nil {
		return fmt.Errorf("standings_cache: set snapshot: %w", err)
	}

	// Tag set lives slightly longer than the snapshots it points to; stale
	// members only cause harmless deletes of already expired keys.
	if err := s.cache.SAdd(ctx, keyCachedDates, dateKey); err != nil {
		return fmt.Errorf("standings_cache: tag date: %w", err)
	}
	return s.cache.Expire(ctx, keyCachedDates, 2*ttl)
}

// ─────────────────────────────────────────────────────────────────────────────
// INVALIDATION
// ─────────────────────────────────────────────────────────────────────────────

// InvalidateDate drops the cached snapshot for a date.
func (s *StandingsCache) InvalidateDate(ctx context.Context, date time.Time) error {
	dateKey := timeutil.DateKey(date)

	if err := s.cache.Delete(ctx, StandingsKey(dateKey)); err != nil {
		return fmt.Errorf("standings_cache: invalidate date: %w", err)
	}
	return s.cache.SRem(ctx, keyCachedDates, dateKey)
}

// InvalidateUser drops the user's per-player keys and every cached snapshot.
// A recalculation may rewrite ledger entries on past dates, so no cached
// day can be trusted afterwards.
func (s *StandingsCache) InvalidateUser(ctx context.Context, userID int64) error {
	if err := s.cache.DeleteByPattern(ctx, PlayerKey(userID)+"*"); err != nil {
		return fmt.Errorf("standings_cache: invalidate player keys: %w", err)
	}

	dates, err := s.cache.SMembers(ctx, keyCachedDates)
	if err != nil {
		return fmt.Errorf("standings_cache: list cached dates: %w", err)
	}
	if len(dates) == 0 {
		return nil
	}

	keys := make([]string, 0, len(dates)+1)
	for _, d := range dates {
		keys = append(keys, StandingsKey(d))
	}
	keys = append(keys, keyCachedDates)

	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("standings_cache: invalidate snapshots: %w", err)
	}
	return nil
}

// Ensure interfaces are implemented
var (
	_ standings.SnapshotCache = (*StandingsCache)(nil)
	_ rating.Cache            = (*StandingsCache)(nil)
)
