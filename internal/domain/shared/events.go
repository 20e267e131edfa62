package shared

import (
	"context"
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the cache-invalidation contract.
// Each event represents something significant that happened in the rating core.
const (
	// Rating events
	EventGameGraded       EventType = "rating.game_graded"
	EventRatingRecomputed EventType = "rating.recomputed"

	// Standings events
	EventRankChanged      EventType = "standings.rank_changed"
	EventSnapshotRebuilt  EventType = "standings.snapshot_rebuilt"

	// System events
	EventGradeSweepDone EventType = "system.grade_sweep_done"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers for domain events.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Rating Events
// ═══════════════════════════════════════════════════════════════════════════

// GameGradedEvent is emitted when a game receives a ledger entry for a user.
type GameGradedEvent struct {
	BaseEvent
	UserID   int64   `json:"user_id"`
	GameCode string  `json:"game_code"`
	Delta    float64 `json:"delta"`
	NewRank  float64 `json:"new_rank"`
}

// Payload implements Event interface.
func (e GameGradedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"game_code": e.GameCode,
		"delta":     e.Delta,
		"new_rank":  e.NewRank,
	}
}

// NewGameGradedEvent creates a new GameGradedEvent.
func NewGameGradedEvent(userID int64, gameCode string, delta, newRank float64) GameGradedEvent {
	return GameGradedEvent{
		BaseEvent: NewBaseEvent(EventGameGraded, strconv.FormatInt(userID, 10)),
		UserID:    userID,
		GameCode:  gameCode,
		Delta:     delta,
		NewRank:   newRank,
	}
}

// RatingRecomputedEvent is emitted when a full recalculation for a user completes.
type RatingRecomputedEvent struct {
	BaseEvent
	UserID      int64   `json:"user_id"`
	GamesGraded int     `json:"games_graded"`
	CurrentRank float64 `json:"current_rank"`
}

// Payload implements Event interface.
func (e RatingRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"games_graded": e.GamesGraded,
		"current_rank": e.CurrentRank,
	}
}

// NewRatingRecomputedEvent creates a new RatingRecomputedEvent.
func NewRatingRecomputedEvent(userID int64, gamesGraded int, currentRank float64) RatingRecomputedEvent {
	return RatingRecomputedEvent{
		BaseEvent:   NewBaseEvent(EventRatingRecomputed, strconv.FormatInt(userID, 10)),
		UserID:      userID,
		GamesGraded: gamesGraded,
		CurrentRank: currentRank,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Standings Events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted when a user's ordinal position changes between
// two consecutive date snapshots.
type RankChangedEvent struct {
	BaseEvent
	UserID      int64  `json:"user_id"`
	OldPosition int    `json:"old_position"`
	NewPosition int    `json:"new_position"`
	Date        string `json:"date"`
}

// Payload implements Event interface.
func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"old_position": e.OldPosition,
		"new_position": e.NewPosition,
		"date":         e.Date,
	}
}

// NewRankChangedEvent creates a new RankChangedEvent.
func NewRankChangedEvent(userID int64, oldPosition, newPosition int, date string) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent:   NewBaseEvent(EventRankChanged, strconv.FormatInt(userID, 10)),
		UserID:      userID,
		OldPosition: oldPosition,
		NewPosition: newPosition,
		Date:        date,
	}
}

// SnapshotRebuiltEvent is emitted when the standings snapshot for a date is
// replaced. Downstream caches tagged by that date must be invalidated.
type SnapshotRebuiltEvent struct {
	BaseEvent
	Date      string `json:"date"`
	Players   int    `json:"players"`
	RebuildID string `json:"rebuild_id"`
}

// Payload implements Event interface.
func (e SnapshotRebuiltEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"date":       e.Date,
		"players":    e.Players,
		"rebuild_id": e.RebuildID,
	}
}

// NewSnapshotRebuiltEvent creates a new SnapshotRebuiltEvent.
func NewSnapshotRebuiltEvent(date string, players int, rebuildID string) SnapshotRebuiltEvent {
	return SnapshotRebuiltEvent{
		BaseEvent: NewBaseEvent(EventSnapshotRebuilt, date),
		Date:      date,
		Players:   players,
		RebuildID: rebuildID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// GradeSweepDoneEvent is emitted when a grading sweep over users with
// ungraded games completes.
type GradeSweepDoneEvent struct {
	BaseEvent
	UsersProcessed int `json:"users_processed"`
	GamesGraded    int `json:"games_graded"`
	UsersSkipped   int `json:"users_skipped"`
	UsersFailed    int `json:"users_failed"`
}

// Payload implements Event interface.
func (e GradeSweepDoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"users_processed": e.UsersProcessed,
		"games_graded":    e.GamesGraded,
		"users_skipped":   e.UsersSkipped,
		"users_failed":    e.UsersFailed,
	}
}

// NewGradeSweepDoneEvent creates a new GradeSweepDoneEvent.
func NewGradeSweepDoneEvent(usersProcessed, gamesGraded, usersSkipped, usersFailed int) GradeSweepDoneEvent {
	return GradeSweepDoneEvent{
		BaseEvent:      NewBaseEvent(EventGradeSweepDone, "grade_sweep"),
		UsersProcessed: usersProcessed,
		GamesGraded:    gamesGraded,
		UsersSkipped:   usersSkipped,
		UsersFailed:    usersFailed,
	}
}
