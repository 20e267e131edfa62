// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STANDINGS QUERY
// Возвращает срез рейтинга на дату. Если срез ещё не строился -
// перестраивает его из журнала и сохраняет (материализация по требованию).
// ══════════════════════════════════════════════════════════════════════════════

// GetStandingsQuery содержит параметры запроса среза.
type GetStandingsQuery struct {
	// Date - любой момент нужного календарного дня.
	Date time.Time

	// Limit - максимум строк в ответе (0 = все).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetStandingsQuery) Validate() error {
	if q.Date.IsZero() {
		return shared.ErrInvalidDateKey
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

// StandingsDTO - срез рейтинга на дату.
type StandingsDTO struct {
	// Date - ключ дня в формате "YYYY-MM-DD".
	Date string `json:"date"`

	// TotalPlayers - сколько игроков в срезе.
	TotalPlayers int `json:"total_players"`

	// Entries - строки среза по возрастанию места.
	Entries []StandingsEntryDTO `json:"entries"`

	// Rebuilt - был ли срез перестроен этим запросом.
	Rebuilt bool `json:"rebuilt"`
}

// StandingsEntryDTO - одна строка среза.
type StandingsEntryDTO struct {
	UserID       int64  `json:"user_id"`
	Rank         int    `json:"rank"`
	Position     int    `json:"position"`
	PositionText string `json:"position_text"`
}

// GetStandingsHandler обрабатывает GetStandingsQuery.
type GetStandingsHandler struct {
	snapshots standings.SnapshotRepository
	ledger    rating.LedgerRepository
	cache     standings.SnapshotCache
	events    shared.EventPublisher
	log       *logger.Logger
	cacheTTL  time.Duration
}

// NewGetStandingsHandler создаёт обработчик.
// cache и events опциональны (nil = без кеша / без событий).
func NewGetStandingsHandler(
	snapshots standings.SnapshotRepository,
	ledger rating.LedgerRepository,
	cache standings.SnapshotCache,
	events shared.EventPublisher,
	log *logger.Logger,
	cacheTTL time.Duration,
) *GetStandingsHandler {
	if log == nil {
		log = logger.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &GetStandingsHandler{
		snapshots: snapshots,
		ledger:    ledger,
		cache:     cache,
		events:    events,
		log:       log,
		cacheTTL:  cacheTTL,
	}
}

// Handle возвращает срез на дату, при необходимости перестраивая его.
func (h *GetStandingsHandler) Handle(ctx context.Context, q GetStandingsQuery) (*StandingsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	snap, rebuilt, err := h.standingsFor(ctx, q.Date)
	if err != nil {
		return nil, err
	}

	dto := &StandingsDTO{
		Date:         timeutil.DateKey(snap.Date),
		TotalPlayers: len(snap.Entries),
		Rebuilt:      rebuilt,
	}

	entries := snap.Entries
	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}
	dto.Entries = make([]StandingsEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto.Entries = append(dto.Entries, StandingsEntryDTO{
			UserID:       e.UserID,
			Rank:         e.Rank,
			Position:     e.Position,
			PositionText: e.PositionText,
		})
	}

	return dto, nil
}

// StandingsFor возвращает доменный срез на дату (для других обработчиков
// и фоновых задач). Перестраивает и сохраняет срез, если его ещё нет.
func (h *GetStandingsHandler) StandingsFor(ctx context.Context, date time.Time) (*standings.Snapshot, error) {
	snap, _, err := h.standingsFor(ctx, date)
	return snap, err
}

// Rebuild принудительно перестраивает срез на дату из журнала,
// атомарно заменяя сохранённые строки. Используется ежедневной задачей.
func (h *GetStandingsHandler) Rebuild(ctx context.Context, date time.Time) (*standings.Snapshot, error) {
	day := timeutil.StartOfDay(date)

	ranks, err := h.ledger.RanksThrough(ctx, timeutil.EndOfDay(day))
	if err != nil {
		return nil, fmt.Errorf("standings: fold ledger through %s: %w", timeutil.DateKey(day), err)
	}

	snap := standings.Build(day, ranks)

	if err := h.snapshots.Replace(ctx, snap); err != nil {
		return nil, fmt.Errorf("standings: replace snapshot for %s: %w", timeutil.DateKey(day), err)
	}

	if h.cache != nil {
		if err := h.cache.InvalidateDate(ctx, day); err != nil {
			h.log.Warn("failed to invalidate standings cache",
				logger.SnapshotDate(timeutil.DateKey(day)), logger.Err(err))
		}
		if err := h.cache.SetSnapshot(ctx, snap, h.cacheTTL); err != nil {
			h.log.Warn("failed to cache standings snapshot",
				logger.SnapshotDate(timeutil.DateKey(day)), logger.Err(err))
		}
	}

	if h.events != nil {
		_ = h.events.Publish(shared.NewSnapshotRebuiltEvent(
			timeutil.DateKey(day), len(snap.Entries), uuid.New().String()))
	}

	h.log.Info("standings snapshot rebuilt",
		logger.SnapshotDate(timeutil.DateKey(day)),
		logger.Int("players", len(snap.Entries)),
	)

	return snap, nil
}

// standingsFor возвращает срез из кеша, из хранилища, либо перестраивает.
func (h *GetStandingsHandler) standingsFor(ctx context.Context, date time.Time) (*standings.Snapshot, bool, error) {
	day := timeutil.StartOfDay(date)

	if h.cache != nil {
		if snap, err := h.cache.GetSnapshot(ctx, day); err == nil && snap != nil {
			return snap, false, nil
		}
	}

	snap, err := h.snapshots.GetByDate(ctx, day)
	if err == nil {
		if h.cache != nil {
			if cerr := h.cache.SetSnapshot(ctx, snap, h.cacheTTL); cerr != nil {
				h.log.Warn("failed to cache standings snapshot", logger.Err(cerr))
			}
		}
		return snap, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, fmt.Errorf("standings: get snapshot for %s: %w", timeutil.DateKey(day), err)
	}

	// Среза нет - материализуем по требованию.
	snap, err = h.Rebuild(ctx, day)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}
