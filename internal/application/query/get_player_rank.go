package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PLAYER RANK QUERY
// Возвращает место игрока в срезе на дату. Если отдельной строки нет -
// откатывается на построение полного среза за день.
// ══════════════════════════════════════════════════════════════════════════════

// GetPlayerRankQuery содержит параметры запроса места игрока.
type GetPlayerRankQuery struct {
	// UserID - игрок.
	UserID int64

	// Date - любой момент нужного календарного дня.
	Date time.Time
}

// Validate проверяет корректность параметров запроса.
func (q *GetPlayerRankQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if q.Date.IsZero() {
		return shared.ErrInvalidDateKey
	}
	return nil
}

// PlayerRankDTO - место игрока на дату.
type PlayerRankDTO struct {
	// UserID - игрок.
	UserID int64 `json:"user_id"`

	// Date - ключ дня в формате "YYYY-MM-DD".
	Date string `json:"date"`

	// Rank - округлённый ранг на дату среза.
	Rank int `json:"rank"`

	// Position - порядковое место (1 = лучший).
	Position int `json:"position"`

	// PositionText - подпись места: "4." или "4-6." при делёжке.
	PositionText string `json:"position_text"`

	// CurrentRank - актуальный ранг как сумма журнала на сейчас
	// (может отличаться от ранга в срезе).
	CurrentRank float64 `json:"current_rank"`
}

// RankHistoryEntryDTO - место игрока в одном из прошлых срезов.
type RankHistoryEntryDTO struct {
	Date         string `json:"date"`
	Rank         int    `json:"rank"`
	Position     int    `json:"position"`
	PositionText string `json:"position_text"`
}

// StandingsProvider строит (или достаёт) полный срез на дату.
type StandingsProvider interface {
	StandingsFor(ctx context.Context, date time.Time) (*standings.Snapshot, error)
}

// GetPlayerRankHandler обрабатывает GetPlayerRankQuery.
type GetPlayerRankHandler struct {
	snapshots standings.SnapshotRepository
	provider  StandingsProvider
	ledger    rating.LedgerRepository
	log       *logger.Logger
}

// NewGetPlayerRankHandler создаёт обработчик.
func NewGetPlayerRankHandler(
	snapshots standings.SnapshotRepository,
	provider StandingsProvider,
	ledger rating.LedgerRepository,
	log *logger.Logger,
) *GetPlayerRankHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetPlayerRankHandler{
		snapshots: snapshots,
		provider:  provider,
		ledger:    ledger,
		log:       log,
	}
}

// Handle возвращает место игрока на дату.
func (h *GetPlayerRankHandler) Handle(ctx context.Context, q GetPlayerRankQuery) (*PlayerRankDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	day := timeutil.StartOfDay(q.Date)

	entry, err := h.snapshots.GetEntry(ctx, q.UserID, day)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("player_rank: get entry: %w", err)
		}
		// Строки нет - возможно, срез за день ещё не строился.
		snap, err := h.provider.StandingsFor(ctx, day)
		if err != nil {
			return nil, err
		}
		entry = snap.GetByUser(q.UserID)
		if entry == nil {
			return nil, shared.ErrSnapshotNotFound
		}
	}

	currentRank, err := h.ledger.CurrentRank(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("player_rank: ledger sum: %w", err)
	}

	return &PlayerRankDTO{
		UserID:       q.UserID,
		Date:         timeutil.DateKey(day),
		Rank:         entry.Rank,
		Position:     entry.Position,
		PositionText: entry.PositionText,
		CurrentRank:  currentRank,
	}, nil
}

// History возвращает места игрока в срезах за период по возрастанию даты.
// Источник данных для уведомлений "вы поднялись/опустились".
func (h *GetPlayerRankHandler) History(ctx context.Context, userID int64, from, to time.Time) ([]RankHistoryEntryDTO, error) {
	if userID <= 0 {
		return nil, shared.ErrInvalidUserID
	}

	entries, err := h.snapshots.EntriesForUserBetween(ctx, userID,
		timeutil.StartOfDay(from), timeutil.EndOfDay(to))
	if err != nil {
		return nil, fmt.Errorf("player_rank: history: %w", err)
	}

	out := make([]RankHistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, RankHistoryEntryDTO{
			Date:         timeutil.DateKey(e.Date),
			Rank:         e.Rank,
			Position:     e.Position,
			PositionText: e.PositionText,
		})
	}
	return out, nil
}
