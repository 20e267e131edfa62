// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the rating core.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/lock"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE RATING COMMAND
// Гарантирует ровно одну запись журнала на каждую оценённую игру игрока:
// находит неоценённые рейтинговые игры, считает дельты в хронологическом
// порядке и суммирует журнал в актуальный ранг.
// ══════════════════════════════════════════════════════════════════════════════

// RecalculateRatingCommand contains the data needed to recalculate a player's rating.
type RecalculateRatingCommand struct {
	// UserID is the player whose rating should be recalculated.
	UserID int64

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RecalculateRatingCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// RecalculateRatingResult contains the result of a recalculation.
type RecalculateRatingResult struct {
	// UserID is the recalculated player.
	UserID int64

	// GamesGraded is how many new ledger entries were written.
	GamesGraded int

	// GradedGameCodes lists the games graded during this run, in order.
	GradedGameCodes []string

	// CurrentRank is the authoritative rank after the run: the ledger sum,
	// not the running value carried between games.
	CurrentRank float64

	// CompletedAt is when the recalculation finished.
	CompletedAt time.Time
}

// UserLocker serializes recalculations per user within this process.
// The repository additionally takes a database advisory lock, which covers
// multi-instance deployments.
type UserLocker interface {
	WithLockContext(ctx context.Context, userID int64, timeout time.Duration, fn func() error) error
}

// RecalculateRatingHandler handles RecalculateRatingCommand.
type RecalculateRatingHandler struct {
	games       rating.GameStatsSource
	ledger      rating.LedgerRepository
	locks       UserLocker
	cache       rating.Cache
	events      shared.EventPublisher
	log         *logger.Logger
	lockTimeout time.Duration
}

// NewRecalculateRatingHandler creates a new RecalculateRatingHandler.
// cache and events may be nil; invalidation and publishing are then skipped.
func NewRecalculateRatingHandler(
	games rating.GameStatsSource,
	ledger rating.LedgerRepository,
	locks UserLocker,
	cache rating.Cache,
	events shared.EventPublisher,
	log *logger.Logger,
	lockTimeout time.Duration,
) *RecalculateRatingHandler {
	if log == nil {
		log = logger.Default()
	}
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	return &RecalculateRatingHandler{
		games:       games,
		ledger:      ledger,
		locks:       locks,
		cache:       cache,
		events:      events,
		log:         log,
		lockTimeout: lockTimeout,
	}
}

// Handle recalculates the rating for one user.
//
// Повторный вызов без новых игр - no-op: журнал не меняется. Падение
// посреди пачки оставляет уже записанные дельты на месте; следующий
// запуск пропустит их и продолжит с места обрыва.
func (h *RecalculateRatingHandler) Handle(ctx context.Context, cmd RecalculateRatingCommand) (*RecalculateRatingResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result := &RecalculateRatingResult{UserID: cmd.UserID}

	err := h.locks.WithLockContext(ctx, cmd.UserID, h.lockTimeout, func() error {
		return h.recalculate(ctx, cmd.UserID, result)
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, shared.ErrRecalcInProgress
		}
		return nil, err
	}

	currentRank, err := h.ledger.CurrentRank(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("recalculate_rating: ledger sum: %w", err)
	}
	result.CurrentRank = currentRank
	result.CompletedAt = time.Now()

	if result.GamesGraded > 0 {
		if h.cache != nil {
			if err := h.cache.InvalidateUser(ctx, cmd.UserID); err != nil {
				h.log.Warn("failed to invalidate rating cache",
					logger.UserID(cmd.UserID), logger.Err(err))
			}
		}
		if h.events != nil {
			event := shared.NewRatingRecomputedEvent(cmd.UserID, result.GamesGraded, currentRank)
			event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
			_ = h.events.Publish(event)
		}
	}

	h.log.Debug("rating recalculated",
		logger.UserID(cmd.UserID),
		logger.Int("games_graded", result.GamesGraded),
		logger.RankValue(currentRank),
	)

	return result, nil
}

// recalculate grades all ungraded games inside the per-user exclusive scope.
func (h *RecalculateRatingHandler) recalculate(ctx context.Context, userID int64, result *RecalculateRatingResult) error {
	return h.ledger.WithUserScope(ctx, userID, func(ctx context.Context, scope rating.LedgerScope) error {
		// Список неоценённых игр читается только под эксклюзивной областью:
		// портал и Worker - разные процессы, и пока мы ждали advisory-блокировку,
		// конкурент мог оценить те же игры. Его записи уже закоммичены и
		// отфильтруют их здесь.
		games, err := h.games.UngradedGames(ctx, userID)
		if err != nil {
			return fmt.Errorf("recalculate_rating: list ungraded games: %w", err)
		}
		if len(games) == 0 {
			return nil
		}

		// Хронология обязательна: игра не должна считаться с рангом соперника,
		// отражающим более позднюю дату. Сортируем сами, не полагаясь на источник.
		sort.Slice(games, func(i, j int) bool {
			return games[i].PlayedAt.Before(games[j].PlayedAt)
		})

		calc, err := rating.NewCalculator(scope)
		if err != nil {
			return err
		}

		for _, game := range games {
			// Ранг самого игрока берётся на момент игры, как и ранги
			// соперников: при поздней привязке исторической игры записи
			// с более поздней датой в её оценку не входят.
			rankAt, err := scope.RankAsOf(ctx, userID, game.PlayedAt)
			if err != nil {
				return fmt.Errorf("recalculate_rating: rank as of for user %d: %w", userID, err)
			}

			input, ok, err := h.buildGradeInput(ctx, scope, userID, game, rankAt)
			if err != nil {
				return err
			}
			if !ok {
				// Игрок не найден среди участников: запись участия ещё
				// не привязана. Игру пропускаем, журнал не трогаем.
				h.log.Warn("subject missing from game participations",
					logger.UserID(userID), logger.GameCode(game.Code))
				continue
			}

			res, err := calc.Grade(ctx, input)
			if err != nil {
				// Ошибка записи фатальна: молча пропущенная игра навсегда
				// выпала бы из журнала. Прерываем пачку целиком.
				return fmt.Errorf("recalculate_rating: grade game %s: %w", game.Code, err)
			}

			result.GamesGraded++
			result.GradedGameCodes = append(result.GradedGameCodes, game.Code)

			if h.events != nil {
				_ = h.events.Publish(shared.NewGameGradedEvent(userID, game.Code, res.Delta, res.NewRank))
			}
		}

		return nil
	})
}

// buildGradeInput assembles the comparison sets for one game from its
// participation rows. Teammate/opponent ranks are resolved as of strictly
// before the game date; unregistered players fall back to skill proxies.
func (h *RecalculateRatingHandler) buildGradeInput(
	ctx context.Context,
	scope rating.LedgerScope,
	userID int64,
	game rating.Game,
	rankAt float64,
) (rating.GradeInput, bool, error) {
	parts, err := h.games.Participations(ctx, game.Code)
	if err != nil {
		return rating.GradeInput{}, false, fmt.Errorf("recalculate_rating: participations for %s: %w", game.Code, err)
	}

	var subject *rating.Participation
	minSkill, maxSkill := 0, 0
	for i := range parts {
		p := &parts[i]
		if i == 0 || p.Skill < minSkill {
			minSkill = p.Skill
		}
		if i == 0 || p.Skill > maxSkill {
			maxSkill = p.Skill
		}
		if p.UserID != nil && *p.UserID == userID {
			subject = p
		}
	}
	if subject == nil {
		return rating.GradeInput{}, false, nil
	}

	input := rating.GradeInput{
		UserID:      userID,
		Skill:       subject.Skill,
		MinSkill:    minSkill,
		MaxSkill:    maxSkill,
		CurrentRank: rankAt,
		GameCode:    game.Code,
		PlayedAt:    game.PlayedAt,
	}

	for _, p := range parts {
		if p.UserID != nil && *p.UserID == userID {
			continue
		}

		var participant rating.Participant
		if p.UserID != nil {
			rank, err := scope.RankAsOf(ctx, *p.UserID, game.PlayedAt)
			if err != nil {
				return rating.GradeInput{}, false, fmt.Errorf("recalculate_rating: rank as of for user %d: %w", *p.UserID, err)
			}
			participant = rating.RegisteredParticipant(*p.UserID, p.Skill, rank, p.TeamID)
		} else {
			participant = rating.ProxyParticipant(p.Skill, p.TeamID)
		}

		if p.TeamID == subject.TeamID {
			input.Teammates = append(input.Teammates, participant)
		} else {
			input.Opponents = append(input.Opponents, participant)
		}
	}

	return input, true, nil
}
