package command

import (
	"context"
	"fmt"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LINK GAME COMMAND
// Портал определил, какая строка участия принадлежит пользователю; команда
// привязывает её и пересчитывает рейтинг. Привязка и оценка идут вместе,
// чтобы между ними не оставалось окна с непривязанной игрой.
// ══════════════════════════════════════════════════════════════════════════════

// LinkGameCommand is issued to attach a game participation row to a user
// and grade the newly visible games.
type LinkGameCommand struct {
	// UserID is the user the participation belongs to.
	UserID int64

	// GameCode is the game the participation row belongs to.
	GameCode string

	// ParticipationID is the participation row to link.
	ParticipationID int64

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c LinkGameCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if c.GameCode == "" {
		return shared.ErrInvalidGameCode
	}
	if c.ParticipationID <= 0 {
		return shared.ErrInvalidParticipation
	}
	return nil
}

// LinkGameResult contains the result of processing a link.
type LinkGameResult struct {
	UserID      int64
	GameCode    string
	GamesGraded int
	CurrentRank float64
	CompletedAt time.Time
}

// ParticipationLinker attaches an unlinked participation row to a user.
type ParticipationLinker interface {
	LinkParticipation(ctx context.Context, gameCode string, participationID, userID int64) (int, error)
}

// Recalculator triggers a rating recalculation for a user.
type Recalculator interface {
	Handle(ctx context.Context, cmd RecalculateRatingCommand) (*RecalculateRatingResult, error)
}

// LinkGameHandler handles LinkGameCommand.
type LinkGameHandler struct {
	linker ParticipationLinker
	recalc Recalculator
	log    *logger.Logger
}

// NewLinkGameHandler creates a new LinkGameHandler.
func NewLinkGameHandler(linker ParticipationLinker, recalc Recalculator, log *logger.Logger) *LinkGameHandler {
	if log == nil {
		log = logger.Default()
	}
	return &LinkGameHandler{linker: linker, recalc: recalc, log: log}
}

// Handle links the participation row and recalculates the user's rating.
// The newly linked game is picked up as an ungraded game by the
// recalculation itself.
func (h *LinkGameHandler) Handle(ctx context.Context, cmd LinkGameCommand) (*LinkGameResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	linked, err := h.linker.LinkParticipation(ctx, cmd.GameCode, cmd.ParticipationID, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("link_game: link participation %d: %w", cmd.ParticipationID, err)
	}
	if linked == 0 {
		// Строки нет либо она уже привязана; повторная привязка запрещена.
		return nil, fmt.Errorf("link_game: participation %d in game %s: %w",
			cmd.ParticipationID, cmd.GameCode, shared.ErrParticipationNotLinked)
	}

	h.log.Info("game linked to user, recalculating rating",
		logger.UserID(cmd.UserID),
		logger.GameCode(cmd.GameCode),
	)

	res, err := h.recalc.Handle(ctx, RecalculateRatingCommand{
		UserID:        cmd.UserID,
		CorrelationID: cmd.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("link_game: recalculate for user %d: %w", cmd.UserID, err)
	}

	return &LinkGameResult{
		UserID:      cmd.UserID,
		GameCode:    cmd.GameCode,
		GamesGraded: res.GamesGraded,
		CurrentRank: res.CurrentRank,
		CompletedAt: res.CompletedAt,
	}, nil
}
