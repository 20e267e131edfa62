// Package postgres implements the PostgreSQL persistence layer for the
// laser-tag rating hub.
package postgres

import (
	"context"
	"fmt"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
)

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATS REPOSITORY IMPLEMENTATION
// Mostly a read-only view over the portal's participation rows. The single
// write the rating engine performs here is linking a user to an unlinked row.
// ══════════════════════════════════════════════════════════════════════════════

// GameStatsRepository implements rating.GameStatsSource for PostgreSQL.
type GameStatsRepository struct {
	conn *Connection
}

// NewGameStatsRepository creates a new GameStatsRepository.
func NewGameStatsRepository(conn *Connection) *GameStatsRepository {
	return &GameStatsRepository{conn: conn}
}

// UngradedGames returns the user's rankable games with no ledger entry yet,
// ordered by game date.
func (r *GameStatsRepository) UngradedGames(ctx context.Context, userID int64) ([]rating.Game, error) {
	// DISTINCT ON требует сортировку по game_code, поэтому хронологию
	// даёт внешний запрос.
	rows, err := r.conn.Query(ctx, `
		SELECT game_code, game_system, game_id, played_at, rankable
		FROM (
			SELECT DISTINCT ON (gp.game_code)
				gp.game_code, gp.game_system, gp.game_id, gp.played_at, gp.rankable
			FROM game_participations gp
			WHERE gp.user_id = $1
				AND gp.rankable
				AND NOT EXISTS (
					SELECT 1 FROM rating_ledger rl
					WHERE rl.game_code = gp.game_code AND rl.user_id = $1
				)
			ORDER BY gp.game_code, gp.played_at
		) g
		ORDER BY played_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ungraded games: %w", err)
	}
	defer rows.Close()

	var games []rating.Game
	for rows.Next() {
		var g rating.Game
		if err := rows.Scan(&g.Code, &g.System, &g.GameID, &g.PlayedAt, &g.Rankable); err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, g)
	}

	return games, rows.Err()
}

// Participations returns all participation rows of a game.
func (r *GameStatsRepository) Participations(ctx context.Context, gameCode string) ([]rating.Participation, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT game_code, user_id, team_id, skill, played_at
		FROM game_participations
		WHERE game_code = $1
		ORDER BY team_id, skill DESC
	`, gameCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query participations: %w", err)
	}
	defer rows.Close()

	var parts []rating.Participation
	for rows.Next() {
		var p rating.Participation
		if err := rows.Scan(&p.GameCode, &p.UserID, &p.TeamID, &p.Skill, &p.PlayedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		parts = append(parts, p)
	}

	return parts, rows.Err()
}

// UsersWithUngradedGames returns ids of users who have at least one rankable
// game missing from the ledger. Feeds the background grading sweep.
func (r *GameStatsRepository) UsersWithUngradedGames(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT gp.user_id
		FROM game_participations gp
		WHERE gp.user_id IS NOT NULL
			AND gp.rankable
			AND NOT EXISTS (
				SELECT 1 FROM rating_ledger rl
				WHERE rl.game_code = gp.game_code AND rl.user_id = gp.user_id
			)
		ORDER BY gp.user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query users with ungraded games: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	return userIDs, rows.Err()
}

// LinkParticipation attaches a registered user to an unlinked participation
// row. Returns the affected row count so callers can detect a missed link.
// Implements command.ParticipationLinker.
func (r *GameStatsRepository) LinkParticipation(ctx context.Context, gameCode string, participationID, userID int64) (int, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE game_participations
		SET user_id = $3
		WHERE id = $2 AND game_code = $1 AND user_id IS NULL
	`, gameCode, participationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to link participation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ensure interfaces are implemented
var _ rating.GameStatsSource = (*GameStatsRepository)(nil)
