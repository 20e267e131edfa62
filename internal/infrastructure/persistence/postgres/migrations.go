// Package postgres implements the PostgreSQL persistence layer for the
// laser-tag rating hub.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE GAME PARTICIPATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create game participations table
-- Version: 001
-- One row per player per game, denormalized with game metadata.
-- user_id is NULL until the portal links the row to a registered user.

CREATE TABLE IF NOT EXISTS game_participations (
    id BIGSERIAL PRIMARY KEY,
    game_code VARCHAR(64) NOT NULL,
    game_system VARCHAR(30) NOT NULL DEFAULT 'laserwar',
    game_id BIGINT NOT NULL DEFAULT 0,
    user_id BIGINT,
    team_id INTEGER NOT NULL DEFAULT 0,
    skill INTEGER NOT NULL DEFAULT 0,
    played_at TIMESTAMP WITH TIME ZONE NOT NULL,
    rankable BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- A registered user appears at most once per game
    CONSTRAINT uq_participation_game_user UNIQUE (game_code, user_id)
);

CREATE INDEX IF NOT EXISTS idx_participations_game_code ON game_participations(game_code);
CREATE INDEX IF NOT EXISTS idx_participations_user_id ON game_participations(user_id) WHERE user_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_participations_played_at ON game_participations(played_at);
CREATE INDEX IF NOT EXISTS idx_participations_user_played ON game_participations(user_id, played_at) WHERE user_id IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS game_participations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE RATING LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create rating ledger table
-- Version: 002
-- Append-mostly ledger of rating deltas. A player's rank is always
-- 100 + SUM(difference); at most one row per (game_code, user_id).

CREATE TABLE IF NOT EXISTS rating_ledger (
    id BIGSERIAL PRIMARY KEY,
    game_code VARCHAR(64) NOT NULL,
    user_id BIGINT NOT NULL,
    difference DOUBLE PRECISION NOT NULL DEFAULT 0,
    played_at TIMESTAMP WITH TIME ZONE NOT NULL,
    normalized_skill DOUBLE PRECISION NOT NULL DEFAULT 0,
    min_skill DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_skill DOUBLE PRECISION NOT NULL DEFAULT 0,
    diagnostic JSONB,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_ledger_game_user UNIQUE (game_code, user_id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_user_id ON rating_ledger(user_id);
CREATE INDEX IF NOT EXISTS idx_ledger_user_played ON rating_ledger(user_id, played_at);
CREATE INDEX IF NOT EXISTS idx_ledger_played_at ON rating_ledger(played_at);
`

const migration002Down = `
DROP TABLE IF EXISTS rating_ledger;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE DATE RANK SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create date rank snapshots table
-- Version: 003
-- Materialized daily standings. Rebuilt atomically (delete + insert in
-- one transaction), so readers never see a partial day.

CREATE TABLE IF NOT EXISTS date_rank_snapshots (
    snapshot_date DATE NOT NULL,
    user_id BIGINT NOT NULL,
    rank INTEGER NOT NULL,
    position INTEGER NOT NULL,
    position_text VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (snapshot_date, user_id)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_date_position ON date_rank_snapshots(snapshot_date, position);
CREATE INDEX IF NOT EXISTS idx_snapshots_user_date ON date_rank_snapshots(user_id, snapshot_date DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS date_rank_snapshots;
`

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_game_participations",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_rating_ledger",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_date_rank_snapshots",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
