// Package postgres implements the PostgreSQL persistence layer for the
// laser-tag rating hub.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATE RANK SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRepository implements standings.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// Replace atomically replaces all snapshot rows for the snapshot's date.
// Delete and batch insert run in one transaction, so concurrent readers
// see either the old day or the new day, never a mix.
func (r *SnapshotRepository) Replace(ctx context.Context, snapshot *standings.Snapshot) error {
	day := timeutil.StartOfDay(snapshot.Date)

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM date_rank_snapshots WHERE snapshot_date = $1
		`, day); err != nil {
			return fmt.Errorf("failed to delete snapshot rows: %w", err)
		}

		if len(snapshot.Entries) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, entry := range snapshot.Entries {
			batch.Queue(`
				INSERT INTO date_rank_snapshots
					(snapshot_date, user_id, rank, position, position_text)
				VALUES ($1, $2, $3, $4, $5)
			`,
				day,
				entry.UserID,
				entry.Rank,
				entry.Position,
				entry.PositionText,
			)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range snapshot.Entries {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to insert snapshot row: %w", err)
			}
		}

		return nil
	})
}

// GetByDate returns the snapshot for a date. A day with no rows is treated
// as never built and reported as shared.ErrNotFound; rebuilding an empty
// day is cheap and idempotent.
func (r *SnapshotRepository) GetByDate(ctx context.Context, date time.Time) (*standings.Snapshot, error) {
	day := timeutil.StartOfDay(date)

	rows, err := r.conn.Query(ctx, `
		SELECT user_id, rank, position, position_text
		FROM date_rank_snapshots
		WHERE snapshot_date = $1
		ORDER BY position ASC, user_id ASC
	`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var entries []standings.Entry
	for rows.Next() {
		var e standings.Entry
		if err := rows.Scan(&e.UserID, &e.Rank, &e.Position, &e.PositionText); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(entries) == 0 {
		return nil, shared.ErrNotFound
	}

	return &standings.Snapshot{Date: day, Entries: entries}, nil
}

// GetEntry returns one player's snapshot row for a date.
func (r *SnapshotRepository) GetEntry(ctx context.Context, userID int64, date time.Time) (*standings.Entry, error) {
	day := timeutil.StartOfDay(date)

	var e standings.Entry
	err := r.conn.QueryRow(ctx, `
		SELECT user_id, rank, position, position_text
		FROM date_rank_snapshots
		WHERE snapshot_date = $1 AND user_id = $2
	`, day, userID).Scan(&e.UserID, &e.Rank, &e.Position, &e.PositionText)

	if IsNoRows(err) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot entry: %w", err)
	}

	return &e, nil
}

// EntriesForUserBetween returns a player's snapshot rows for a period,
// ordered by date ascending.
func (r *SnapshotRepository) EntriesForUserBetween(ctx context.Context, userID int64, from, to time.Time) ([]standings.DatedEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT snapshot_date, user_id, rank, position, position_text
		FROM date_rank_snapshots
		WHERE user_id = $1 AND snapshot_date >= $2 AND snapshot_date <= $3
		ORDER BY snapshot_date ASC
	`, userID, timeutil.StartOfDay(from), timeutil.StartOfDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var entries []standings.DatedEntry
	for rows.Next() {
		var de standings.DatedEntry
		if err := rows.Scan(&de.Date, &de.UserID, &de.Rank, &de.Position, &de.PositionText); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot history row: %w", err)
		}
		entries = append(entries, de)
	}

	return entries, rows.Err()
}

// Ensure interfaces are implemented
var _ standings.SnapshotRepository = (*SnapshotRepository)(nil)
