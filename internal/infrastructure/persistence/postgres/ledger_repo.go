// Package postgres implements the PostgreSQL persistence layer for the
// laser-tag rating hub.
package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATING LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Advisory lock namespace for per-user ledger scopes. Keeps our locks from
// colliding with other advisory lock users on the same database.
const ledgerLockNamespace = 0x4C54 // "LT"

// LedgerRepository implements rating.LedgerRepository for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// WRITE PATH
// ─────────────────────────────────────────────────────────────────────────────

// Upsert inserts or replaces the ledger entry for (game_code, user_id).
func (r *LedgerRepository) Upsert(ctx context.Context, entry rating.LedgerEntry) error {
	return upsertEntry(ctx, r.conn, entry)
}

func upsertEntry(ctx context.Context, q Querier, entry rating.LedgerEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO rating_ledger
			(game_code, user_id, difference, played_at, normalized_skill, min_skill, max_skill, diagnostic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (game_code, user_id) DO UPDATE SET
			difference = EXCLUDED.difference,
			played_at = EXCLUDED.played_at,
			normalized_skill = EXCLUDED.normalized_skill,
			min_skill = EXCLUDED.min_skill,
			max_skill = EXCLUDED.max_skill,
			diagnostic = EXCLUDED.diagnostic
	`,
		entry.GameCode,
		entry.UserID,
		entry.Difference,
		entry.PlayedAt,
		entry.NormalizedSkill,
		entry.MinSkill,
		entry.MaxSkill,
		entry.Diagnostic,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RANK FOLDS
// ─────────────────────────────────────────────────────────────────────────────

// CurrentRank returns BaseRank plus the sum of all the user's deltas.
func (r *LedgerRepository) CurrentRank(ctx context.Context, userID int64) (float64, error) {
	return currentRank(ctx, r.conn, userID)
}

func currentRank(ctx context.Context, q Querier, userID int64) (float64, error) {
	var rank float64
	err := q.QueryRow(ctx, `
		SELECT $2::double precision + COALESCE(SUM(difference), 0)
		FROM rating_ledger
		WHERE user_id = $1
	`, userID, rating.BaseRank).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("failed to fold current rank: %w", err)
	}
	return rank, nil
}

// RankAsOf returns the user's rank folded over entries strictly before the
// given moment. Entries dated at or after it are invisible.
func (r *LedgerRepository) RankAsOf(ctx context.Context, userID int64, before time.Time) (float64, error) {
	return rankAsOf(ctx, r.conn, userID, before)
}

func rankAsOf(ctx context.Context, q Querier, userID int64, before time.Time) (float64, error) {
	var rank float64
	err := q.QueryRow(ctx, `
		SELECT $3::double precision + COALESCE(SUM(difference), 0)
		FROM rating_ledger
		WHERE user_id = $1 AND played_at < $2
	`, userID, before, rating.BaseRank).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("failed to fold rank as of %s: %w", before.Format(time.RFC3339), err)
	}
	return rank, nil
}

// RanksThrough folds the whole ledger: BaseRank plus the sum of deltas dated
// at or before the cutoff, for every player with at least one entry.
func (r *LedgerRepository) RanksThrough(ctx context.Context, through time.Time) ([]rating.PlayerRank, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, $2::double precision + SUM(difference)
		FROM rating_ledger
		WHERE played_at <= $1
		GROUP BY user_id
	`, through, rating.BaseRank)
	if err != nil {
		return nil, fmt.Errorf("failed to fold ranks through: %w", err)
	}
	defer rows.Close()

	var ranks []rating.PlayerRank
	for rows.Next() {
		var pr rating.PlayerRank
		if err := rows.Scan(&pr.UserID, &pr.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan player rank: %w", err)
		}
		ranks = append(ranks, pr)
	}

	return ranks, rows.Err()
}

// EntriesForUser returns the user's ledger entries ordered by game date.
func (r *LedgerRepository) EntriesForUser(ctx context.Context, userID int64) ([]rating.LedgerEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT game_code, user_id, difference, played_at, normalized_skill, min_skill, max_skill, diagnostic
		FROM rating_ledger
		WHERE user_id = $1
		ORDER BY played_at ASC, game_code ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []rating.LedgerEntry
	for rows.Next() {
		var e rating.LedgerEntry
		err := rows.Scan(
			&e.GameCode,
			&e.UserID,
			&e.Difference,
			&e.PlayedAt,
			&e.NormalizedSkill,
			&e.MinSkill,
			&e.MaxSkill,
			&e.Diagnostic,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// EXCLUSIVE USER SCOPE
// ─────────────────────────────────────────────────────────────────────────────

// WithUserScope runs fn inside one transaction holding a per-user advisory
// lock. The lock is transaction-scoped: pg_advisory_xact_lock releases on
// commit or rollback, so a crash cannot leave the user locked.
func (r *LedgerRepository) WithUserScope(ctx context.Context, userID int64, fn func(ctx context.Context, scope rating.LedgerScope) error) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)",
			ledgerLockNamespace, advisoryLockKey(userID)); err != nil {
			return fmt.Errorf("failed to acquire user advisory lock: %w", err)
		}
		return fn(ctx, &ledgerScope{q: tx})
	})
}

// advisoryLockKey folds a user id into the int4 key space of the two-key
// advisory lock form. Collisions only cost extra serialization, never
// correctness.
func advisoryLockKey(userID int64) int32 {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int32(h.Sum32())
}

// ledgerScope is the transaction-bound view handed to WithUserScope callbacks.
type ledgerScope struct {
	q Querier
}

func (s *ledgerScope) Upsert(ctx context.Context, entry rating.LedgerEntry) error {
	return upsertEntry(ctx, s.q, entry)
}

func (s *ledgerScope) CurrentRank(ctx context.Context, userID int64) (float64, error) {
	return currentRank(ctx, s.q, userID)
}

func (s *ledgerScope) RankAsOf(ctx context.Context, userID int64, before time.Time) (float64, error) {
	return rankAsOf(ctx, s.q, userID, before)
}

// Ensure interfaces are implemented
var (
	_ rating.LedgerRepository = (*LedgerRepository)(nil)
	_ rating.LedgerScope      = (*ledgerScope)(nil)
)
