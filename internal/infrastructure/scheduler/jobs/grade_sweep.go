package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/application/command"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADE SWEEP JOB
// ══════════════════════════════════════════════════════════════════════════════

// PendingUsersSource lists users who have rankable games without a ledger
// entry. Satisfied by the game stats repository.
type PendingUsersSource interface {
	UsersWithUngradedGames(ctx context.Context, limit int) ([]int64, error)
}

// Recalculator grades a user's pending games. Satisfied by the
// recalculate-rating command handler.
type Recalculator interface {
	Handle(ctx context.Context, cmd command.RecalculateRatingCommand) (*command.RecalculateRatingResult, error)
}

// GradeSweepJob periodically grades games that arrived without an explicit
// recalculation trigger, e.g. participations linked by an operator or
// imported in bulk. Recalculation is idempotent per game, so sweeping a
// user who was just graded elsewhere writes nothing.
type GradeSweepJob struct {
	source PendingUsersSource
	recalc Recalculator
	events shared.EventPublisher
	log    *logger.Logger

	config GradeSweepConfig

	lastRunStats atomic.Value // *SweepStats
}

// GradeSweepConfig contains configuration for the grade sweep job.
type GradeSweepConfig struct {
	// BatchSize caps how many users one sweep processes. Leftovers are
	// picked up by the next run.
	BatchSize int

	// Timeout is the maximum duration for one run.
	Timeout time.Duration
}

// DefaultGradeSweepConfig returns sensible defaults.
func DefaultGradeSweepConfig() GradeSweepConfig {
	return GradeSweepConfig{
		BatchSize: 200,
		Timeout:   10 * time.Minute,
	}
}

// SweepStats contains statistics from a sweep run.
type SweepStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	UsersProcessed int
	GamesGraded    int
	UsersSkipped   int
	UsersFailed    int
}

// NewGradeSweepJob creates a new grade sweep job.
// events may be nil; the sweep summary is then only logged.
func NewGradeSweepJob(
	source PendingUsersSource,
	recalc Recalculator,
	events shared.EventPublisher,
	log *logger.Logger,
	config GradeSweepConfig,
) *GradeSweepJob {
	if log == nil {
		log = logger.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}

	return &GradeSweepJob{
		source: source,
		recalc: recalc,
		events: events,
		log:    log,
		config: config,
	}
}

// Name returns the job name.
func (j *GradeSweepJob) Name() string {
	return "grade_sweep"
}

// Description returns a human-readable description.
func (j *GradeSweepJob) Description() string {
	return "Grades rankable games that have no ledger entry yet"
}

// Run executes the sweep.
func (j *GradeSweepJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SweepStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	users, err := j.source.UsersWithUngradedGames(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("grade_sweep: list pending users: %w", err)
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}

		res, err := j.recalc.Handle(ctx, command.RecalculateRatingCommand{UserID: userID})
		if err != nil {
			// Кто-то уже пересчитывает этого игрока - его игры
			// будут оценены там, пропускаем без ошибки.
			if errors.Is(err, shared.ErrRecalcInProgress) {
				stats.UsersSkipped++
				continue
			}
			stats.UsersFailed++
			j.log.Error("grade sweep failed for user",
				logger.UserID(userID), logger.Err(err))
			continue
		}

		stats.UsersProcessed++
		stats.GamesGraded += res.GamesGraded
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if j.events != nil && (stats.UsersProcessed > 0 || stats.UsersFailed > 0) {
		_ = j.events.Publish(shared.NewGradeSweepDoneEvent(
			stats.UsersProcessed, stats.GamesGraded, stats.UsersSkipped, stats.UsersFailed))
	}

	j.log.Info("grade sweep completed",
		logger.Int("users_processed", stats.UsersProcessed),
		logger.Int("games_graded", stats.GamesGraded),
		logger.Int("users_skipped", stats.UsersSkipped),
		logger.Int("users_failed", stats.UsersFailed),
		logger.Duration("duration", stats.Duration),
	)

	if stats.UsersFailed > 0 {
		return fmt.Errorf("grade sweep completed with %d failed users", stats.UsersFailed)
	}

	return nil
}

// LastRunStats returns statistics from the last run.
func (j *GradeSweepJob) LastRunStats() *SweepStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SweepStats)
}
