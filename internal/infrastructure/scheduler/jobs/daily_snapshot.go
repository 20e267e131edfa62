// Package jobs contains implementations of scheduled jobs for the laser-tag
// rating hub.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/logger"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SNAPSHOT JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRebuilder rebuilds the standings snapshot for a date from the
// rating ledger. Satisfied by the standings query handler.
type SnapshotRebuilder interface {
	Rebuild(ctx context.Context, date time.Time) (*standings.Snapshot, error)
}

// DailySnapshotJob materializes the standings snapshot for the previous
// Moscow calendar day and compares it against the day before to detect
// position changes. Running it shortly after midnight freezes the finished
// day; any later on-demand rebuild of that day produces the same rows, so
// the job and on-demand reads never conflict.
type DailySnapshotJob struct {
	rebuilder SnapshotRebuilder
	snapshots standings.SnapshotRepository
	events    shared.EventPublisher
	log       *logger.Logger

	config DailySnapshotConfig

	lastRunStats atomic.Value // *SnapshotStats
}

// DailySnapshotConfig contains configuration for the daily snapshot job.
type DailySnapshotConfig struct {
	// NotifyRankChanges enables rank change events for players whose
	// ordinal position moved between the two latest snapshots.
	NotifyRankChanges bool

	// Timeout is the maximum duration for one run.
	Timeout time.Duration
}

// DefaultDailySnapshotConfig returns sensible defaults.
func DefaultDailySnapshotConfig() DailySnapshotConfig {
	return DailySnapshotConfig{
		NotifyRankChanges: true,
		Timeout:           5 * time.Minute,
	}
}

// SnapshotStats contains statistics from a snapshot run.
type SnapshotStats struct {
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	SnapshotDate     string
	Players          int
	PositionChanges  int
	ChangesPublished int
}

// NewDailySnapshotJob creates a new daily snapshot job.
// events may be nil; position changes are then only logged.
func NewDailySnapshotJob(
	rebuilder SnapshotRebuilder,
	snapshots standings.SnapshotRepository,
	events shared.EventPublisher,
	log *logger.Logger,
	config DailySnapshotConfig,
) *DailySnapshotJob {
	if log == nil {
		log = logger.Default()
	}

	return &DailySnapshotJob{
		rebuilder: rebuilder,
		snapshots: snapshots,
		events:    events,
		log:       log,
		config:    config,
	}
}

// Name returns the job name.
func (j *DailySnapshotJob) Name() string {
	return "daily_snapshot"
}

// Description returns a human-readable description.
func (j *DailySnapshotJob) Description() string {
	return "Materializes the standings snapshot for the previous day and detects position changes"
}

// Run executes the snapshot job.
func (j *DailySnapshotJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SnapshotStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	// The job runs after midnight, so "the finished day" is yesterday.
	day := timeutil.StartOfDay(timeutil.Now().AddDate(0, 0, -1))
	stats.SnapshotDate = timeutil.DateKey(day)

	prev, err := j.snapshots.GetByDate(ctx, day.AddDate(0, 0, -1))
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("daily_snapshot: load previous snapshot: %w", err)
		}
		prev = nil
	}

	snap, err := j.rebuilder.Rebuild(ctx, day)
	if err != nil {
		return fmt.Errorf("daily_snapshot: rebuild %s: %w", stats.SnapshotDate, err)
	}
	stats.Players = len(snap.Entries)

	changes := standings.Diff(prev, snap)
	stats.PositionChanges = len(changes)

	if j.config.NotifyRankChanges && j.events != nil {
		for _, ch := range changes {
			event := shared.NewRankChangedEvent(ch.UserID, ch.OldPosition, ch.NewPosition, stats.SnapshotDate)
			if err := j.events.Publish(event); err != nil {
				j.log.Warn("failed to publish rank change",
					logger.UserID(ch.UserID), logger.Err(err))
				continue
			}
			stats.ChangesPublished++
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.log.Info("daily snapshot job completed",
		logger.SnapshotDate(stats.SnapshotDate),
		logger.Int("players", stats.Players),
		logger.Int("position_changes", stats.PositionChanges),
		logger.Duration("duration", stats.Duration),
	)

	return nil
}

// LastRunStats returns statistics from the last run.
func (j *DailySnapshotJob) LastRunStats() *SnapshotStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SnapshotStats)
}
