package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/application/command"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// FAKES
// ─────────────────────────────────────────────────────────────────────────────

type stubRebuilder struct {
	snapshot *standings.Snapshot
	err      error
	gotDate  time.Time
}

func (r *stubRebuilder) Rebuild(_ context.Context, date time.Time) (*standings.Snapshot, error) {
	r.gotDate = date
	return r.snapshot, r.err
}

type stubSnapshots struct {
	byDate map[string]*standings.Snapshot
}

func (r *stubSnapshots) Replace(context.Context, *standings.Snapshot) error { return nil }

func (r *stubSnapshots) GetByDate(_ context.Context, date time.Time) (*standings.Snapshot, error) {
	if snap, ok := r.byDate[timeutil.DateKey(date)]; ok {
		return snap, nil
	}
	return nil, shared.ErrNotFound
}

func (r *stubSnapshots) GetEntry(context.Context, int64, time.Time) (*standings.Entry, error) {
	return nil, shared.ErrNotFound
}

func (r *stubSnapshots) EntriesForUserBetween(context.Context, int64, time.Time, time.Time) ([]standings.DatedEntry, error) {
	return nil, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []shared.Event
}

func (s *eventSink) Publish(event shared.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) byType(t shared.EventType) []shared.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shared.Event
	for _, e := range s.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type stubPendingSource struct {
	users []int64
}

func (s *stubPendingSource) UsersWithUngradedGames(context.Context, int) ([]int64, error) {
	return s.users, nil
}

type stubRecalc struct {
	graded map[int64]int
	errs   map[int64]error
	calls  []int64
}

func (r *stubRecalc) Handle(_ context.Context, cmd command.RecalculateRatingCommand) (*command.RecalculateRatingResult, error) {
	r.calls = append(r.calls, cmd.UserID)
	if err, ok := r.errs[cmd.UserID]; ok {
		return nil, err
	}
	return &command.RecalculateRatingResult{
		UserID:      cmd.UserID,
		GamesGraded: r.graded[cmd.UserID],
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DAILY SNAPSHOT JOB
// ─────────────────────────────────────────────────────────────────────────────

func TestDailySnapshotJob_PublishesPositionChanges(t *testing.T) {
	yesterday := timeutil.StartOfDay(timeutil.Now().AddDate(0, 0, -1))
	dayBefore := yesterday.AddDate(0, 0, -1)

	prev := standings.Build(dayBefore, []rating.PlayerRank{
		{UserID: 1, Rank: 500},
		{UserID: 2, Rank: 450},
	})
	next := standings.Build(yesterday, []rating.PlayerRank{
		{UserID: 2, Rank: 520},
		{UserID: 1, Rank: 500},
	})

	rebuilder := &stubRebuilder{snapshot: next}
	snapshots := &stubSnapshots{byDate: map[string]*standings.Snapshot{
		timeutil.DateKey(dayBefore): prev,
	}}
	events := &eventSink{}

	job := NewDailySnapshotJob(rebuilder, snapshots, events, nil, DefaultDailySnapshotConfig())
	require.NoError(t, job.Run(context.Background()))

	// Перестраивается именно прошедший день.
	assert.Equal(t, timeutil.DateKey(yesterday), timeutil.DateKey(rebuilder.gotDate))

	// Оба игрока поменялись местами.
	changes := events.byType(shared.EventRankChanged)
	assert.Len(t, changes, 2)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Players)
	assert.Equal(t, 2, stats.PositionChanges)
	assert.Equal(t, 2, stats.ChangesPublished)
}

func TestDailySnapshotJob_FirstRunHasNoPreviousDay(t *testing.T) {
	yesterday := timeutil.StartOfDay(timeutil.Now().AddDate(0, 0, -1))
	next := standings.Build(yesterday, []rating.PlayerRank{{UserID: 1, Rank: 500}})

	rebuilder := &stubRebuilder{snapshot: next}
	snapshots := &stubSnapshots{byDate: map[string]*standings.Snapshot{}}
	events := &eventSink{}

	job := NewDailySnapshotJob(rebuilder, snapshots, events, nil, DefaultDailySnapshotConfig())
	require.NoError(t, job.Run(context.Background()))

	// Новичок без прежнего среза: одно изменение с нулевого места.
	changes := events.byType(shared.EventRankChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, 0, changes[0].Payload()["old_position"])
}

func TestDailySnapshotJob_RebuildFailure(t *testing.T) {
	rebuilder := &stubRebuilder{err: errors.New("ledger unavailable")}
	snapshots := &stubSnapshots{byDate: map[string]*standings.Snapshot{}}

	job := NewDailySnapshotJob(rebuilder, snapshots, nil, nil, DefaultDailySnapshotConfig())
	assert.Error(t, job.Run(context.Background()))
	assert.Nil(t, job.LastRunStats())
}

func TestDailySnapshotJob_NotificationsDisabled(t *testing.T) {
	yesterday := timeutil.StartOfDay(timeutil.Now().AddDate(0, 0, -1))
	next := standings.Build(yesterday, []rating.PlayerRank{{UserID: 1, Rank: 500}})

	events := &eventSink{}
	cfg := DefaultDailySnapshotConfig()
	cfg.NotifyRankChanges = false

	job := NewDailySnapshotJob(&stubRebuilder{snapshot: next},
		&stubSnapshots{byDate: map[string]*standings.Snapshot{}}, events, nil, cfg)
	require.NoError(t, job.Run(context.Background()))

	assert.Empty(t, events.byType(shared.EventRankChanged))
	assert.Equal(t, 1, job.LastRunStats().PositionChanges)
}

// ─────────────────────────────────────────────────────────────────────────────
// GRADE SWEEP JOB
// ─────────────────────────────────────────────────────────────────────────────

func TestGradeSweepJob_ProcessesAllUsers(t *testing.T) {
	source := &stubPendingSource{users: []int64{1, 2, 3}}
	recalc := &stubRecalc{graded: map[int64]int{1: 2, 2: 1, 3: 0}}
	events := &eventSink{}

	job := NewGradeSweepJob(source, recalc, events, nil, DefaultGradeSweepConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, recalc.calls)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.UsersProcessed)
	assert.Equal(t, 3, stats.GamesGraded)
	assert.Equal(t, 0, stats.UsersFailed)

	done := events.byType(shared.EventGradeSweepDone)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].Payload()["games_graded"])
}

func TestGradeSweepJob_ConcurrentRecalcSkipped(t *testing.T) {
	source := &stubPendingSource{users: []int64{1, 2}}
	recalc := &stubRecalc{
		graded: map[int64]int{2: 1},
		errs:   map[int64]error{1: shared.ErrRecalcInProgress},
	}

	job := NewGradeSweepJob(source, recalc, nil, nil, DefaultGradeSweepConfig())
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	assert.Equal(t, 1, stats.UsersSkipped)
	assert.Equal(t, 1, stats.UsersProcessed)
	assert.Equal(t, 0, stats.UsersFailed)
}

func TestGradeSweepJob_FailedUserReported(t *testing.T) {
	source := &stubPendingSource{users: []int64{1, 2}}
	recalc := &stubRecalc{
		graded: map[int64]int{2: 1},
		errs:   map[int64]error{1: errors.New("db down")},
	}

	job := NewGradeSweepJob(source, recalc, nil, nil, DefaultGradeSweepConfig())
	err := job.Run(context.Background())
	assert.Error(t, err)

	// Сбой одного пользователя не останавливает обход.
	stats := job.LastRunStats()
	assert.Equal(t, 1, stats.UsersFailed)
	assert.Equal(t, 1, stats.UsersProcessed)
}

func TestGradeSweepJob_NothingPending(t *testing.T) {
	events := &eventSink{}
	job := NewGradeSweepJob(&stubPendingSource{}, &stubRecalc{}, events, nil, DefaultGradeSweepConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Empty(t, events.byType(shared.EventGradeSweepDone))
	assert.Equal(t, 0, job.LastRunStats().UsersProcessed)
}
