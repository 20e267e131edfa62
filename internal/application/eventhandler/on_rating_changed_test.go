package eventhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/standings"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// cacheSpy records invalidation calls.
type cacheSpy struct {
	users []int64
	dates []string
}

func (c *cacheSpy) GetSnapshot(context.Context, time.Time) (*standings.Snapshot, error) {
	return nil, nil
}

func (c *cacheSpy) SetSnapshot(context.Context, *standings.Snapshot, time.Duration) error {
	return nil
}

func (c *cacheSpy) InvalidateDate(_ context.Context, date time.Time) error {
	c.dates = append(c.dates, timeutil.DateKey(date))
	return nil
}

func (c *cacheSpy) InvalidateUser(_ context.Context, userID int64) error {
	c.users = append(c.users, userID)
	return nil
}

func TestCacheInvalidator_UserEvents(t *testing.T) {
	spy := &cacheSpy{}
	h := NewCacheInvalidator(spy, nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, shared.NewGameGradedEvent(7, "g-001", 4.2, 104)))
	require.NoError(t, h.Handle(ctx, shared.NewRatingRecomputedEvent(8, 3, 112)))

	assert.Equal(t, []int64{7, 8}, spy.users)
	assert.Empty(t, spy.dates)
}

func TestCacheInvalidator_SnapshotRebuilt(t *testing.T) {
	spy := &cacheSpy{}
	h := NewCacheInvalidator(spy, nil)

	require.NoError(t, h.Handle(context.Background(),
		shared.NewSnapshotRebuiltEvent("2025-03-10", 20, "r1")))

	assert.Equal(t, []string{"2025-03-10"}, spy.dates)
	assert.Empty(t, spy.users)
}

func TestCacheInvalidator_BadDateKey(t *testing.T) {
	spy := &cacheSpy{}
	h := NewCacheInvalidator(spy, nil)

	err := h.Handle(context.Background(),
		shared.NewSnapshotRebuiltEvent("10.03.2025", 20, "r1"))
	assert.Error(t, err)
	assert.Empty(t, spy.dates)
}

func TestCacheInvalidator_IgnoresUnrelatedEvents(t *testing.T) {
	spy := &cacheSpy{}
	h := NewCacheInvalidator(spy, nil)

	require.NoError(t, h.Handle(context.Background(),
		shared.NewRankChangedEvent(7, 5, 3, "2025-03-10")))

	assert.Empty(t, spy.users)
	assert.Empty(t, spy.dates)
}
