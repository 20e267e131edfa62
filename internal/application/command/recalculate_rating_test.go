package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/shared"
	"github.com/lasertag-hub/lasertag-rating-hub/pkg/lock"
)

// ─────────────────────────────────────────────────────────────────────────────
// FAKES
// ─────────────────────────────────────────────────────────────────────────────

// memLedger is an in-memory rating.LedgerRepository.
type memLedger struct {
	mu      sync.Mutex
	entries map[string]rating.LedgerEntry
	scoped  bool
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[string]rating.LedgerEntry)}
}

func ledgerKey(gameCode string, userID int64) string {
	return fmt.Sprintf("%s|%d", gameCode, userID)
}

func (l *memLedger) Upsert(_ context.Context, entry rating.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ledgerKey(entry.GameCode, entry.UserID)] = entry
	return nil
}

func (l *memLedger) CurrentRank(_ context.Context, userID int64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rank := rating.BaseRank
	for _, e := range l.entries {
		if e.UserID == userID {
			rank += e.Difference
		}
	}
	return rank, nil
}

func (l *memLedger) RankAsOf(_ context.Context, userID int64, before time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rank := rating.BaseRank
	for _, e := range l.entries {
		if e.UserID == userID && e.PlayedAt.Before(before) {
			rank += e.Difference
		}
	}
	return rank, nil
}

func (l *memLedger) EntriesForUser(_ context.Context, userID int64) ([]rating.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []rating.LedgerEntry
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLedger) RanksThrough(_ context.Context, through time.Time) ([]rating.PlayerRank, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sums := make(map[int64]float64)
	for _, e := range l.entries {
		if !e.PlayedAt.After(through) {
			sums[e.UserID] += e.Difference
		}
	}
	var out []rating.PlayerRank
	for id, sum := range sums {
		out = append(out, rating.PlayerRank{UserID: id, Rank: rating.BaseRank + sum})
	}
	return out, nil
}

func (l *memLedger) WithUserScope(ctx context.Context, _ int64, fn func(ctx context.Context, scope rating.LedgerScope) error) error {
	l.mu.Lock()
	l.scoped = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.scoped = false
		l.mu.Unlock()
	}()
	return fn(ctx, l)
}

func (l *memLedger) inScope() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scoped
}

func (l *memLedger) entry(gameCode string, userID int64) (rating.LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ledgerKey(gameCode, userID)]
	return e, ok
}

// racingLedger lets a rival writer commit entries right before the
// exclusive scope is entered, the way a competing process does after
// winning the database lock first.
type racingLedger struct {
	*memLedger
	onScopeEnter func()
}

func (l *racingLedger) WithUserScope(ctx context.Context, userID int64, fn func(ctx context.Context, scope rating.LedgerScope) error) error {
	if enter := l.onScopeEnter; enter != nil {
		l.onScopeEnter = nil
		enter()
	}
	return l.memLedger.WithUserScope(ctx, userID, fn)
}

func (l *memLedger) has(gameCode string, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ledgerKey(gameCode, userID)]
	return ok
}

func (l *memLedger) diffSum(userID int64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := 0.0
	for _, e := range l.entries {
		if e.UserID == userID {
			sum += e.Difference
		}
	}
	return sum
}

// memGames is an in-memory rating.GameStatsSource backed by the ledger:
// a game is ungraded until the ledger holds an entry for it.
type memGames struct {
	games  []rating.Game
	parts  map[string][]rating.Participation
	ledger *memLedger

	listedInScope bool
}

func (g *memGames) UngradedGames(_ context.Context, userID int64) ([]rating.Game, error) {
	g.listedInScope = g.ledger.inScope()
	var out []rating.Game
	for _, game := range g.games {
		if game.Rankable && !g.ledger.has(game.Code, userID) {
			out = append(out, game)
		}
	}
	return out, nil
}

func (g *memGames) Participations(_ context.Context, gameCode string) ([]rating.Participation, error) {
	return g.parts[gameCode], nil
}

// LinkParticipation treats the row's ordinal position as its id.
func (g *memGames) LinkParticipation(_ context.Context, gameCode string, participationID, userID int64) (int, error) {
	rows := g.parts[gameCode]
	for i := range rows {
		if int64(i+1) == participationID && rows[i].UserID == nil {
			rows[i].UserID = &userID
			return 1, nil
		}
	}
	return 0, nil
}

type eventCollector struct {
	mu     sync.Mutex
	events []shared.Event
}

func (c *eventCollector) Publish(event shared.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) byType(t shared.EventType) []shared.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []shared.Event
	for _, e := range c.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type cacheRecorder struct {
	invalidated []int64
}

func (c *cacheRecorder) InvalidateUser(_ context.Context, userID int64) error {
	c.invalidated = append(c.invalidated, userID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

const subjectID int64 = 7

func gameAt(code string, playedAt time.Time) rating.Game {
	return rating.Game{
		Code:     code,
		System:   "laserwar",
		GameID:   1,
		PlayedAt: playedAt,
		Rankable: true,
	}
}

func participation(gameCode string, userID *int64, teamID, skill int, playedAt time.Time) rating.Participation {
	return rating.Participation{
		GameCode: gameCode,
		UserID:   userID,
		TeamID:   teamID,
		Skill:    skill,
		PlayedAt: playedAt,
	}
}

func ptr(id int64) *int64 { return &id }

func newHandler(games *memGames, ledger *memLedger, events shared.EventPublisher, cache rating.Cache) *RecalculateRatingHandler {
	return NewRecalculateRatingHandler(games, ledger, lock.NewUserLock(), cache, events, nil, time.Second)
}

// ─────────────────────────────────────────────────────────────────────────────
// TESTS
// ─────────────────────────────────────────────────────────────────────────────

func TestRecalculate_InvalidUser(t *testing.T) {
	ledger := newMemLedger()
	h := newHandler(&memGames{ledger: ledger}, ledger, nil, nil)

	_, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestRecalculate_NoGamesIsNoOp(t *testing.T) {
	ledger := newMemLedger()
	h := newHandler(&memGames{ledger: ledger}, ledger, nil, nil)

	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 0, res.GamesGraded)
	assert.Equal(t, rating.BaseRank, res.CurrentRank)
}

func TestRecalculate_GradesChronologically(t *testing.T) {
	ledger := newMemLedger()
	early := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 8, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		// Источник отдаёт игры не по порядку; обработчик обязан
		// отсортировать их сам.
		games: []rating.Game{gameAt("g-late", late), gameAt("g-early", early)},
		parts: map[string][]rating.Participation{
			"g-early": {
				participation("g-early", ptr(subjectID), 1, 700, early),
				participation("g-early", ptr(8), 2, 300, early),
			},
			"g-late": {
				participation("g-late", ptr(subjectID), 1, 600, late),
				participation("g-late", nil, 2, 400, late),
			},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)
	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 2, res.GamesGraded)
	assert.Equal(t, []string{"g-early", "g-late"}, res.GradedGameCodes)
	assert.True(t, ledger.has("g-early", subjectID))
	assert.True(t, ledger.has("g-late", subjectID))
}

func TestRecalculate_RankEqualsLedgerSum(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(subjectID), 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
				participation("g-001", nil, 2, 350, playedAt),
			},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)
	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 1, res.GamesGraded)
	assert.InDelta(t, rating.BaseRank+ledger.diffSum(subjectID), res.CurrentRank, 1e-9)
	assert.Greater(t, res.CurrentRank, rating.BaseRank)
}

func TestRecalculate_SecondRunGradesNothing(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(subjectID), 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
			},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)

	first, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)
	require.Equal(t, 1, first.GamesGraded)

	second, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)
	assert.Equal(t, 0, second.GamesGraded)
	assert.Equal(t, first.CurrentRank, second.CurrentRank)
}

func TestRecalculate_ZeroDeltaStillMarksGameGraded(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	// Единственный участник: сравнивать не с кем, дельта нулевая.
	games := &memGames{
		games: []rating.Game{gameAt("g-solo", playedAt)},
		parts: map[string][]rating.Participation{
			"g-solo": {participation("g-solo", ptr(subjectID), 1, 500, playedAt)},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)
	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 1, res.GamesGraded)
	assert.Equal(t, rating.BaseRank, res.CurrentRank)
	assert.True(t, ledger.has("g-solo", subjectID))

	second, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)
	assert.Equal(t, 0, second.GamesGraded)
}

func TestRecalculate_SubjectMissingFromGameIsSkipped(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {participation("g-001", ptr(8), 2, 200, playedAt)},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)
	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 0, res.GamesGraded)
	assert.False(t, ledger.has("g-001", subjectID))
}

func TestRecalculate_ListsGamesUnderUserScope(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(subjectID), 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
			},
		},
		ledger: ledger,
	}

	h := newHandler(games, ledger, nil, nil)
	_, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	// Выборка вне эксклюзивной области видит игры, которые конкурирующий
	// процесс уже оценивает, и привела бы к повторной оценке.
	assert.True(t, games.listedInScope)
}

func TestRecalculate_RivalProcessEntriesNotRegraded(t *testing.T) {
	base := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(subjectID), 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
			},
		},
		ledger: base,
	}

	// Конкурент успел оценить игру и закоммитить запись, пока мы ждали
	// блокировку.
	ledger := &racingLedger{memLedger: base, onScopeEnter: func() {
		_ = base.Upsert(context.Background(), rating.LedgerEntry{
			GameCode:   "g-001",
			UserID:     subjectID,
			Difference: 5,
			PlayedAt:   playedAt,
		})
	}}

	h := NewRecalculateRatingHandler(games, ledger, lock.NewUserLock(), nil, nil, nil, time.Second)
	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)

	assert.Equal(t, 0, res.GamesGraded)
	entry, ok := base.entry("g-001", subjectID)
	require.True(t, ok)
	assert.Equal(t, 5.0, entry.Difference)
}

func TestRecalculate_LaterEntriesDoNotAffectHistoricalGame(t *testing.T) {
	const otherID int64 = 9
	hist := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	ledger := newMemLedger()
	games := &memGames{
		games: []rating.Game{gameAt("g-a", hist), gameAt("g-b", hist)},
		parts: map[string][]rating.Participation{
			"g-a": {
				participation("g-a", ptr(subjectID), 1, 700, hist),
				participation("g-a", nil, 2, 300, hist),
			},
			"g-b": {
				participation("g-b", ptr(otherID), 1, 700, hist),
				participation("g-b", nil, 2, 300, hist),
			},
		},
		ledger: ledger,
	}

	// Игра с более поздней датой уже в журнале: историческая игра
	// привязалась задним числом и оценивается после неё.
	require.NoError(t, ledger.Upsert(context.Background(), rating.LedgerEntry{
		GameCode:   "g-future",
		UserID:     subjectID,
		Difference: 300,
		PlayedAt:   hist.AddDate(0, 0, 7),
	}))

	h := newHandler(games, ledger, nil, nil)
	_, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), RecalculateRatingCommand{UserID: otherID})
	require.NoError(t, err)

	entryA, ok := ledger.entry("g-a", subjectID)
	require.True(t, ok)
	entryB, ok := ledger.entry("g-b", otherID)
	require.True(t, ok)

	// Идентичные игры дают идентичные дельты: поздняя запись журнала
	// не должна просачиваться в ранг на момент исторической игры.
	assert.Greater(t, entryA.Difference, 0.0)
	assert.InDelta(t, entryB.Difference, entryA.Difference, 1e-9)
}

func TestRecalculate_ConcurrentRunRejected(t *testing.T) {
	ledger := newMemLedger()
	games := &memGames{ledger: ledger}

	locks := lock.NewUserLock()
	h := NewRecalculateRatingHandler(games, ledger, locks, nil, nil, nil, 50*time.Millisecond)

	locks.Lock(subjectID)
	defer locks.Unlock(subjectID)

	_, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	assert.ErrorIs(t, err, shared.ErrRecalcInProgress)
}

func TestRecalculate_PublishesEventsAndInvalidatesCache(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(subjectID), 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
			},
		},
		ledger: ledger,
	}

	events := &eventCollector{}
	cache := &cacheRecorder{}
	h := newHandler(games, ledger, events, cache)

	res, err := h.Handle(context.Background(), RecalculateRatingCommand{UserID: subjectID})
	require.NoError(t, err)
	require.Equal(t, 1, res.GamesGraded)

	assert.Len(t, events.byType(shared.EventGameGraded), 1)
	assert.Len(t, events.byType(shared.EventRatingRecomputed), 1)
	assert.Equal(t, []int64{subjectID}, cache.invalidated)
}

func TestLinkGame_LinksRowAndRecalculates(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	// Строка участника ещё не привязана; команда должна привязать её и
	// сразу оценить игру.
	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", nil, 1, 800, playedAt),
				participation("g-001", ptr(8), 2, 200, playedAt),
			},
		},
		ledger: ledger,
	}

	recalc := newHandler(games, ledger, nil, nil)
	h := NewLinkGameHandler(games, recalc, nil)

	res, err := h.Handle(context.Background(), LinkGameCommand{
		UserID:          subjectID,
		GameCode:        "g-001",
		ParticipationID: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.GamesGraded)
	assert.Equal(t, "g-001", res.GameCode)
	assert.True(t, ledger.has("g-001", subjectID))

	linked := games.parts["g-001"][0].UserID
	require.NotNil(t, linked)
	assert.Equal(t, subjectID, *linked)
}

func TestLinkGame_AlreadyLinkedRowRejected(t *testing.T) {
	ledger := newMemLedger()
	playedAt := time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC)

	games := &memGames{
		games: []rating.Game{gameAt("g-001", playedAt)},
		parts: map[string][]rating.Participation{
			"g-001": {
				participation("g-001", ptr(8), 1, 800, playedAt),
			},
		},
		ledger: ledger,
	}

	recalc := newHandler(games, ledger, nil, nil)
	h := NewLinkGameHandler(games, recalc, nil)

	_, err := h.Handle(context.Background(), LinkGameCommand{
		UserID:          subjectID,
		GameCode:        "g-001",
		ParticipationID: 1,
	})
	assert.ErrorIs(t, err, shared.ErrParticipationNotLinked)
	assert.False(t, ledger.has("g-001", subjectID))
}

func TestLinkGame_Validation(t *testing.T) {
	h := NewLinkGameHandler(nil, nil, nil)

	_, err := h.Handle(context.Background(), LinkGameCommand{UserID: 0, GameCode: "g-001", ParticipationID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	_, err = h.Handle(context.Background(), LinkGameCommand{UserID: subjectID, GameCode: "", ParticipationID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidGameCode)

	_, err = h.Handle(context.Background(), LinkGameCommand{UserID: subjectID, GameCode: "g-001"})
	assert.ErrorIs(t, err, shared.ErrInvalidParticipation)
}
