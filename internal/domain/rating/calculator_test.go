package rating

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerRecorder captures upserted entries for inspection.
type ledgerRecorder struct {
	entries []LedgerEntry
}

func (r *ledgerRecorder) Upsert(_ context.Context, entry LedgerEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func baseInput() GradeInput {
	return GradeInput{
		UserID:      1,
		Skill:       500,
		MinSkill:    100,
		MaxSkill:    900,
		CurrentRank: BaseRank,
		GameCode:    "g-001",
		PlayedAt:    time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC),
	}
}

func TestNewCalculator_NilLedger(t *testing.T) {
	_, err := NewCalculator(nil)
	assert.ErrorIs(t, err, ErrNilLedger)
}

func TestGrade_EmptyComparisonSet(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	in := baseInput()
	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Delta)
	assert.Equal(t, BaseRank, res.NewRank)

	// Нулевая запись всё равно сохраняется: она помечает игру оценённой.
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "g-001", rec.entries[0].GameCode)
	assert.Equal(t, int64(1), rec.entries[0].UserID)
	assert.Equal(t, 0.0, rec.entries[0].Difference)
}

func TestGrade_DegenerateSkillSpan(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	// Диапазон после паддинга схлопывается: max == min - MinSkillPadding.
	in := baseInput()
	in.MinSkill = 100
	in.MaxSkill = 50
	in.Opponents = []Participant{ProxyParticipant(50, 2)}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Delta)
	require.Len(t, rec.entries, 1)
}

func TestGrade_EqualPlayersZeroDelta(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	// Идентичный противник: ожидание 0.5, исход 0.5, разница счёта 0.
	in := baseInput()
	in.Opponents = []Participant{RegisteredParticipant(2, in.Skill, in.CurrentRank, 2)}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Delta, 1e-12)
}

func TestGrade_OutscoringOpponentGains(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	in := baseInput()
	in.Skill = 800
	in.Opponents = []Participant{RegisteredParticipant(2, 200, in.CurrentRank, 2)}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, res.Delta, 0.0)
	assert.Equal(t, res.Delta, rec.entries[0].Difference)
}

func TestGrade_OutscoredByOpponentLoses(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	in := baseInput()
	in.Skill = 200
	in.Opponents = []Participant{RegisteredParticipant(2, 800, in.CurrentRank, 2)}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, res.Delta, 0.0)
}

func TestGrade_SkillGapAfterPadding(t *testing.T) {
	ctx := context.Background()

	// Лобби 1x1: счёт 120 против 80 при равных рангах. Паддинг растягивает
	// диапазон до [30, 120], лидер нормализуется ровно в 1.0.
	strong := baseInput()
	strong.Skill = 120
	strong.MinSkill = 80
	strong.MaxSkill = 120
	strong.Opponents = []Participant{RegisteredParticipant(2, 80, BaseRank, 2)}

	weak := baseInput()
	weak.UserID = 2
	weak.GameCode = "g-002"
	weak.Skill = 80
	weak.MinSkill = 80
	weak.MaxSkill = 120
	weak.Opponents = []Participant{RegisteredParticipant(1, 120, BaseRank, 1)}

	calcStrong, err := NewCalculator(&ledgerRecorder{})
	require.NoError(t, err)
	resStrong, err := calcStrong.Grade(ctx, strong)
	require.NoError(t, err)

	calcWeak, err := NewCalculator(&ledgerRecorder{})
	require.NoError(t, err)
	resWeak, err := calcWeak.Grade(ctx, weak)
	require.NoError(t, err)

	assert.Greater(t, resStrong.Delta, 0.0)
	assert.Less(t, resWeak.Delta, 0.0)

	// Равные ранги и зеркальная пара: дельты строго противоположны.
	assert.InDelta(t, resStrong.Delta, -resWeak.Delta, 1e-9)

	assert.Equal(t, 30.0, resStrong.Entry.MinSkill)
	assert.Equal(t, 120.0, resStrong.Entry.MaxSkill)
	assert.Equal(t, 1.0, resStrong.Entry.NormalizedSkill)
	assert.InDelta(t, 50.0/90.0, resWeak.Entry.NormalizedSkill, 1e-12)
}

func TestGrade_TeammateContributesHalf(t *testing.T) {
	ctx := context.Background()

	in := baseInput()
	in.Skill = 800
	other := RegisteredParticipant(2, 200, BaseRank, 2)

	asOpponent := in
	asOpponent.Opponents = []Participant{other}

	asTeammate := in
	asTeammate.GameCode = "g-002"
	asTeammate.Teammates = []Participant{RegisteredParticipant(2, 200, BaseRank, 1)}

	calcOpp, err := NewCalculator(&ledgerRecorder{})
	require.NoError(t, err)
	resOpp, err := calcOpp.Grade(ctx, asOpponent)
	require.NoError(t, err)

	calcMate, err := NewCalculator(&ledgerRecorder{})
	require.NoError(t, err)
	resMate, err := calcMate.Grade(ctx, asTeammate)
	require.NoError(t, err)

	// Парное сравнение одно и то же, но союзник входит в teamRank и
	// меняет Q; выносим поправку явно.
	qOpp := QBase / (0*QScale + QBase)
	qMate := QBase / (2*BaseRank*QScale + QBase)

	assert.Greater(t, resMate.Delta, 0.0)
	assert.InDelta(t, resOpp.Delta*TeammateWeight*qMate/qOpp, resMate.Delta, 1e-9)
}

func TestGrade_OwnEntryInTeammatesIgnored(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	in := baseInput()
	in.Teammates = []Participant{RegisteredParticipant(in.UserID, in.Skill, in.CurrentRank, 1)}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Delta)
}

func TestGrade_DeltaBoundedByKFactor(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	// Большое лобби: дельта делится на число парных сравнений.
	in := baseInput()
	in.Skill = 900
	for i := 0; i < 20; i++ {
		in.Opponents = append(in.Opponents, ProxyParticipant(100+i*10, 2))
	}

	res, err := calc.Grade(context.Background(), in)
	require.NoError(t, err)
	assert.Greater(t, res.Delta, 0.0)
	assert.LessOrEqual(t, res.Delta, KFactor*10)
}

func TestGrade_InvalidEntryRejected(t *testing.T) {
	rec := &ledgerRecorder{}
	calc, err := NewCalculator(rec)
	require.NoError(t, err)

	in := baseInput()
	in.GameCode = ""

	_, err = calc.Grade(context.Background(), in)
	assert.ErrorIs(t, err, ErrEmptyGameCode)
	assert.Empty(t, rec.entries)
}

func TestLedgerEntry_Validate(t *testing.T) {
	valid := LedgerEntry{
		GameCode: "g-001",
		UserID:   1,
		PlayedAt: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	noUser := valid
	noUser.UserID = 0
	assert.ErrorIs(t, noUser.Validate(), ErrBadUserID)

	noDate := valid
	noDate.PlayedAt = time.Time{}
	assert.ErrorIs(t, noDate.Validate(), ErrZeroPlayedAt)
}

func TestRank_Rounded(t *testing.T) {
	assert.Equal(t, 100, Rank(100.4).Rounded())
	assert.Equal(t, 101, Rank(100.5).Rounded())
	assert.Equal(t, 99, Rank(99.49).Rounded())
}
