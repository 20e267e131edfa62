package rating

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// КАЛЬКУЛЯТОР РАНГА
// Считает дельту рейтинга для одного игрока в одной завершённой игре
// и сохраняет её в журнал. Модифицированный ELO: командный вес,
// нормализация скилла, масштабирование по разнице счёта.
// ══════════════════════════════════════════════════════════════════════════════

// GradeInput - входные данные для оценки одной игры одного игрока.
type GradeInput struct {
	// UserID - оцениваемый игрок.
	UserID int64

	// Skill - его сырой внутриигровой счёт.
	Skill int

	// MinSkill и MaxSkill - минимальный и максимальный скилл в игре
	// (до паддинга; калькулятор применяет паддинг сам).
	MinSkill int
	MaxSkill int

	// CurrentRank - ранг игрока до игры. Контекст для формулы;
	// авторитетным остаётся суммирование журнала.
	CurrentRank float64

	// Teammates - союзники (без самого игрока; попавшая в список
	// собственная запись игнорируется).
	Teammates []Participant

	// Opponents - противники.
	Opponents []Participant

	// GameCode и PlayedAt идентифицируют игру и её дату.
	GameCode string
	PlayedAt time.Time
}

// GradeResult - результат оценки.
type GradeResult struct {
	// Delta - неокруглённая дельта ранга, записанная в журнал.
	Delta float64

	// NewRank - округлённый ранг после игры (CurrentRank + Delta).
	// Советующее значение для следующей итерации пересчёта.
	NewRank float64

	// Entry - запись журнала, как она была сохранена.
	Entry LedgerEntry
}

// diagnostic - срез вычисления, сохраняемый в журнале как JSON.
// Формат непрозрачен для потребителей и может меняться.
type diagnostic struct {
	Skill          int     `json:"skill"`
	Normalized     float64 `json:"normalized"`
	MinSkill       float64 `json:"min_skill"`
	MaxSkill       float64 `json:"max_skill"`
	TeamRank       float64 `json:"team_rank"`
	EnemyRank      float64 `json:"enemy_rank"`
	Q              float64 `json:"q"`
	Opponents      int     `json:"opponents"`
	Teammates      int     `json:"teammates"`
	PairwiseCount  int     `json:"pairwise_count"`
	RankBefore     float64 `json:"rank_before"`
	Delta          float64 `json:"delta"`
	DegenerateSpan bool    `json:"degenerate_span,omitempty"`
}

// Calculator вычисляет и сохраняет дельты рейтинга.
type Calculator struct {
	ledger LedgerWriter
}

// NewCalculator создаёт калькулятор поверх заданного журнала.
func NewCalculator(ledger LedgerWriter) (*Calculator, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}
	return &Calculator{ledger: ledger}, nil
}

// Grade считает дельту игрока за игру и делает upsert записи журнала
// по ключу (GameCode, UserID). Вырожденные входы (пустое множество
// сравнения, схлопнувшийся диапазон скиллов) дают нулевую дельту -
// это не ошибка, и нулевая запись всё равно сохраняется: именно она
// помечает игру как оценённую и обеспечивает идемпотентность пересчёта.
func (c *Calculator) Grade(ctx context.Context, in GradeInput) (GradeResult, error) {
	delta, diag := computeDelta(in)

	diagJSON, err := json.Marshal(diag)
	if err != nil {
		// Диагностика состоит из чисел и не может не сериализоваться,
		// но запись без неё всё равно валидна.
		diagJSON = []byte("{}")
	}

	entry := LedgerEntry{
		GameCode:        in.GameCode,
		UserID:          in.UserID,
		Difference:      delta,
		PlayedAt:        in.PlayedAt,
		Diagnostic:      diagJSON,
		NormalizedSkill: diag.Normalized,
		MinSkill:        diag.MinSkill,
		MaxSkill:        diag.MaxSkill,
	}

	if err := entry.Validate(); err != nil {
		return GradeResult{}, err
	}

	if err := c.ledger.Upsert(ctx, entry); err != nil {
		return GradeResult{}, err
	}

	return GradeResult{
		Delta:   delta,
		NewRank: math.Round(in.CurrentRank + delta),
		Entry:   entry,
	}, nil
}

// computeDelta - чистое вычисление дельты, без побочных эффектов.
func computeDelta(in GradeInput) (float64, diagnostic) {
	minSkill := float64(in.MinSkill) - MinSkillPadding
	maxSkill := float64(in.MaxSkill) + MaxSkillPadding

	diag := diagnostic{
		Skill:      in.Skill,
		MinSkill:   minSkill,
		MaxSkill:   maxSkill,
		RankBefore: in.CurrentRank,
	}

	// Схлопнувшийся диапазон скиллов: нормализация невозможна.
	if maxSkill == minSkill {
		diag.DegenerateSpan = true
		return 0, diag
	}

	span := maxSkill - minSkill
	normSubject := (float64(in.Skill) - minSkill) / span
	diag.Normalized = normSubject

	// Командный коэффициент силы: суммарный ранг своей команды против
	// суммарного ранга противников. Чем ближе команды, тем сильнее Q
	// сжимает вклад разницы счёта.
	teamRank := in.CurrentRank
	for _, tm := range in.Teammates {
		if tm.IsUser(in.UserID) {
			continue
		}
		teamRank += tm.Rank
	}
	enemyRank := 0.0
	for _, op := range in.Opponents {
		enemyRank += op.Rank
	}
	q := QBase / (math.Abs(teamRank-enemyRank)*QScale + QBase)

	diag.TeamRank = teamRank
	diag.EnemyRank = enemyRank
	diag.Q = q

	sum := 0.0
	pairs := 0

	contribution := func(p Participant) float64 {
		expected := 1.0 / (1.0 + math.Pow(10, (p.Rank-in.CurrentRank)/RatingRatio))
		mov := math.Log(math.Abs(float64(in.Skill-p.Skill))+1) * q
		normOther := (float64(p.Skill) - minSkill) / span
		result := 1.0 / (1.0 + math.Pow(ResultBase, normOther-normSubject))
		return (result - expected) * mov
	}

	for _, op := range in.Opponents {
		sum += contribution(op)
		pairs++
		diag.Opponents++
	}

	for _, tm := range in.Teammates {
		if tm.IsUser(in.UserID) {
			continue
		}
		sum += contribution(tm) * TeammateWeight
		pairs++
		diag.Teammates++
	}

	diag.PairwiseCount = pairs

	// Пустое множество сравнения: играть не с кем, ранг не меняется.
	if pairs == 0 {
		return 0, diag
	}

	delta := sum * KFactor / float64(pairs)
	diag.Delta = delta
	return delta, diag
}
