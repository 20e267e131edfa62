// Package rating содержит доменную модель рейтингового движка LaserTag Rating Hub.
// Рейтинг ("ранг") игрока - это не сырой внутриигровой счёт, а накопленная
// оценка мастерства: базовые 100 очков плюс сумма всех дельт из рейтингового
// журнала. Журнал - единственный источник истины, ранг всегда пересчитываем.
package rating

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// КОНСТАНТЫ ФОРМУЛЫ
// ══════════════════════════════════════════════════════════════════════════════

const (
	// BaseRank - стартовый ранг каждого зарегистрированного игрока.
	BaseRank = 100.0

	// KFactor - классический ELO K-фактор: максимальный масштаб изменения
	// за одну игру. Делится на число парных сравнений, поэтому дельта
	// ограничена независимо от размера лобби.
	KFactor = 10.0

	// RatingRatio - разница рангов, дающая десятикратное преимущество
	// в ожидаемом исходе (классические 400 очков ELO).
	RatingRatio = 400.0

	// TeammateWeight - вес вклада союзников: партнёры по команде влияют
	// на ранг вдвое слабее противников.
	TeammateWeight = 0.5

	// MinSkillPadding вычитается из минимального скилла игры перед
	// нормализацией, MaxSkillPadding прибавляется к максимальному.
	MinSkillPadding = 50.0
	MaxSkillPadding = 0.0

	// QBase и QScale задают командный коэффициент силы:
	// Q = QBase / (|teamRank - enemyRank| * QScale + QBase).
	// Близкие по силе команды сжимают вклад разницы счёта,
	// большой разрыв - растягивает.
	QBase  = 2.2
	QScale = 0.001

	// ResultBase - основание степени в прокси фактического исхода:
	// result = 1 / (1 + ResultBase^(normOpp - normSubj)).
	ResultBase = 100.0
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank представляет накопленный рейтинг игрока.
// Авторитетное значение всегда равно BaseRank + сумма дельт журнала.
type Rank float64

// Rounded возвращает ранг, округлённый до целого (для таблиц и снапшотов).
func (r Rank) Rounded() int {
	return int(math.Round(float64(r)))
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("%.2f", float64(r))
}

// ParticipantKind различает зарегистрированных участников сравнения
// и "прокси по скиллу" - незарегистрированных игроков без журнала,
// чей внутриигровой счёт используется вместо ранга.
type ParticipantKind int

const (
	// KindRegistered - зарегистрированный игрок с рангом из журнала.
	KindRegistered ParticipantKind = iota
	// KindSkillProxy - незарегистрированный игрок, ранг = скилл.
	KindSkillProxy
)

// String возвращает строковое представление вида участника.
func (k ParticipantKind) String() string {
	if k == KindSkillProxy {
		return "skill_proxy"
	}
	return "registered"
}

// Participant - одна запись в множестве сравнения (союзник или противник).
// Фиксированная типизированная структура вместо "массива по строковым ключам":
// наличие UserID определяется полем Kind, а не присутствием ключа.
type Participant struct {
	// UserID - идентификатор пользователя (nil для прокси по скиллу).
	UserID *int64

	// Kind - зарегистрированный игрок или прокси по скиллу.
	Kind ParticipantKind

	// Skill - сырой внутриигровой счёт.
	Skill int

	// Rank - ранг на момент строго до даты игры (для прокси - скилл).
	Rank float64

	// TeamID - команда участника в рамках игры.
	TeamID int
}

// RegisteredParticipant создаёт участника с рангом из журнала.
func RegisteredParticipant(userID int64, skill int, rank float64, teamID int) Participant {
	return Participant{
		UserID: &userID,
		Kind:   KindRegistered,
		Skill:  skill,
		Rank:   rank,
		TeamID: teamID,
	}
}

// ProxyParticipant создаёт незарегистрированного участника:
// его скилл используется как замена ранга.
func ProxyParticipant(skill, teamID int) Participant {
	return Participant{
		Kind:   KindSkillProxy,
		Skill:  skill,
		Rank:   float64(skill),
		TeamID: teamID,
	}
}

// IsUser сообщает, представляет ли участник данного пользователя.
func (p Participant) IsUser(userID int64) bool {
	return p.Kind == KindRegistered && p.UserID != nil && *p.UserID == userID
}

// ══════════════════════════════════════════════════════════════════════════════
// ИГРЫ И УЧАСТИЯ
// ══════════════════════════════════════════════════════════════════════════════

// Game - завершённая игра, видимая движку (только чтение).
type Game struct {
	// Code - уникальный код игры в портале.
	Code string

	// System - идентификатор игровой системы (вендор оборудования).
	System string

	// GameID - числовой идентификатор внутри игровой системы.
	GameID int64

	// PlayedAt - время начала игры.
	PlayedAt time.Time

	// Rankable - влияет ли режим игры на рейтинг.
	Rankable bool
}

// Participation - строка участия: один игрок в одной игре.
// Неизменяема после финализации игры.
type Participation struct {
	// GameCode - код игры.
	GameCode string

	// UserID - привязанный пользователь (nil для незарегистрированных).
	UserID *int64

	// TeamID - команда игрока в игре.
	TeamID int

	// Skill - сырой счёт, вычисленный игровой подсистемой.
	Skill int

	// PlayedAt - время начала игры (дублируется для сортировки).
	PlayedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ЖУРНАЛ РЕЙТИНГА
// ══════════════════════════════════════════════════════════════════════════════

// LedgerEntry - атомарная запись журнала: вклад одной игры в ранг
// одного игрока. Инвариант: не более одной записи на пару (игра, игрок);
// пересчёт заменяет запись, а не дублирует её.
type LedgerEntry struct {
	// GameCode - код игры, породившей запись.
	GameCode string

	// UserID - игрок, чей ранг изменился.
	UserID int64

	// Difference - дельта ранга (может быть нулевой и отрицательной).
	Difference float64

	// PlayedAt - дата игры; записи игрока суммируются в порядке дат.
	PlayedAt time.Time

	// Diagnostic - непрозрачный JSON со срезом вычисления (для аудита).
	Diagnostic json.RawMessage

	// NormalizedSkill - скилл игрока, нормализованный в [0,1].
	NormalizedSkill float64

	// MinSkill и MaxSkill - границы нормализации после паддинга.
	MinSkill float64
	MaxSkill float64
}

// Validate проверяет корректность записи журнала.
func (e LedgerEntry) Validate() error {
	if e.GameCode == "" {
		return ErrEmptyGameCode
	}
	if e.UserID <= 0 {
		return ErrBadUserID
	}
	if e.PlayedAt.IsZero() {
		return ErrZeroPlayedAt
	}
	return nil
}

// PlayerRank - пара (игрок, ранг), результат свёртки журнала на дату.
type PlayerRank struct {
	UserID int64
	Rank   float64
}
