package rating

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// КОНТРАКТЫ ХРАНИЛИЩ
// ══════════════════════════════════════════════════════════════════════════════

// LedgerWriter записывает в рейтинговый журнал.
type LedgerWriter interface {
	// Upsert вставляет или заменяет запись по ключу (game_code, user_id).
	// Ошибка записи фатальна для вызывающей операции: пропавшая строка
	// журнала ломает инвариант "ранг = сумма журнала".
	Upsert(ctx context.Context, entry LedgerEntry) error
}

// LedgerScope - операции журнала, доступные внутри эксклюзивной
// пользовательской области (см. LedgerRepository.WithUserScope).
type LedgerScope interface {
	LedgerWriter

	// CurrentRank возвращает BaseRank + сумму всех дельт пользователя.
	CurrentRank(ctx context.Context, userID int64) (float64, error)

	// RankAsOf возвращает ранг пользователя на момент строго до before.
	// Записи с датой >= before не учитываются: при пересчёте истории
	// нельзя использовать информацию из будущего.
	RankAsOf(ctx context.Context, userID int64, before time.Time) (float64, error)
}

// LedgerRepository - полный контракт рейтингового журнала.
type LedgerRepository interface {
	LedgerScope

	// EntriesForUser возвращает записи пользователя по возрастанию даты.
	EntriesForUser(ctx context.Context, userID int64) ([]LedgerEntry, error)

	// RanksThrough сворачивает журнал: BaseRank + сумма дельт с датой <= through
	// для каждого игрока, имеющего хотя бы одну запись.
	RanksThrough(ctx context.Context, through time.Time) ([]PlayerRank, error)

	// WithUserScope выполняет fn под эксклюзивной блокировкой пользователя
	// (advisory-блокировка на уровне БД в рамках одной транзакции).
	// Последовательность "найти неоценённые игры - посчитать - записать"
	// для одного пользователя не должна выполняться конкурентно.
	WithUserScope(ctx context.Context, userID int64, fn func(ctx context.Context, scope LedgerScope) error) error
}

// GameStatsSource - внешний поставщик игровой статистики (только чтение).
// Реализуется поверх таблиц портала; единственная запись движка в эти
// таблицы - привязка строки участия к пользователю, и она идёт мимо
// этого интерфейса.
type GameStatsSource interface {
	// UngradedGames возвращает рейтинговые игры пользователя, ещё не
	// попавшие в журнал, по возрастанию даты.
	UngradedGames(ctx context.Context, userID int64) ([]Game, error)

	// Participations возвращает все строки участия указанной игры.
	Participations(ctx context.Context, gameCode string) ([]Participation, error)
}

// Cache - граница кеша рейтинга. Любая запись в журнал обязана
// инвалидировать ключи, помеченные пользователем.
type Cache interface {
	// InvalidateUser сбрасывает кешированные данные пользователя.
	InvalidateUser(ctx context.Context, userID int64) error
}
