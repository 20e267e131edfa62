package standings

import (
	"context"
	"time"
)

// SnapshotRepository - хранилище материализованных срезов.
type SnapshotRepository interface {
	// Replace атомарно заменяет все строки среза на дату: конкурентные
	// читатели никогда не видят частично перезаписанный день.
	Replace(ctx context.Context, snapshot *Snapshot) error

	// GetByDate возвращает срез на дату (shared.ErrNotFound, если не строился).
	GetByDate(ctx context.Context, date time.Time) (*Snapshot, error)

	// GetEntry возвращает строку среза игрока на дату.
	GetEntry(ctx context.Context, userID int64, date time.Time) (*Entry, error)

	// EntriesForUserBetween возвращает строки игрока за период по
	// возрастанию даты - история мест для "вы поднялись/опустились".
	EntriesForUserBetween(ctx context.Context, userID int64, from, to time.Time) ([]DatedEntry, error)
}

// DatedEntry - строка среза вместе с датой, к которой она относится.
type DatedEntry struct {
	Date time.Time
	Entry
}

// SnapshotCache - кеш срезов. Перестройка среза обязана инвалидировать
// ключи, помеченные датой; запись в журнал - ключи, помеченные игроком.
type SnapshotCache interface {
	// GetSnapshot возвращает кешированный срез (nil при промахе).
	GetSnapshot(ctx context.Context, date time.Time) (*Snapshot, error)

	// SetSnapshot кеширует срез с заданным TTL.
	SetSnapshot(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error

	// InvalidateDate сбрасывает все ключи, помеченные датой.
	InvalidateDate(ctx context.Context, date time.Time) error

	// InvalidateUser сбрасывает все ключи, помеченные игроком.
	InvalidateUser(ctx context.Context, userID int64) error
}
