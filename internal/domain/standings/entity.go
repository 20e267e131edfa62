// Package standings содержит доменную модель ежедневных срезов рейтинга.
// Срез превращает непрерывный журнал дельт в дискретные порядковые места
// на конкретную дату: "4." для единоличного места, "4-6." для делёжки.
// Срез полностью выводим из журнала и никогда не правится вручную.
package standings

import (
	"fmt"
	"sort"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/internal/domain/rating"
)

// ══════════════════════════════════════════════════════════════════════════════
// СНАПШОТ НА ДАТУ
// ══════════════════════════════════════════════════════════════════════════════

// Entry - одна строка среза: место игрока на дату.
type Entry struct {
	// UserID - игрок.
	UserID int64

	// Rank - округлённый ранг на дату среза.
	Rank int

	// Position - порядковое место, начиная с 1.
	// Игроки с одинаковым округлённым рангом делят место.
	Position int

	// PositionText - готовая подпись места: "4." или "4-6." для делёжки.
	PositionText string
}

// Snapshot - материализованный срез рейтинга на одну дату.
type Snapshot struct {
	// Date - начало дня (по календарю портала), на который построен срез.
	Date time.Time

	// Entries - строки среза по возрастанию Position,
	// внутри делёжки - по возрастанию UserID.
	Entries []Entry

	byUser map[int64]*Entry
}

// GetByUser возвращает строку среза для игрока (nil, если игрока нет).
func (s *Snapshot) GetByUser(userID int64) *Entry {
	if s.byUser == nil {
		s.rebuildIndex()
	}
	return s.byUser[userID]
}

// AtPosition возвращает всех игроков, делящих указанное место.
func (s *Snapshot) AtPosition(position int) []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Position == position {
			out = append(out, e)
		}
	}
	return out
}

// Top возвращает первые n строк среза.
func (s *Snapshot) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(s.Entries) {
		n = len(s.Entries)
	}
	out := make([]Entry, n)
	copy(out, s.Entries[:n])
	return out
}

// rebuildIndex перестраивает индекс по игрокам.
func (s *Snapshot) rebuildIndex() {
	s.byUser = make(map[int64]*Entry, len(s.Entries))
	for i := range s.Entries {
		s.byUser[s.Entries[i].UserID] = &s.Entries[i]
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ПОСТРОЕНИЕ СРЕЗА
// ══════════════════════════════════════════════════════════════════════════════

// Build строит срез на дату из свёртки журнала.
// Порядок: по убыванию округлённого ранга; при равенстве - по возрастанию
// UserID. Вторичный ключ выбран явно, чтобы порядок делёжки не зависел
// от порядка итерации хранилища.
func Build(date time.Time, ranks []rating.PlayerRank) *Snapshot {
	entries := make([]Entry, 0, len(ranks))
	for _, pr := range ranks {
		entries = append(entries, Entry{
			UserID: pr.UserID,
			Rank:   rating.Rank(pr.Rank).Rounded(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank > entries[j].Rank
		}
		return entries[i].UserID < entries[j].UserID
	})

	assignPositions(entries)

	snap := &Snapshot{Date: date, Entries: entries}
	snap.rebuildIndex()
	return snap
}

// assignPositions присваивает места с учётом делёжки: группа из n игроков
// с одинаковым рангом, начинающаяся на месте o, получает подпись "o-(o+n-1).",
// одиночка - "o.". Следующая группа стартует с места o+n.
func assignPositions(entries []Entry) {
	i := 0
	for i < len(entries) {
		j := i
		for j < len(entries) && entries[j].Rank == entries[i].Rank {
			j++
		}

		first := i + 1
		last := j
		text := fmt.Sprintf("%d.", first)
		if last > first {
			text = fmt.Sprintf("%d-%d.", first, last)
		}

		for k := i; k < j; k++ {
			entries[k].Position = first
			entries[k].PositionText = text
		}
		i = j
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ИЗМЕНЕНИЯ МЕСТ
// ══════════════════════════════════════════════════════════════════════════════

// PositionChange - изменение места игрока между двумя срезами.
type PositionChange struct {
	UserID      int64
	OldPosition int // 0, если игрока не было в старом срезе
	NewPosition int
}

// Diff возвращает игроков, чьё место изменилось от prev к next.
// Используется для уведомлений "вы поднялись/опустились".
func Diff(prev, next *Snapshot) []PositionChange {
	if next == nil {
		return nil
	}
	var changes []PositionChange
	for _, e := range next.Entries {
		old := 0
		if prev != nil {
			if pe := prev.GetByUser(e.UserID); pe != nil {
				old = pe.Position
			}
		}
		if old != e.Position {
			changes = append(changes, PositionChange{
				UserID:      e.UserID,
				OldPosition: old,
				NewPosition: e.Position,
			})
		}
	}
	return changes
}
