// Package timeutil provides timezone utilities for Moscow time (UTC+3).
// The portal's arenas and players are located in Russia, and daily rank
// snapshots are keyed by the Moscow calendar day.
// Handles date keys, day boundaries, and timezone-aware time operations.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// MoscowTZ is the Moscow timezone (UTC+3, no DST).
// Russia abolished DST in 2014, so this is constant year-round.
var MoscowTZ = time.FixedZone("Europe/Moscow", 3*60*60)

// DateKeyLayout is the canonical layout for snapshot date keys.
const DateKeyLayout = "2006-01-02"

// Now returns the current time in Moscow timezone.
func Now() time.Time {
	return time.Now().In(MoscowTZ)
}

// ToMoscow converts a time to Moscow timezone.
func ToMoscow(t time.Time) time.Time {
	return t.In(MoscowTZ)
}

// Date creates a time in Moscow timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, MoscowTZ)
}

// StartOfDay returns the start of the day (00:00:00) in Moscow timezone.
func StartOfDay(t time.Time) time.Time {
	msk := ToMoscow(t)
	return time.Date(msk.Year(), msk.Month(), msk.Day(), 0, 0, 0, 0, MoscowTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in Moscow timezone.
func EndOfDay(t time.Time) time.Time {
	msk := ToMoscow(t)
	return time.Date(msk.Year(), msk.Month(), msk.Day(), 23, 59, 59, 999999999, MoscowTZ)
}

// DateKey returns the canonical "YYYY-MM-DD" key for the Moscow calendar
// day containing t. Snapshot tables and caches are keyed by this value.
func DateKey(t time.Time) string {
	return ToMoscow(t).Format(DateKeyLayout)
}

// ParseDateKey parses a "YYYY-MM-DD" key into the start of that Moscow day.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(DateKeyLayout, key, MoscowTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date key %q: %w", key, err)
	}
	return t, nil
}

// SameDay reports whether two times fall on the same Moscow calendar day.
func SameDay(a, b time.Time) bool {
	am, bm := ToMoscow(a), ToMoscow(b)
	return am.Year() == bm.Year() && am.YearDay() == bm.YearDay()
}

// DaysBetween returns the number of whole Moscow calendar days from a to b.
// Negative if b is before a.
func DaysBetween(a, b time.Time) int {
	start := StartOfDay(a)
	end := StartOfDay(b)
	return int(end.Sub(start).Hours() / 24)
}

// NextDailyRun returns the next occurrence of hour:minute Moscow time
// strictly after t. Used to schedule the daily snapshot job.
func NextDailyRun(t time.Time, hour, minute int) time.Time {
	msk := ToMoscow(t)
	next := time.Date(msk.Year(), msk.Month(), msk.Day(), hour, minute, 0, 0, MoscowTZ)
	if !next.After(msk) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
