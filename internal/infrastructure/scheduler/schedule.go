package scheduler

import (
	"fmt"
	"time"

	"github.com/lasertag-hub/lasertag-rating-hub/pkg/timeutil"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// DailySchedule schedules a job once per day at a fixed Moscow wall-clock
// time. The snapshot job runs shortly after midnight so the finished day
// is folded into its own snapshot.
type DailySchedule struct {
	Hour   int
	Minute int
}

// NewDailySchedule creates a new DailySchedule.
func NewDailySchedule(hour, minute int) *DailySchedule {
	return &DailySchedule{
		Hour:   hour,
		Minute: minute,
	}
}

// Next returns the next occurrence of the configured wall-clock time
// strictly after t.
func (s *DailySchedule) Next(t time.Time) time.Time {
	return timeutil.NextDailyRun(t, s.Hour, s.Minute)
}

// String returns the string representation of the schedule.
func (s *DailySchedule) String() string {
	return fmt.Sprintf("@daily %02d:%02d MSK", s.Hour, s.Minute)
}
