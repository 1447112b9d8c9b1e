package domain

import (
	"strings"
	"time"
)

// Cycle is the statement period length. Boundaries are computed in UTC.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleWeekly  Cycle = "weekly"
	CycleDaily   Cycle = "daily"
)

func ParseCycle(value string) (Cycle, error) {
	switch Cycle(strings.ToLower(strings.TrimSpace(value))) {
	case "", CycleMonthly:
		return CycleMonthly, nil
	case CycleWeekly:
		return CycleWeekly, nil
	case CycleDaily:
		return CycleDaily, nil
	default:
		return "", ErrInvalidCycle
	}
}

// NextBoundary returns the first cycle boundary strictly after t.
func (c Cycle) NextBoundary(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch c {
	case CycleDaily:
		return day.AddDate(0, 0, 1)
	case CycleWeekly:
		// Monday is day zero.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, 7-offset)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
}
