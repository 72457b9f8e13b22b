package cost

import (
	"errors"
	"time"
)

// ErrBudgetExceeded is returned by Admit when enforcement is enabled and a
// limit has already been reached.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Level represents the current state of budget consumption.
type Level int

const (
	// LevelOK indicates usage is below the warning threshold.
	LevelOK Level = iota
	// LevelWarning indicates usage is between the warning threshold and the limit.
	LevelWarning
	// LevelExhausted indicates a limit is fully consumed (>=100%).
	LevelExhausted
)

// String returns a human-readable representation of the level.
func (l Level) String() string {
	switch l {
	case LevelOK:
		return "OK"
	case LevelWarning:
		return "Warning"
	case LevelExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// DefaultWarningThreshold is the default fraction at which warnings begin.
const DefaultWarningThreshold = 0.80

// Default budget limits in USD.
const (
	DefaultDailyLimit  = 10.0
	DefaultWeeklyLimit = 50.0
)

// BudgetStatus is the spend picture after a call is recorded.
type BudgetStatus struct {
	DailySpend     float64 `json:"daily_spend"`
	WeeklySpend    float64 `json:"weekly_spend"`
	DailyLimit     float64 `json:"daily_limit"`
	WeeklyLimit    float64 `json:"weekly_limit"`
	DailyExceeded  bool    `json:"daily_exceeded"`
	WeeklyExceeded bool    `json:"weekly_exceeded"`
	Level          Level   `json:"level"`
}

// Exceeded reports whether either limit has been reached.
func (s BudgetStatus) Exceeded() bool {
	return s.DailyExceeded || s.WeeklyExceeded
}

// newBudgetStatus derives flags and level. A limit <= 0 is unlimited.
func newBudgetStatus(daily, weekly, dailyLimit, weeklyLimit, warning float64) BudgetStatus {
	s := BudgetStatus{
		DailySpend:  daily,
		WeeklySpend: weekly,
		DailyLimit:  dailyLimit,
		WeeklyLimit: weeklyLimit,
	}

	var pct float64
	if dailyLimit > 0 {
		s.DailyExceeded = daily >= dailyLimit
		pct = daily / dailyLimit
	}
	if weeklyLimit > 0 {
		s.WeeklyExceeded = weekly >= weeklyLimit
		if p := weekly / weeklyLimit; p > pct {
			pct = p
		}
	}

	switch {
	case pct >= 1.0:
		s.Level = LevelExhausted
	case pct >= warning:
		s.Level = LevelWarning
	default:
		s.Level = LevelOK
	}
	return s
}

// DayWindow returns [start of local day, next day start).
func DayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns [Monday 00:00 local, +7 days).
func WeekWindow(now time.Time) (time.Time, time.Time) {
	day, _ := DayWindow(now)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}
