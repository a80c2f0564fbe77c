package streak

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is one accepted check-in. ActivityDate is the user's
// calendar day normalized to UTC midnight; at most one record exists per
// user per day.
type ActivityRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	ActivityDate time.Time `json:"activity_date"`
	OccurredAt   time.Time `json:"occurred_at"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is the derived streak state for one user. It is computed on read
// from the activity history and never stored.
type Snapshot struct {
	CurrentStreak  int        `json:"current_streak"`
	LongestStreak  int        `json:"longest_streak"`
	Active         bool       `json:"active"`
	StreakStart    *time.Time `json:"streak_start,omitempty"`
	StreakEnd      *time.Time `json:"streak_end,omitempty"`
	ThisWeekCount  int        `json:"this_week_count"`
	ThisMonthCount int        `json:"this_month_count"`
}

// Achievement reports progress toward one milestone.
type Achievement struct {
	Key       string `json:"key"`
	Threshold int    `json:"threshold"`
	Achieved  bool   `json:"achieved"`
	Progress  int    `json:"progress"` // percent, capped at 100
}

// Streak-length milestones, in ascending order.
var streakMilestones = []struct {
	key       string
	threshold int
}{
	{"first_day", 1},
	{"one_week", 7},
	{"one_month", 30},
	{"hundred_days", 100},
}

// activeMonthThreshold is the active-days-this-month milestone.
const activeMonthThreshold = 25
