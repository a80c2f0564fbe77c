package streak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/metrics"
	inats "github.com/steady-platform/steady/internal/nats"
	"github.com/steady-platform/steady/internal/period"
)

var ErrAlreadyCheckedIn = errors.New("already checked in on this date")

// CheckInPublisher publishes accepted check-ins; *nats.Publisher satisfies it.
type CheckInPublisher interface {
	PublishCheckIn(ctx context.Context, event inats.CheckInEvent) error
}

// Service accepts daily check-ins and derives streak state from the activity
// history. Nothing here is stored beyond the activity records themselves;
// every snapshot is recomputed from the dates on read.
type Service struct {
	repo Repository
	pub  CheckInPublisher // optional
	now  func() time.Time
}

// NewService creates a streak Service. pub may be nil.
func NewService(repo Repository, pub CheckInPublisher) *Service {
	return &Service{repo: repo, pub: pub, now: time.Now}
}

// canonDate collapses a timestamp to its calendar day, re-expressed as UTC
// midnight. Consecutive days are then exactly 24h apart regardless of DST,
// which keeps the streak arithmetic plain subtraction.
func canonDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckIn records activity for the calendar day of occurredAt (now when
// zero). A second check-in on the same day returns ErrAlreadyCheckedIn.
func (s *Service) CheckIn(ctx context.Context, userID uuid.UUID, occurredAt time.Time, note string) (*ActivityRecord, error) {
	now := s.now()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	date := canonDate(occurredAt)

	exists, err := s.repo.ExistsOnDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyCheckedIn
	}

	rec := &ActivityRecord{
		ID:           uuid.New(),
		UserID:       userID,
		ActivityDate: date,
		OccurredAt:   occurredAt,
		Note:         note,
		CreatedAt:    now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}
	metrics.CheckInsTotal.Inc()

	if s.pub != nil {
		event := inats.CheckInEvent{
			RecordID:     rec.ID,
			UserID:       userID,
			ActivityDate: date.Format("2006-01-02"),
			Timestamp:    now,
		}
		if err := s.pub.PublishCheckIn(ctx, event); err != nil {
			slog.Warn("streak service: publishing check-in event", "error", err, "record_id", rec.ID)
		}
	}

	return rec, nil
}

// Snapshot computes the user's current streak state from their activity
// history. A streak survives one missed day: it stays current through the
// whole day after the last check-in and breaks only once that grace day has
// passed without activity.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	raw, err := s.repo.ListDates(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := canonDate(now)

	// Collapse to distinct calendar days first: the per-day invariant is
	// enforced on insert, but a racing double check-in can slip a duplicate
	// date through, and a zero gap must not read as a broken run.
	seen := make(map[time.Time]struct{}, len(raw))
	dates := make([]time.Time, 0, len(raw))
	for _, d := range raw {
		day := canonDate(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		dates = append(dates, day)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	snap := &Snapshot{}
	if len(dates) == 0 {
		return snap, nil
	}

	const day = 24 * time.Hour

	// Current streak: anchored on today or yesterday, then walk back while
	// days stay consecutive.
	latest := dates[0]
	if latest.Equal(today) || latest.Equal(today.Add(-day)) {
		snap.Active = true
		snap.CurrentStreak = 1
		start := latest
		for i := 1; i < len(dates); i++ {
			if dates[i-1].Sub(dates[i]) != day {
				break
			}
			snap.CurrentStreak++
			start = dates[i]
		}
		snap.StreakStart = &start
		end := latest
		snap.StreakEnd = &end
	}

	// Longest streak ever, scanning all consecutive runs.
	longest, run := 1, 1
	for i := 1; i < len(dates); i++ {
		if dates[i-1].Sub(dates[i]) == day {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	snap.LongestStreak = longest
	if snap.CurrentStreak > snap.LongestStreak {
		snap.LongestStreak = snap.CurrentStreak
	}

	weekStart := canonDate(period.WindowStart(period.Weekly, now))
	monthStart := canonDate(period.WindowStart(period.Monthly, now))
	for _, d := range dates {
		if !d.Before(weekStart) {
			snap.ThisWeekCount++
		}
		if !d.Before(monthStart) {
			snap.ThisMonthCount++
		}
	}

	return snap, nil
}

// Achievements reports milestone progress derived from the snapshot. Streak
// milestones stay achieved once the longest streak has passed them; the
// active-month milestone tracks check-ins in the current calendar month.
func (s *Service) Achievements(ctx context.Context, userID uuid.UUID) ([]Achievement, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	achievements := make([]Achievement, 0, len(streakMilestones)+1)
	for _, m := range streakMilestones {
		a := Achievement{
			Key:       m.key,
			Threshold: m.threshold,
			Achieved:  snap.LongestStreak >= m.threshold,
			Progress:  progressPercent(snap.CurrentStreak, m.threshold),
		}
		if a.Achieved {
			a.Progress = 100
		}
		achievements = append(achievements, a)
	}

	achievements = append(achievements, Achievement{
		Key:       "active_month",
		Threshold: activeMonthThreshold,
		Achieved:  snap.ThisMonthCount >= activeMonthThreshold,
		Progress:  progressPercent(snap.ThisMonthCount, activeMonthThreshold),
	})
	return achievements, nil
}

func progressPercent(have, want int) int {
	if want <= 0 {
		return 100
	}
	pct := have * 100 / want
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Suggestions returns short nudges derived from the snapshot: get started,
// save a streak running on its grace day, close in on a nearby milestone,
// or finish the monthly goal.
func (s *Service) Suggestions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []string
	today := canonDate(s.now())

	if snap.CurrentStreak == 0 {
		out = append(out, "Check in today to start a new streak.")
		return out, nil
	}

	if snap.StreakEnd != nil && snap.StreakEnd.Before(today) {
		out = append(out, fmt.Sprintf("Check in today to keep your %d-day streak alive.", snap.CurrentStreak))
	}

	for _, m := range streakMilestones {
		gap := m.threshold - snap.CurrentStreak
		if gap > 0 && gap <= 3 {
			out = append(out, fmt.Sprintf("Only %d more days to reach the %d-day milestone.", gap, m.threshold))
			break
		}
	}

	if snap.ThisMonthCount >= 20 && snap.ThisMonthCount < activeMonthThreshold {
		out = append(out, fmt.Sprintf("%d more active days this month for the monthly milestone.",
			activeMonthThreshold-snap.ThisMonthCount))
	}

	return out, nil
}

// Delete removes a check-in record, letting users undo a mistaken entry.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
