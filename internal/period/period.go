package period

import "time"

// Period is a recurring quota window kind.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// weekStartDay is the local-calendar day a weekly window begins on.
const weekStartDay = time.Sunday

// Valid reports whether p is a known period kind.
func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// All lists every period kind, in ascending window size.
func All() []Period {
	return []Period{Daily, Weekly, Monthly, Yearly}
}

// WindowStart returns the start of the window containing ref, in ref's
// location. For any t: WindowStart(p, t) <= t < NextReset(p, t).
func WindowStart(p Period, ref time.Time) time.Time {
	y, m, d := ref.Date()
	loc := ref.Location()

	switch p {
	case Weekly:
		midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
		offset := int(midnight.Weekday()) - int(weekStartDay)
		if offset < 0 {
			offset += 7
		}
		return midnight.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case Yearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default: // Daily, and the safe fallback for unknown kinds
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// NextReset returns the first instant at or after which the window
// containing ref rolls over. Derived from WindowStart so the two stay
// consistent across month lengths and DST transitions.
func NextReset(p Period, ref time.Time) time.Time {
	start := WindowStart(p, ref)
	switch p {
	case Weekly:
		return start.AddDate(0, 0, 7)
	case Monthly:
		return start.AddDate(0, 1, 0)
	case Yearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
