package types

import (
	"time"
)

// ISO8601 is the timestamp layout the destination expects on the wire
const ISO8601 = "2006-01-02T15:04:05Z07:00"

// FormatISO8601 renders t in UTC using the destination layout
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// DayFloor truncates t to midnight UTC. Interval arithmetic across the
// reconciliation passes works at day granularity.
func DayFloor(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysOverlap returns the number of whole days shared by the two
// half-open day intervals [aStart, aEnd) and [bStart, bEnd). Zero means
// the periods do not intersect.
func DaysOverlap(aStart, aEnd, bStart, bEnd time.Time) int {
	start := DayFloor(aStart)
	if b := DayFloor(bStart); b.After(start) {
		start = b
	}
	end := DayFloor(aEnd)
	if b := DayFloor(bEnd); b.Before(end) {
		end = b
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}

// PeriodsIntersect reports whether two service periods share at least one day
func PeriodsIntersect(aStart, aEnd, bStart, bEnd time.Time) bool {
	return DaysOverlap(aStart, aEnd, bStart, bEnd) > 0
}

// MonthsAgo returns the instant the given number of calendar months
// before now, used for the long-overdue write-off window.
func MonthsAgo(now time.Time, months int) time.Time {
	return now.AddDate(0, -months, 0)
}
