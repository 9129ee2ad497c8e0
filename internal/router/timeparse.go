package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var daysAgoPattern = regexp.MustCompile(`(\d+) days? ago`)

// ParseTimeRange extracts a [start, end) UTC interval from natural temporal
// markers in the query. The second return value reports whether a marker was
// found; without one, temporal queries fall back to the last seven days.
func ParseTimeRange(query string, now time.Time) (time.Time, time.Time, bool) {
	q := strings.ToLower(query)
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case strings.Contains(q, "yesterday"):
		return today.AddDate(0, 0, -1), today, true
	case strings.Contains(q, "today"):
		return today, today.AddDate(0, 0, 1), true
	case strings.Contains(q, "last week"):
		return today.AddDate(0, 0, -7), today, true
	case strings.Contains(q, "this week"):
		weekday := int(today.Weekday())
		return today.AddDate(0, 0, -weekday), today.AddDate(0, 0, 1), true
	case strings.Contains(q, "last month"):
		return today.AddDate(0, -1, 0), today, true
	case strings.Contains(q, "this month"):
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return monthStart, today.AddDate(0, 0, 1), true
	case strings.Contains(q, "last year"):
		return today.AddDate(-1, 0, 0), today, true
	}

	if m := daysAgoPattern.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			day := today.AddDate(0, 0, -n)
			return day, day.AddDate(0, 0, 1), true
		}
	}
	return time.Time{}, time.Time{}, false
}

// DefaultTimeRange is the fallback interval for temporal queries with no
// parseable marker: the last seven days.
func DefaultTimeRange(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -7), today.AddDate(0, 0, 1)
}
