package analytics

import (
	"math"
	"time"
)

// round2 rounds half away from zero to two decimal places
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percent returns part/total as a percentage rounded to two places, 0 when total is 0
func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

// ratio returns a/b rounded to two places, 0 when b is 0
func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return round2(float64(a) / float64(b))
}

// startOfDay truncates t to midnight in its location
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayRange widens [from, to] to cover both calendar days entirely
func dayRange(from, to time.Time) (time.Time, time.Time) {
	start := startOfDay(from)
	end := startOfDay(to).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// daySpan counts the calendar days in [from, to], inclusive
func daySpan(from, to time.Time) int {
	a, b := startOfDay(from), startOfDay(to)
	// rounded: a DST day lasts 23 or 25 hours
	days := int(math.Round(b.Sub(a).Hours()/24)) + 1
	if days < 1 {
		return 1
	}
	return days
}
