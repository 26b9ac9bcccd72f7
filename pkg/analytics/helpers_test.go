package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, percent(3, 0))
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 66.67, percent(2, 3))
	assert.Equal(t, 100.0, percent(4, 4))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(5, 0))
	assert.Equal(t, 2.5, ratio(5, 2))
	assert.Equal(t, 0.33, ratio(1, 3))
}

func TestDayRange(t *testing.T) {
	from := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	to := time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC)

	start, end := dayRange(from, to)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 3, 23, 59, 59, 999999999, time.UTC), end)
}

func TestDaySpan(t *testing.T) {
	d := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, daySpan(d, d))
	assert.Equal(t, 2, daySpan(d, d.Add(2*time.Hour)))
	assert.Equal(t, 31, daySpan(d, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, daySpan(d, d.AddDate(0, 0, -3)))
}

func TestDaySpanAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// clocks go forward on 2024-03-31
	from := time.Date(2024, 3, 30, 12, 0, 0, 0, loc)
	to := time.Date(2024, 4, 1, 12, 0, 0, 0, loc)
	assert.Equal(t, 3, daySpan(from, to))
}
