package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestAddBusinessDaysSkipsWeekends(t *testing.T) {
	c := New(date(2026, time.March, 1), 2)

	// Friday 2026-03-06 + 1 business day lands on Monday.
	got := c.AddBusinessDays(date(2026, time.March, 6), 1)
	assert.Equal(t, date(2026, time.March, 9), got)

	// Monday + 5 business days is the next Monday.
	got = c.AddBusinessDays(date(2026, time.March, 9), 5)
	assert.Equal(t, date(2026, time.March, 16), got)
}

func TestAddBusinessDaysSkipsHolidays(t *testing.T) {
	c := New(date(2026, time.June, 1), 2)

	// 2026-07-03 is Independence Day observed (July 4 is a Saturday).
	assert.False(t, c.IsBusinessDay(date(2026, time.July, 3)))

	// Thursday 2026-07-02 + 1 business day skips Fri (holiday) and the
	// weekend, landing on Monday 2026-07-06.
	got := c.AddBusinessDays(date(2026, time.July, 2), 1)
	assert.Equal(t, date(2026, time.July, 6), got)
}

func TestAddBusinessDaysBackwards(t *testing.T) {
	c := New(date(2026, time.March, 1), 1)

	// Monday - 1 business day is the previous Friday.
	got := c.AddBusinessDays(date(2026, time.March, 9), -1)
	assert.Equal(t, date(2026, time.March, 6), got)
}

func TestAddBusinessDaysPreservesClock(t *testing.T) {
	c := New(date(2026, time.March, 1), 1)
	in := time.Date(2026, time.March, 9, 9, 30, 15, 0, time.UTC)
	got := c.AddBusinessDays(in, 3)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, 30, got.Minute())
}

func TestEndOfDay(t *testing.T) {
	got := EndOfDay(date(2026, time.March, 9))
	assert.Equal(t, time.Date(2026, time.March, 9, 23, 59, 59, 0, time.UTC), got)
}

func TestHolidaySetCoversHorizon(t *testing.T) {
	c := New(date(2026, time.January, 2), 5)
	// Christmas 2030 falls inside the five-year horizon.
	assert.False(t, c.IsBusinessDay(date(2030, time.December, 25)))
	// Christmas 2031 falls outside it.
	assert.True(t, c.IsBusinessDay(date(2031, time.December, 25)))
}
