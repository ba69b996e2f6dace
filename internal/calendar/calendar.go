// Package calendar provides business-day arithmetic over a fixed weekday
// set and a yearly holiday set computed a few years ahead at startup.
package calendar

import (
	"time"
)

// Calendar knows which days count as business days.
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a calendar whose holiday set covers yearsAhead years starting
// from the year of now.
func New(now time.Time, yearsAhead int) *Calendar {
	if yearsAhead < 1 {
		yearsAhead = 1
	}
	holidays := make(map[string]struct{})
	for y := now.Year(); y < now.Year()+yearsAhead; y++ {
		for _, d := range holidaysForYear(y) {
			holidays[d.Format(dateKey)] = struct{}{}
		}
	}
	return &Calendar{holidays: holidays}
}

const dateKey = "2006-01-02"

// IsBusinessDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[t.Format(dateKey)]
	return !holiday
}

// AddBusinessDays returns t advanced by n business days. A negative n walks
// backwards. The time of day is preserved.
func (c *Calendar) AddBusinessDays(t time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	for n > 0 {
		t = t.AddDate(0, 0, step)
		if c.IsBusinessDay(t) {
			n--
		}
	}
	return t
}

// EndOfDay returns t with the clock set to 23:59:59, covering the whole day
// when used as an inclusive upper bound.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// holidaysForYear computes the observed federal/state holiday set used by
// the portal for one calendar year.
func holidaysForYear(year int) []time.Time {
	days := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),   // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),                     // MLK Day
		nthWeekday(year, time.February, time.Monday, 3),                    // Presidents' Day
		lastWeekday(year, time.May, time.Monday),                           // Memorial Day
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),                   // Labor Day
		nthWeekday(year, time.October, time.Monday, 2),                     // Columbus Day
		observed(time.Date(year, time.November, 11, 0, 0, 0, 0, time.UTC)), // Veterans Day
		nthWeekday(year, time.November, time.Thursday, 4),                  // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)), // Christmas
	}
	return days
}

// observed shifts a fixed-date holiday off the weekend: Saturday is observed
// Friday, Sunday is observed Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(year int, month time.Month, day time.Weekday, n int) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	count := 0
	for {
		if t.Weekday() == day {
			count++
			if count == n {
				return t
			}
		}
		t = t.AddDate(0, 0, 1)
	}
}

func lastWeekday(year int, month time.Month, day time.Weekday) time.Time {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for t.Weekday() != day {
		t = t.AddDate(0, 0, -1)
	}
	return t
}
