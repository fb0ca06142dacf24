package calendar

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire format for trading dates across config, storage and HTTP.
const DateLayout = "2006-01-02"

// Calendar is a business-day calendar over a fixed holiday set.
// A Calendar is immutable after construction and safe for concurrent use.
type Calendar struct {
	holidays map[time.Time]struct{}
	extra    []time.Time
}

// New builds a calendar with US federal holidays plus the given extra closures.
func New(extra ...time.Time) *Calendar {
	c := &Calendar{holidays: make(map[time.Time]struct{})}
	for _, d := range extra {
		d = Day(d)
		c.holidays[d] = struct{}{}
		c.extra = append(c.extra, d)
	}
	sort.Slice(c.extra, func(i, j int) bool { return c.extra[i].Before(c.extra[j]) })
	return c
}

// NewFromStrings parses YYYY-MM-DD extra holidays.
func NewFromStrings(extra []string) (*Calendar, error) {
	days := make([]time.Time, 0, len(extra))
	for _, s := range extra {
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", s, err)
		}
		days = append(days, d)
	}
	return New(days...), nil
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsHoliday reports whether d falls on a configured or federal holiday.
func (c *Calendar) IsHoliday(d time.Time) bool {
	d = Day(d)
	if _, ok := c.holidays[d]; ok {
		return true
	}
	return isFederalHoliday(d)
}

// IsBusinessDay reports whether d is neither a weekend nor a holiday.
func (c *Calendar) IsBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(d)
}

// AddBusinessDays moves d by n business days. Starting from a non-business
// day, the first step lands on the nearest business day in the direction of
// travel, so Saturday+1 and Friday+1 are both Monday. n == 0 rolls forward
// to the next business day if d is not one.
func (c *Calendar) AddBusinessDays(d time.Time, n int) time.Time {
	d = Day(d)
	if n == 0 {
		for !c.IsBusinessDay(d) {
			d = d.AddDate(0, 0, 1)
		}
		return d
	}
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if c.IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// Range returns every business day in [from, to].
func (c *Calendar) Range(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil
	}
	out := make([]time.Time, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// ExtraHolidays returns the configured non-federal closures in ascending order.
func (c *Calendar) ExtraHolidays() []time.Time {
	out := make([]time.Time, len(c.extra))
	copy(out, c.extra)
	return out
}
