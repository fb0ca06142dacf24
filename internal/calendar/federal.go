package calendar

import "time"

const (
	mlkStart        = 1986
	juneteenthStart = 2021
)

// isFederalHoliday reports whether d is an observed US federal holiday.
// Fixed-date holidays falling on a weekend are observed on the nearest
// weekday (Saturday -> Friday, Sunday -> Monday).
func isFederalHoliday(d time.Time) bool {
	y, m := d.Year(), d.Month()

	switch m {
	case time.January:
		if y >= mlkStart && d.Equal(nthWeekday(y, time.January, time.Monday, 3)) {
			return true
		}
	case time.February:
		if d.Equal(nthWeekday(y, time.February, time.Monday, 3)) {
			return true
		}
	case time.May:
		if d.Equal(lastWeekday(y, time.May, time.Monday)) {
			return true
		}
	case time.September:
		if d.Equal(nthWeekday(y, time.September, time.Monday, 1)) {
			return true
		}
	case time.October:
		if d.Equal(nthWeekday(y, time.October, time.Monday, 2)) {
			return true
		}
	case time.November:
		if d.Equal(nthWeekday(y, time.November, time.Thursday, 4)) {
			return true
		}
	}

	// Observed dates can spill into an adjacent year (Jan 1 on a Saturday is
	// observed Dec 31), so check both the current and the next year.
	for _, yy := range []int{y, y + 1} {
		for _, fixed := range fixedHolidays(yy) {
			if d.Equal(observed(fixed)) {
				return true
			}
		}
	}
	return false
}

func fixedHolidays(y int) []time.Time {
	days := []time.Time{
		date(y, time.January, 1),
		date(y, time.July, 4),
		date(y, time.November, 11),
		date(y, time.December, 25),
	}
	if y >= juneteenthStart {
		days = append(days, date(y, time.June, 19))
	}
	return days
}

func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(y int, m time.Month, wd time.Weekday, n int) time.Time {
	d := date(y, m, 1)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(y int, m time.Month, wd time.Weekday) time.Time {
	d := date(y, m+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(wd) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
