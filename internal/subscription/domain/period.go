package domain

import "time"

// AddPeriod advances t by months calendar months, clamping to the last day of
// the target month so a Jan 31 anchor bills on Feb 28 instead of Mar 3.
func AddPeriod(t time.Time, months int) time.Time {
	if months <= 0 {
		months = 1
	}
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
