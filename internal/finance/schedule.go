package finance

import "time"

// AddMonths moves t forward by n calendar months, clamping the day to the end
// of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DueDates returns termMonths monthly due dates, the first one period after start.
func DueDates(start time.Time, termMonths int) []time.Time {
	if termMonths <= 0 {
		return nil
	}
	out := make([]time.Time, termMonths)
	for k := range out {
		out[k] = AddMonths(start, k+1)
	}
	return out
}
