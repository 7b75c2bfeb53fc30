package ledger

import "time"

// AddMonths adds n calendar months to t, keeping the day-of-month where the
// target month has it and clamping to the month's last day otherwise.
// Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	// Normalize via the first of the month so time.Date cannot overflow days.
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := daysIn(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
