package data

import "time"

// Timestamps are stored as fixed-width UTC strings so lexical and
// chronological order agree in SQL comparisons (RFC3339Nano trims trailing
// zeros and would not sort correctly).
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// tolerate second-precision rows
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
