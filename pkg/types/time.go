package types

import "time"

// TimestampLayout is the fixed-width UTC millisecond layout used for
// every persisted created_at. Fixed width keeps lexicographic order
// equal to chronological order, which the stores sort and prune by.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
