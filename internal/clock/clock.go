// Package clock provides UTC time helpers shared across the store, lifecycle
// engine, and scheduler so that every persisted timestamp is unambiguous.
package clock

import "time"

// Now returns the current instant as an aware UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// ISO renders t in UTC as RFC 3339 (ISO-8601). The store does not use it;
// it hands time.Time values to the sqlite driver directly.
func ISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Parse interprets a timestamp string as UTC. Naive inputs (no offset) are
// read as if they already were UTC, matching legacy rows migrated from a
// schema generation that stored naive local time.
func Parse(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// MinutesSince returns whole minutes elapsed since t.
func MinutesSince(t time.Time) int {
	return int(Now().Sub(t).Minutes())
}

// SecondsBetween returns floor(max(0, end-start)) seconds, clamping negative
// deltas to zero to defend against clock skew on storage restore.
func SecondsBetween(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}
