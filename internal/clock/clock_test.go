package clock

import (
	"testing"
	"time"
)

func TestSecondsBetweenClampsNegative(t *testing.T) {
	start := Now()
	end := start.Add(-5 * time.Second)
	if got := SecondsBetween(start, end); got != 0 {
		t.Fatalf("expected 0 for negative delta, got %d", got)
	}
}

func TestSecondsBetween(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	if got := SecondsBetween(start, end); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
}

func TestParseNaiveTreatedAsUTC(t *testing.T) {
	got, err := Parse("2026-03-01T10:00:00")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Hour() != 10 {
		t.Fatalf("expected hour 10, got %d", got.Hour())
	}
}

func TestParseWithOffset(t *testing.T) {
	got, err := Parse("2026-03-01T10:00:00+00:00")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.March {
		t.Fatalf("unexpected parsed time: %v", got)
	}
}

func TestMinutesSince(t *testing.T) {
	past := Now().Add(-10 * time.Minute)
	if got := MinutesSince(past); got < 9 || got > 11 {
		t.Fatalf("expected ~10 minutes, got %d", got)
	}
}
