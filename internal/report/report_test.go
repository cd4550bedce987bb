package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/store"
)

func TestComputeWindowDay(t *testing.T) {
	cfg := config.ReportConfig{Timezone: "UTC"}
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	w := ComputeWindow(cfg, "day", now)

	if w.Label != "2026-03-15" {
		t.Fatalf("unexpected label: %s", w.Label)
	}
	if !w.StartUTC.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", w.StartUTC)
	}
	if !w.EndUTC.Equal(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %v", w.EndUTC)
	}
}

func TestComputeWindowWeekEndsOnConfiguredDay(t *testing.T) {
	cfg := config.ReportConfig{Timezone: "UTC", WeekEndDay: "Sunday"}
	// 2026-03-18 is a Wednesday.
	now := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)
	w := ComputeWindow(cfg, "week", now)

	if w.EndLocal.Weekday() != time.Sunday {
		t.Fatalf("expected week to end on Sunday, got %s", w.EndLocal.Weekday())
	}
	if w.EndLocal.Before(now) {
		t.Fatalf("expected the week's end to be on or after now, got %v < %v", w.EndLocal, now)
	}
	if w.EndUTC.Sub(w.StartUTC) < 6*24*time.Hour {
		t.Fatalf("expected a 7-day window, got %v", w.EndUTC.Sub(w.StartUTC))
	}
}

func TestComputeWindowMonth(t *testing.T) {
	cfg := config.ReportConfig{Timezone: "UTC"}
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	w := ComputeWindow(cfg, "month", now)

	if w.Label != "February 2026" {
		t.Fatalf("unexpected label: %s", w.Label)
	}
	if !w.StartUTC.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month start: %v", w.StartUTC)
	}
	if !w.EndUTC.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month end: %v", w.EndUTC)
	}
}

func TestComputeWindowUnknownPeriodFallsBackToMonth(t *testing.T) {
	cfg := config.ReportConfig{Timezone: "UTC"}
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	w := ComputeWindow(cfg, "", now)
	if w.Label != "February 2026" {
		t.Fatalf("expected a month-shaped fallback window, got %s", w.Label)
	}
}

func TestComputeWindowInvalidTimezoneFallsBackToUTC(t *testing.T) {
	cfg := config.ReportConfig{Timezone: "Not/AZone"}
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	w := ComputeWindow(cfg, "day", now)
	if w.StartLocal.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", w.StartLocal.Location())
	}
}

func newTestStore(t *testing.T) (*store.Store, *store.Company, *store.Group) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "triage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	c, err := s.GetOrCreateCompany(ctx, "Acme")
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	g, err := s.CreateGroup(ctx, c.ID, "C1")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.ActivateGroup(ctx, g.ID); err != nil {
		t.Fatalf("activate group: %v", err)
	}
	return s, c, g
}

func TestBuildAggregatesSummaryAndSLA(t *testing.T) {
	s, c, g := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.CreateIncident(ctx, g.ID, c.ID, "reporter", "Reporter", "printer fire", "M1", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("create incident: %v", err)
	}

	depts, err := s.ListDepartments(ctx, c.ID)
	if err != nil || len(depts) == 0 {
		t.Fatalf("list departments: %v", err)
	}
	if err := s.AddDepartmentMember(ctx, depts[0].ID, "agent1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	window := Window{StartUTC: now.Add(-24 * time.Hour), EndUTC: now.Add(24 * time.Hour), Label: "test"}
	report, err := Build(ctx, s, config.SLAConfig{UnclaimedNudgeMinutes: 120, SummaryTimeoutMinutes: 120}, c, window, now)
	if err != nil {
		t.Fatalf("build report: %v", err)
	}

	if report.Summary.Created < 1 {
		t.Fatalf("expected at least one created incident, got %d", report.Summary.Created)
	}
	if report.Summary.Open < 1 {
		t.Fatalf("expected the freshly created incident counted open, got %d", report.Summary.Open)
	}
}

func TestRenderIncludesCompanyAndWindowLabel(t *testing.T) {
	r := &Report{
		Company:     &store.Company{ID: 1, Name: "Acme"},
		Window:      Window{Label: "2026-03-15"},
		GeneratedAt: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
		Cards:       []Card{{Label: "Incidents Created", Value: "3", Subtext: "Closed 1 | Open 2"}},
	}
	out := r.Render()
	for _, want := range []string{"Acme", "2026-03-15", "Incidents Created"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected rendered report to mention %q, got:\n%s", want, out)
		}
	}
}
