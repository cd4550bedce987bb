// Package report implements the read-only KPI report renderer: it
// aggregates a company's incidents over a day/week/month window and renders
// a plain-text summary. spec.md's non-goals exclude the visual report
// output; this produces the data and a terminal-friendly rendering of it,
// not an HTML document.
//
// Grounded on the original KPI bot's KPIReportGenerator.compute_window and
// the teacher's internal/kshark report, whose Row/Report/PrintPretty shape
// this package's table rendering follows.
package report

import (
	"fmt"
	"time"

	"github.com/deskline-ops/triagebot/internal/config"
)

// Window is a reporting period expressed in both UTC (for querying) and the
// configured local timezone (for labeling).
type Window struct {
	StartUTC   time.Time
	EndUTC     time.Time
	StartLocal time.Time
	EndLocal   time.Time
	Label      string
}

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func resolveLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func resolveWeekEndDay(name string) time.Weekday {
	if d, ok := weekdayByName[normalizeDayName(name)]; ok {
		return d
	}
	return time.Sunday
}

func normalizeDayName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// ComputeWindow resolves the day/week/month reporting window for "now" in
// the configured timezone. An unrecognized period falls back to "month",
// matching the original generator's default branch.
func ComputeWindow(cfg config.ReportConfig, period string, now time.Time) Window {
	loc := resolveLocation(cfg.Timezone)
	nowLocal := now.In(loc)

	var startLocal, endLocal time.Time
	var label string

	switch period {
	case "day":
		startLocal = time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, loc)
		endLocal = startLocal.AddDate(0, 0, 1)
		label = startLocal.Format("2006-01-02")
	case "week":
		weekEnd := resolveWeekEndDay(cfg.WeekEndDay)
		daysUntilWeekEnd := (int(weekEnd) - int(nowLocal.Weekday()) + 7) % 7
		endDate := nowLocal.AddDate(0, 0, daysUntilWeekEnd)
		endLocal = time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, 0, loc)
		startLocal = time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -6)
		label = fmt.Sprintf("Week ending %s", endLocal.Format("2006-01-02"))
	default:
		startLocal = time.Date(nowLocal.Year(), nowLocal.Month(), 1, 0, 0, 0, 0, loc)
		endLocal = startLocal.AddDate(0, 1, 0)
		label = startLocal.Format("January 2006")
	}

	return Window{
		StartUTC:   startLocal.UTC(),
		EndUTC:     endLocal.UTC(),
		StartLocal: startLocal,
		EndLocal:   endLocal,
		Label:      label,
	}
}
