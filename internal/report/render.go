package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) }

// formatDurationShort renders a duration the way the original generator's
// _fmt_duration_short did: seconds under a minute, one decimal of minutes
// under 90 minutes, otherwise one decimal of hours.
func formatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "—"
	}
	seconds := d.Seconds()
	if seconds < 60 {
		return fmt.Sprintf("%ds", int(seconds))
	}
	minutes := seconds / 60
	if minutes < 90 {
		return fmt.Sprintf("%.1fm", minutes)
	}
	return fmt.Sprintf("%.1fh", minutes/60)
}

// Render returns a plain-text KPI summary: headline cards, then
// leaderboard and backlog tables. This is the report's terminal-facing
// output; spec.md's non-goals exclude a visual (HTML/graphical) renderer.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "KPI Report - %s - %s\n", r.Company.Name, r.Window.Label)
	fmt.Fprintf(&b, "Generated %s\n\n", r.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"))

	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	for _, c := range r.Cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Label, c.Value, c.Subtext)
	}
	tw.Flush()

	if len(r.Leaderboard) > 0 {
		b.WriteString("\nLeaderboard\n")
		tw = tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
		fmt.Fprintf(tw, "Handle\tDept\tTouched\tResolved(self/other)\tActive Time\n")
		for _, row := range r.Leaderboard {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d/%d\t%s\n",
				row.Handle, row.DepartmentID, row.IncidentsTouched,
				row.ResolvedSelf, row.ResolvedOther, formatDurationShort(secondsToDuration(row.TotalActiveSeconds)))
		}
		tw.Flush()
	}

	if len(r.Backlog) > 0 {
		b.WriteString("\nBacklog\n")
		tw = tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\tStatus\tAge\tDescription\n")
		for _, row := range r.Backlog {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.IncidentID, row.Status, formatDurationShort(row.Age), truncate(row.Description, 60))
		}
		tw.Flush()
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// WriteJSON marshals the report into a "reports" subdirectory, using only
// the last element of path as the file name (any directory part is
// dropped); a path whose last element is ".", "/" or ".." is rejected.
// Grounded on the teacher's
// kshark.WriteJSON/createSafeReportPath.
func WriteJSON(path string, r *Report) (string, error) {
	if path == "" {
		return "", errors.New("output path cannot be empty")
	}
	cleanName := filepath.Base(path)
	if cleanName == "." || cleanName == "/" || cleanName == ".." {
		return "", fmt.Errorf("invalid filename provided: %s", path)
	}
	dir := "reports"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create reports directory %q: %w", dir, err)
	}
	safePath := filepath.Join(dir, cleanName)

	f, err := os.Create(safePath)
	if err != nil {
		return safePath, err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return safePath, enc.Encode(r)
}
