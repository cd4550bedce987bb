package report

import (
	"context"
	"time"

	"github.com/deskline-ops/triagebot/internal/config"
	"github.com/deskline-ops/triagebot/internal/store"
)

// Card is one headline KPI, the Go equivalent of the original generator's
// _build_cards dict list.
type Card struct {
	Label   string
	Value   string
	Subtext string
}

// LeaderRow is one leaderboard entry.
type LeaderRow struct {
	Handle             string
	DepartmentID       int64
	IncidentsTouched   int
	ResolvedSelf       int
	ResolvedOther      int
	TotalActiveSeconds int64
}

// BacklogRow is one open incident in the backlog section.
type BacklogRow struct {
	IncidentID  string
	Status      store.IncidentStatus
	Age         time.Duration
	Description string
}

// Summary holds the window's aggregate counts and timing averages.
type Summary struct {
	Created    int
	Closed     int
	Open       int
	AvgClaim   time.Duration
	AvgResolve time.Duration
}

// SLA holds SLA-attainment counts against the configured claim and
// resolution thresholds.
type SLA struct {
	ClaimTotal   int
	ClaimMet     int
	ResolveTotal int
	ResolveMet   int
}

// Report is the full aggregated result for one company and window.
type Report struct {
	Company     *store.Company
	Window      Window
	GeneratedAt time.Time
	Summary     Summary
	SLA         SLA
	Cards       []Card
	Leaderboard []LeaderRow
	Backlog     []BacklogRow
}

// Build aggregates a company's incidents for the window and renders the KPI
// cards and leaderboard/backlog sections. generatedAt is passed in rather
// than taken from clock.Now() so callers (and tests) control it explicitly.
func Build(ctx context.Context, s *store.Store, sla config.SLAConfig, company *store.Company, window Window, generatedAt time.Time) (*Report, error) {
	incidents, err := s.ListIncidentsInWindow(ctx, company.ID, window.StartUTC, window.EndUTC)
	if err != nil {
		return nil, err
	}
	contributions, err := s.ListParticipantContributionsInWindow(ctx, company.ID, window.StartUTC, window.EndUTC)
	if err != nil {
		return nil, err
	}
	backlogIncidents, err := s.ListOpenIncidents(ctx, company.ID, 50)
	if err != nil {
		return nil, err
	}

	summary, claimSLA := summarize(incidents, sla, generatedAt)

	r := &Report{
		Company:     company,
		Window:      window,
		GeneratedAt: generatedAt,
		Summary:     summary,
		SLA:         claimSLA,
		Cards:       buildCards(summary, claimSLA),
		Leaderboard: toLeaderRows(contributions),
		Backlog:     toBacklogRows(backlogIncidents, generatedAt),
	}
	return r, nil
}

func summarize(incidents []store.Incident, slaCfg config.SLAConfig, now time.Time) (Summary, SLA) {
	var summary Summary
	var sla SLA
	var claimTotalSeconds, resolveTotalSeconds float64
	var claimCount, resolveCount int

	claimTarget := slaCfg.UnclaimedNudge()
	resolveTarget := slaCfg.SummaryTimeout()

	for _, inc := range incidents {
		summary.Created++
		switch inc.Status {
		case store.Resolved, store.Closed:
			summary.Closed++
		default:
			summary.Open++
		}

		if inc.TFirstClaimed != nil {
			d := inc.TFirstClaimed.Sub(inc.TCreated)
			claimTotalSeconds += d.Seconds()
			claimCount++
			sla.ClaimTotal++
			if claimTarget > 0 && d <= claimTarget {
				sla.ClaimMet++
			}
		}
		if inc.TResolved != nil {
			d := inc.TResolved.Sub(inc.TCreated)
			resolveTotalSeconds += d.Seconds()
			resolveCount++
			sla.ResolveTotal++
			if resolveTarget > 0 && d <= resolveTarget {
				sla.ResolveMet++
			}
		}
	}

	if claimCount > 0 {
		summary.AvgClaim = time.Duration(claimTotalSeconds/float64(claimCount)) * time.Second
	}
	if resolveCount > 0 {
		summary.AvgResolve = time.Duration(resolveTotalSeconds/float64(resolveCount)) * time.Second
	}
	return summary, sla
}

func pct(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return roundTo1(100 * float64(numerator) / float64(denominator))
}

func roundTo1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

func buildCards(summary Summary, sla SLA) []Card {
	return []Card{
		{
			Label:   "Incidents Created",
			Value:   itoa(summary.Created),
			Subtext: "Closed " + itoa(summary.Closed) + " | Open " + itoa(summary.Open),
		},
		{
			Label:   "Avg Time to Claim",
			Value:   formatDurationShort(summary.AvgClaim),
			Subtext: "SLA met " + ftoa(pct(sla.ClaimMet, sla.ClaimTotal)) + "% (" + itoa(sla.ClaimMet) + "/" + itoa(sla.ClaimTotal) + ")",
		},
		{
			Label:   "Avg Time to Resolve",
			Value:   formatDurationShort(summary.AvgResolve),
			Subtext: "SLA met " + ftoa(pct(sla.ResolveMet, sla.ResolveTotal)) + "% (" + itoa(sla.ResolveMet) + "/" + itoa(sla.ResolveTotal) + ")",
		},
	}
}

func toLeaderRows(contributions []store.ParticipantContribution) []LeaderRow {
	rows := make([]LeaderRow, 0, len(contributions))
	for _, c := range contributions {
		rows = append(rows, LeaderRow{
			Handle:             c.Handle,
			DepartmentID:       c.DepartmentID,
			IncidentsTouched:   c.IncidentsTouched,
			ResolvedSelf:       c.ResolvedSelf,
			ResolvedOther:      c.ResolvedOther,
			TotalActiveSeconds: c.TotalActiveSeconds,
		})
	}
	return rows
}

func toBacklogRows(incidents []store.Incident, now time.Time) []BacklogRow {
	rows := make([]BacklogRow, 0, len(incidents))
	for _, inc := range incidents {
		rows = append(rows, BacklogRow{
			IncidentID:  inc.IncidentID,
			Status:      inc.Status,
			Age:         now.Sub(inc.TCreated),
			Description: inc.Description,
		})
	}
	return rows
}
