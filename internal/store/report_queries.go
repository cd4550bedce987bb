package store

import (
	"context"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// ListIncidentsInWindow returns every incident created in [start, end) for a
// company, oldest first, for the KPI report's summary/SLA/trend aggregation.
func (s *Store) ListIncidentsInWindow(ctx context.Context, companyID int64, start, end time.Time) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, incidentSelectSQL+`
		WHERE company_id = ? AND t_created >= ? AND t_created < ?
		ORDER BY t_created ASC
	`, companyID, start, end)
	if err != nil {
		return nil, apperr.Storagef(err, "list incidents in window for company %d", companyID)
	}
	return scanIncidents(rows)
}

// ListOpenIncidents returns a company's open (not Resolved or Closed)
// incidents, oldest first, for the report's backlog section. limit caps the
// row count the way the report's other sections cap at 50.
func (s *Store) ListOpenIncidents(ctx context.Context, companyID int64, limit int) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, incidentSelectSQL+`
		WHERE company_id = ? AND status NOT IN (?, ?)
		ORDER BY t_created ASC
		LIMIT ?
	`, companyID, string(Resolved), string(Closed), limit)
	if err != nil {
		return nil, apperr.Storagef(err, "list open incidents for company %d", companyID)
	}
	return scanIncidents(rows)
}

// ParticipantContribution is one user's aggregated contribution across a
// company's incidents in a report window, for the leaderboard section.
type ParticipantContribution struct {
	UserID             string
	Handle             string
	DepartmentID       int64
	IncidentsTouched   int
	ResolvedSelf       int
	ResolvedOther      int
	TotalActiveSeconds int64
}

// ListParticipantContributionsInWindow aggregates participant rollups across
// every incident a company created in [start, end), grouped by (user,
// department), ordered by self-resolutions then total active time — the same
// ranking the original KPI bot's leaderboard query used.
func (s *Store) ListParticipantContributionsInWindow(ctx context.Context, companyID int64, start, end time.Time) ([]ParticipantContribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			p.user_id,
			COALESCE(NULLIF(u.handle, ''), p.user_id) AS handle,
			p.department_id,
			COUNT(*) AS incidents_touched,
			SUM(CASE WHEN p.status = ? THEN 1 ELSE 0 END) AS resolved_self,
			SUM(CASE WHEN p.status = ? THEN 1 ELSE 0 END) AS resolved_other,
			SUM(p.total_active_seconds) AS total_active_seconds
		FROM participants p
		JOIN incidents i ON i.incident_id = p.incident_id
		LEFT JOIN users u ON u.id = p.user_id
		WHERE i.company_id = ? AND i.t_created >= ? AND i.t_created < ?
		GROUP BY p.user_id, p.department_id
		ORDER BY resolved_self DESC, total_active_seconds DESC
		LIMIT 50
	`, string(ParticipantResolvedSelf), string(ParticipantResolvedOther), companyID, start, end)
	if err != nil {
		return nil, apperr.Storagef(err, "list participant contributions for company %d", companyID)
	}
	defer rows.Close()

	var out []ParticipantContribution
	for rows.Next() {
		var c ParticipantContribution
		if err := rows.Scan(&c.UserID, &c.Handle, &c.DepartmentID, &c.IncidentsTouched,
			&c.ResolvedSelf, &c.ResolvedOther, &c.TotalActiveSeconds); err != nil {
			return nil, apperr.Storagef(err, "scan participant contribution row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
