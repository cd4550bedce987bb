package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// insertIncident allocates a dense incident id and inserts the row in
// Awaiting_Department status. Call inside a WriteTx.
func (s *Store) insertIncident(ctx context.Context, tx *sql.Tx, groupID, companyID int64, reporterID, reporterHandle, description, sourceMessageID string, createdAt time.Time) (*Incident, error) {
	id, err := nextIncidentID(ctx, tx)
	if err != nil {
		return nil, apperr.Storagef(err, "allocate incident id")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (
			incident_id, group_id, company_id, created_by_id, created_by_handle,
			description, source_message_id, status, t_created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, groupID, companyID, reporterID, reporterHandle, description, sourceMessageID, string(AwaitingDepartment), createdAt)
	if err != nil {
		return nil, apperr.Storagef(err, "insert incident")
	}
	return &Incident{
		IncidentID:      id,
		GroupID:         groupID,
		CompanyID:       companyID,
		CreatedByID:     reporterID,
		CreatedByHandle: reporterHandle,
		Description:     description,
		SourceMessageID: sourceMessageID,
		Status:          AwaitingDepartment,
		TCreated:        createdAt,
	}, nil
}

// GetIncident fetches an incident snapshot by id.
func (s *Store) GetIncident(ctx context.Context, id string) (*Incident, error) {
	return getIncident(ctx, s.db, id)
}

func getIncident(ctx context.Context, q dbtx, id string) (*Incident, error) {
	row := q.QueryRowContext(ctx, incidentSelectSQL+` WHERE incident_id = ?`, id)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("incident %s not found", id)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get incident %s", id)
	}
	return inc, nil
}

// GetIncidentByPinnedMessage fetches an incident by its pinned chat message id.
func (s *Store) GetIncidentByPinnedMessage(ctx context.Context, messageID string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, incidentSelectSQL+` WHERE pinned_message_id = ?`, messageID)
	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("incident with pinned message %s not found", messageID)
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get incident by pinned message %s", messageID)
	}
	return inc, nil
}

// SetPinnedMessageID records the pinned chat message id after the router's
// first send for a newly created incident.
func (s *Store) SetPinnedMessageID(ctx context.Context, incidentID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET pinned_message_id = ? WHERE incident_id = ?`, messageID, incidentID)
	if err != nil {
		return apperr.Storagef(err, "set pinned message for %s", incidentID)
	}
	return nil
}

// ListUnclaimed returns incidents in Awaiting_Claim whose department was
// assigned at or before the cutoff, for the scheduler's unclaimed-nudge tick.
func (s *Store) ListUnclaimed(ctx context.Context, cutoff time.Time) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, incidentSelectSQL+`
		WHERE status = ? AND t_department_assigned IS NOT NULL AND t_department_assigned <= ?
	`, string(AwaitingClaim), cutoff)
	if err != nil {
		return nil, apperr.Storagef(err, "list unclaimed incidents")
	}
	return scanIncidents(rows)
}

// ListAwaitingSummaryTimedOut returns incidents in Awaiting_Summary whose
// resolution was requested at or before the cutoff, for the scheduler's
// summary-timeout tick.
func (s *Store) ListAwaitingSummaryTimedOut(ctx context.Context, cutoff time.Time) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, incidentSelectSQL+`
		WHERE status = ? AND t_resolution_requested IS NOT NULL AND t_resolution_requested <= ?
	`, string(AwaitingSummary), cutoff)
	if err != nil {
		return nil, apperr.Storagef(err, "list timed-out incidents")
	}
	return scanIncidents(rows)
}

// ActiveClaims returns the active claims on an incident, joined with
// claimant handles, ordered by claim time (oldest first — the "primary"
// active claim per spec.md §4.4's numeric semantics).
func (s *Store) ActiveClaims(ctx context.Context, incidentID string) ([]ClaimHandle, error) {
	return activeClaims(ctx, s.db, incidentID)
}

func activeClaims(ctx context.Context, q dbtx, incidentID string) ([]ClaimHandle, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.user_id, COALESCE(NULLIF(u.handle, ''), c.user_id), c.department_id, c.claimed_at
		FROM claims c
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.incident_id = ? AND c.is_active = 1
		ORDER BY c.claimed_at ASC, c.id ASC
	`, incidentID)
	if err != nil {
		return nil, apperr.Storagef(err, "list active claims for %s", incidentID)
	}
	defer rows.Close()

	var out []ClaimHandle
	for rows.Next() {
		var ch ClaimHandle
		if err := rows.Scan(&ch.UserID, &ch.Handle, &ch.DepartmentID, &ch.ClaimedAt); err != nil {
			return nil, apperr.Storagef(err, "scan claim row")
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// activeClaimForUser returns the active claim a user holds on an incident,
// if any (nil, nil when absent).
func activeClaimForUser(ctx context.Context, q dbtx, incidentID, userID string) (*Claim, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, incident_id, user_id, department_id, claimed_at, released_at, is_active
		FROM claims WHERE incident_id = ? AND user_id = ? AND is_active = 1
	`, incidentID, userID)
	var c Claim
	var releasedAt sql.NullTime
	err := row.Scan(&c.ID, &c.IncidentID, &c.UserID, &c.DepartmentID, &c.ClaimedAt, &releasedAt, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get active claim for %s/%s", incidentID, userID)
	}
	if releasedAt.Valid {
		c.ReleasedAt = &releasedAt.Time
	}
	return &c, nil
}

// getParticipant fetches the rollup row for (incident, user, department),
// or (nil, nil) when absent.
func getParticipant(ctx context.Context, q dbtx, incidentID, userID string, departmentID int64) (*Participant, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, incident_id, user_id, department_id, first_claimed_at, last_claimed_at,
		       active_since, total_active_seconds, join_count, status, resolved_at
		FROM participants WHERE incident_id = ? AND user_id = ? AND department_id = ?
	`, incidentID, userID, departmentID)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storagef(err, "get participant %s/%s/%d", incidentID, userID, departmentID)
	}
	return p, nil
}

// ListParticipants returns every participant rollup row for an incident.
func (s *Store) ListParticipants(ctx context.Context, incidentID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, user_id, department_id, first_claimed_at, last_claimed_at,
		       active_since, total_active_seconds, join_count, status, resolved_at
		FROM participants WHERE incident_id = ? ORDER BY first_claimed_at ASC
	`, incidentID)
	if err != nil {
		return nil, apperr.Storagef(err, "list participants for %s", incidentID)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, apperr.Storagef(err, "scan participant row")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanParticipant(row rowScanner) (*Participant, error) {
	var p Participant
	var activeSince, resolvedAt sql.NullTime
	err := row.Scan(&p.ID, &p.IncidentID, &p.UserID, &p.DepartmentID, &p.FirstClaimedAt, &p.LastClaimedAt,
		&activeSince, &p.TotalActiveSeconds, &p.JoinCount, &p.Status, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if activeSince.Valid {
		p.ActiveSince = &activeSince.Time
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Time
	}
	return &p, nil
}

// ListEvents returns the append-only event log for an incident, oldest first.
func (s *Store) ListEvents(ctx context.Context, incidentID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, type, actor_id, at, metadata FROM events
		WHERE incident_id = ? ORDER BY id ASC
	`, incidentID)
	if err != nil {
		return nil, apperr.Storagef(err, "list events for %s", incidentID)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Type, &e.ActorID, &e.At, &e.Metadata); err != nil {
			return nil, apperr.Storagef(err, "scan event row")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// appendEvent inserts one append-only event row. Call inside a transaction.
func appendEvent(ctx context.Context, tx *sql.Tx, incidentID string, typ EventType, actorID string, at time.Time, metadataJSON string) error {
	if metadataJSON == "" {
		metadataJSON = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (incident_id, type, actor_id, at, metadata) VALUES (?, ?, ?, ?, ?)
	`, incidentID, string(typ), actorID, at, metadataJSON)
	if err != nil {
		return apperr.Storagef(err, "append %s event for %s", typ, incidentID)
	}
	return nil
}

const incidentSelectSQL = `
SELECT incident_id, group_id, company_id, created_by_id, created_by_handle, description,
       pinned_message_id, source_message_id, department_id, status,
       pending_resolution_by_user_id, resolved_by_user_id, resolution_summary,
       t_created, t_department_assigned, t_first_claimed, t_last_claimed,
       t_resolution_requested, t_resolved
FROM incidents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var departmentID sql.NullInt64
	var pendingUser, resolvedBy sql.NullString
	var tDeptAssigned, tFirstClaimed, tLastClaimed, tResReq, tResolved sql.NullTime

	err := row.Scan(
		&inc.IncidentID, &inc.GroupID, &inc.CompanyID, &inc.CreatedByID, &inc.CreatedByHandle, &inc.Description,
		&inc.PinnedMessageID, &inc.SourceMessageID, &departmentID, &inc.Status,
		&pendingUser, &resolvedBy, &inc.ResolutionSummary,
		&inc.TCreated, &tDeptAssigned, &tFirstClaimed, &tLastClaimed, &tResReq, &tResolved,
	)
	if err != nil {
		return nil, err
	}
	if departmentID.Valid {
		inc.DepartmentID = &departmentID.Int64
	}
	if pendingUser.Valid {
		inc.PendingResolutionByUserID = &pendingUser.String
	}
	if resolvedBy.Valid {
		inc.ResolvedByUserID = &resolvedBy.String
	}
	if tDeptAssigned.Valid {
		inc.TDepartmentAssigned = &tDeptAssigned.Time
	}
	if tFirstClaimed.Valid {
		inc.TFirstClaimed = &tFirstClaimed.Time
	}
	if tLastClaimed.Valid {
		inc.TLastClaimed = &tLastClaimed.Time
	}
	if tResReq.Valid {
		inc.TResolutionRequested = &tResReq.Time
	}
	if tResolved.Valid {
		inc.TResolved = &tResolved.Time
	}
	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]Incident, error) {
	defer rows.Close()
	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, apperr.Storagef(err, "scan incident row")
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}
