package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// AppendEventTx appends one append-only event row for incidentID. Exposed so
// internal/lifecycle can fold event logging into the same WriteTx as the
// mutation it records.
func (s *Store) AppendEventTx(ctx context.Context, tx *sql.Tx, incidentID string, typ EventType, actorID string, at time.Time, metadataJSON string) error {
	return appendEvent(ctx, tx, incidentID, typ, actorID, at, metadataJSON)
}

// CreateIncident opens a WriteTx, allocates a dense incident id, inserts the
// row, and appends its creation event, all atomically (spec.md §4.2).
func (s *Store) CreateIncident(ctx context.Context, groupID, companyID int64, reporterID, reporterHandle, description, sourceMessageID string, createdAt time.Time) (*Incident, error) {
	var inc *Incident
	err := s.WriteTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		inc, err = s.insertIncident(ctx, tx, groupID, companyID, reporterID, reporterHandle, description, sourceMessageID, createdAt)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, inc.IncidentID, EventCreate, reporterID, createdAt, "{}")
	})
	if err != nil {
		return nil, err
	}
	return inc, nil
}

// SetIncidentDepartmentTx assigns (or reassigns, on transfer) an incident's
// department and moves it into Awaiting_Claim, stamping t_department_assigned.
func (s *Store) SetIncidentDepartmentTx(ctx context.Context, tx *sql.Tx, incidentID string, departmentID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents SET department_id = ?, status = ?, t_department_assigned = ?
		WHERE incident_id = ?
	`, departmentID, string(AwaitingClaim), at, incidentID)
	if err != nil {
		return apperr.Storagef(err, "set department for %s", incidentID)
	}
	return nil
}

// SetIncidentStatusTx moves an incident to a new status without touching
// any other column. Used for the Awaiting_Claim <-> In_Progress toggles that
// don't carry their own dedicated timestamp.
func (s *Store) SetIncidentStatusTx(ctx context.Context, tx *sql.Tx, incidentID string, status IncidentStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE incidents SET status = ? WHERE incident_id = ?`, string(status), incidentID)
	if err != nil {
		return apperr.Storagef(err, "set status %s for %s", status, incidentID)
	}
	return nil
}

// TouchFirstLastClaimedTx stamps t_first_claimed (only if unset) and always
// refreshes t_last_claimed, on every successful claim.
func (s *Store) TouchFirstLastClaimedTx(ctx context.Context, tx *sql.Tx, incidentID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET t_first_claimed = COALESCE(t_first_claimed, ?), t_last_claimed = ?
		WHERE incident_id = ?
	`, at, at, incidentID)
	if err != nil {
		return apperr.Storagef(err, "touch claim timestamps for %s", incidentID)
	}
	return nil
}

// SetPendingResolutionTx records the user who requested resolution and
// moves the incident to Awaiting_Summary.
func (s *Store) SetPendingResolutionTx(ctx context.Context, tx *sql.Tx, incidentID, userID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = ?, pending_resolution_by_user_id = ?, t_resolution_requested = ?
		WHERE incident_id = ?
	`, string(AwaitingSummary), userID, at, incidentID)
	if err != nil {
		return apperr.Storagef(err, "set pending resolution for %s", incidentID)
	}
	return nil
}

// ClearPendingResolutionTx drops a pending resolution request, returning the
// incident to In_Progress (used when a claim lands while a resolution
// request is still pending).
func (s *Store) ClearPendingResolutionTx(ctx context.Context, tx *sql.Tx, incidentID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = ?, pending_resolution_by_user_id = NULL, t_resolution_requested = NULL
		WHERE incident_id = ?
	`, string(InProgress), incidentID)
	if err != nil {
		return apperr.Storagef(err, "clear pending resolution for %s", incidentID)
	}
	return nil
}

// SetResolvedTx finalizes an incident into a terminal status with its
// resolver and summary text.
func (s *Store) SetResolvedTx(ctx context.Context, tx *sql.Tx, incidentID, resolvedByUserID, summary string, status IncidentStatus, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = ?, resolved_by_user_id = ?, resolution_summary = ?,
		    pending_resolution_by_user_id = NULL, t_resolved = ?
		WHERE incident_id = ?
	`, string(status), resolvedByUserID, summary, at, incidentID)
	if err != nil {
		return apperr.Storagef(err, "set resolved for %s", incidentID)
	}
	return nil
}
