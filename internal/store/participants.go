package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
	"github.com/deskline-ops/triagebot/internal/clock"
)

// UpsertParticipantActiveTx creates or reactivates a participant rollup row
// for (incident, user, department): increments join_count, sets
// active_since = at and status = active.
func (s *Store) UpsertParticipantActiveTx(ctx context.Context, tx *sql.Tx, incidentID, userID string, departmentID int64, at time.Time) error {
	existing, err := getParticipant(ctx, tx, incidentID, userID, departmentID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (
				incident_id, user_id, department_id, first_claimed_at, last_claimed_at,
				active_since, total_active_seconds, join_count, status
			) VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)
		`, incidentID, userID, departmentID, at, at, at, string(ParticipantActive))
		if err != nil {
			return apperr.Storagef(err, "create participant %s/%s", incidentID, userID)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE participants
		SET last_claimed_at = ?, active_since = ?, join_count = join_count + 1, status = ?, resolved_at = NULL
		WHERE incident_id = ? AND user_id = ? AND department_id = ?
	`, at, at, string(ParticipantActive), incidentID, userID, departmentID)
	if err != nil {
		return apperr.Storagef(err, "reactivate participant %s/%s", incidentID, userID)
	}
	return nil
}

// FinalizeParticipantTx finalizes one participant rollup into a terminal
// status, accruing active time up to `at` and clearing active_since.
func (s *Store) FinalizeParticipantTx(ctx context.Context, tx *sql.Tx, incidentID, userID string, departmentID int64, status ParticipantStatus, at time.Time) error {
	existing, err := getParticipant(ctx, tx, incidentID, userID, departmentID)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperr.Storagef(nil, "finalize missing participant %s/%s/%d", incidentID, userID, departmentID)
	}

	var delta int64
	if existing.ActiveSince != nil {
		delta = clock.SecondsBetween(*existing.ActiveSince, at)
	}

	var resolvedAt any
	if status == ParticipantResolvedSelf || status == ParticipantResolvedOther || status == ParticipantClosed {
		resolvedAt = at
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE participants
		SET total_active_seconds = total_active_seconds + ?, active_since = NULL, status = ?, resolved_at = ?
		WHERE incident_id = ? AND user_id = ? AND department_id = ?
	`, delta, string(status), resolvedAt, incidentID, userID, departmentID)
	if err != nil {
		return apperr.Storagef(err, "finalize participant %s/%s", incidentID, userID)
	}
	return nil
}

// FinalizeAllActiveParticipantsTx finalizes every participant row on an
// incident that is currently active, giving the resolver resolverStatus and
// everyone else othersStatus. Used by resolve/auto_close (spec.md §4.4.6/.7).
func (s *Store) FinalizeAllActiveParticipantsTx(ctx context.Context, tx *sql.Tx, incidentID, resolverID string, resolverStatus, othersStatus ParticipantStatus, at time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, department_id FROM participants WHERE incident_id = ? AND status = ?
	`, incidentID, string(ParticipantActive))
	if err != nil {
		return apperr.Storagef(err, "list active participants for %s", incidentID)
	}
	type key struct {
		userID       string
		departmentID int64
	}
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.userID, &k.departmentID); err != nil {
			rows.Close()
			return apperr.Storagef(err, "scan participant key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, k := range keys {
		status := othersStatus
		if k.userID == resolverID {
			status = resolverStatus
		}
		if err := s.FinalizeParticipantTx(ctx, tx, incidentID, k.userID, k.departmentID, status, at); err != nil {
			return err
		}
	}
	return nil
}
