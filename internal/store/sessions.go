package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// OpenSessionTx opens a new department session for an incident.
func (s *Store) OpenSessionTx(ctx context.Context, tx *sql.Tx, incidentID string, departmentID int64, assignedBy string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO department_sessions (incident_id, department_id, assigned_at, assigned_by, status)
		VALUES (?, ?, ?, ?, ?)
	`, incidentID, departmentID, at, assignedBy, string(SessionActive))
	if err != nil {
		return 0, apperr.Storagef(err, "open department session for %s", incidentID)
	}
	return res.LastInsertId()
}

// CloseActiveSessionTx closes the currently active department session on an
// incident (if any) with the given terminal status.
func (s *Store) CloseActiveSessionTx(ctx context.Context, tx *sql.Tx, incidentID string, status SessionStatus, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE department_sessions SET released_at = ?, status = ?
		WHERE incident_id = ? AND status = ?
	`, at, string(status), incidentID, string(SessionActive))
	if err != nil {
		return apperr.Storagef(err, "close active department session for %s", incidentID)
	}
	return nil
}

// MarkSessionClaimedTx stamps the active session's claimed_at the first
// time an incident is claimed in that assignment window.
func (s *Store) MarkSessionClaimedTx(ctx context.Context, tx *sql.Tx, incidentID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE department_sessions SET claimed_at = ?
		WHERE incident_id = ? AND status = ? AND claimed_at IS NULL
	`, at, incidentID, string(SessionActive))
	if err != nil {
		return apperr.Storagef(err, "mark session claimed for %s", incidentID)
	}
	return nil
}
