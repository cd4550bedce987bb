package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// InsertClaimTx inserts a new active claim. Call inside a WriteTx.
func (s *Store) InsertClaimTx(ctx context.Context, tx *sql.Tx, incidentID, userID string, departmentID int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO claims (incident_id, user_id, department_id, claimed_at, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, incidentID, userID, departmentID, at)
	if err != nil {
		return apperr.Storagef(err, "insert claim for %s/%s", incidentID, userID)
	}
	return nil
}

// ReleaseClaimTx marks a user's active claim on an incident as released.
func (s *Store) ReleaseClaimTx(ctx context.Context, tx *sql.Tx, incidentID, userID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE claims SET released_at = ?, is_active = 0
		WHERE incident_id = ? AND user_id = ? AND is_active = 1
	`, at, incidentID, userID)
	if err != nil {
		return apperr.Storagef(err, "release claim for %s/%s", incidentID, userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storagef(err, "read rows affected releasing claim")
	}
	if n == 0 {
		return apperr.StateConflictf("no active claim for %s on incident %s", userID, incidentID)
	}
	return nil
}

// CloseActiveClaimsTx closes every active claim on an incident (used by
// resolve/auto_close/department transfer) and returns the claims that were
// closed, for participant finalization by the caller.
func (s *Store) CloseActiveClaimsTx(ctx context.Context, tx *sql.Tx, incidentID string, at time.Time) ([]Claim, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, incident_id, user_id, department_id, claimed_at, released_at, is_active
		FROM claims WHERE incident_id = ? AND is_active = 1
	`, incidentID)
	if err != nil {
		return nil, apperr.Storagef(err, "list active claims for %s", incidentID)
	}
	var closed []Claim
	for rows.Next() {
		var c Claim
		var releasedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.UserID, &c.DepartmentID, &c.ClaimedAt, &releasedAt, &c.IsActive); err != nil {
			rows.Close()
			return nil, apperr.Storagef(err, "scan claim row")
		}
		closed = append(closed, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `
		UPDATE claims SET released_at = ?, is_active = 0 WHERE incident_id = ? AND is_active = 1
	`, at, incidentID); err != nil {
		return nil, apperr.Storagef(err, "close active claims for %s", incidentID)
	}
	return closed, nil
}

// ActiveClaimForUserTx returns the active claim a user holds on an
// incident within tx, or nil if there is none.
func (s *Store) ActiveClaimForUserTx(ctx context.Context, tx *sql.Tx, incidentID, userID string) (*Claim, error) {
	return activeClaimForUser(ctx, tx, incidentID, userID)
}

// CountActiveClaimsTx counts active claims on an incident within tx.
func (s *Store) CountActiveClaimsTx(ctx context.Context, tx *sql.Tx, incidentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE incident_id = ? AND is_active = 1`, incidentID).Scan(&n)
	if err != nil {
		return 0, apperr.Storagef(err, "count active claims for %s", incidentID)
	}
	return n, nil
}
