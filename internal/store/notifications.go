package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/deskline-ops/triagebot/internal/apperr"
)

// EnqueueNotificationTx queues an outbound notification for the scheduler's
// drain step (spec.md §4.8 step 3). id is caller-supplied; enqueueing an id
// that is already present is a no-op.
func (s *Store) EnqueueNotificationTx(ctx context.Context, tx *sql.Tx, id string, groupID int64, kind, payloadJSON string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, group_id, kind, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, groupID, kind, payloadJSON, string(NotificationPending), at)
	if err != nil {
		return apperr.Storagef(err, "enqueue notification %s", id)
	}
	return nil
}

// ListPendingNotifications returns queued notifications awaiting delivery,
// oldest first.
func (s *Store) ListPendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, kind, payload, status, created_at, sent_at
		FROM notifications WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, string(NotificationPending), limit)
	if err != nil {
		return nil, apperr.Storagef(err, "list pending notifications")
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkNotificationSent marks a notification delivered.
func (s *Store) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?`,
		string(NotificationSent), at, id)
	if err != nil {
		return apperr.Storagef(err, "mark notification %s sent", id)
	}
	return nil
}

// MarkNotificationFailed marks a notification delivery attempt as failed.
// The row's status becomes failed, so ListPendingNotifications no longer
// returns it and later drains do not retry it.
func (s *Store) MarkNotificationFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE id = ?`,
		string(NotificationFailed), id)
	if err != nil {
		return apperr.Storagef(err, "mark notification %s failed", id)
	}
	return nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var sentAt sql.NullTime
	if err := row.Scan(&n.ID, &n.GroupID, &n.Kind, &n.Payload, &n.Status, &n.CreatedAt, &sentAt); err != nil {
		return nil, apperr.Storagef(err, "scan notification row")
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return &n, nil
}
