package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/jobchat/internal/model"
)

const notificationColumns = `id, recipient_id, type, category, job_id, section,
	payload, created_at, is_read`

// notificationRow mirrors the notifications table.
type notificationRow struct {
	ID          string `db:"id"`
	RecipientID string `db:"recipient_id"`
	Type        string `db:"type"`
	Category    string `db:"category"`
	JobID       string `db:"job_id"`
	Section     string `db:"section"`
	Payload     string `db:"payload"`
	CreatedAt   int64  `db:"created_at"`
	IsRead      bool   `db:"is_read"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:          r.ID,
		RecipientID: r.RecipientID,
		Type:        model.NotificationType(r.Type),
		Category:    model.Category(r.Category),
		JobID:       r.JobID,
		Section:     r.Section,
		CreatedAt:   fromNanos(r.CreatedAt),
		IsRead:      r.IsRead,
	}
	if r.Payload != "" && r.Payload != "{}" {
		if err := json.Unmarshal([]byte(r.Payload), &n.Payload); err != nil {
			return n, fmt.Errorf("decoding payload of notification %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// CreateNotification inserts n, generating its ID and timestamp when unset.
func (r *repos) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload := []byte("{}")
	if len(n.Payload) > 0 {
		var err error
		payload, err = json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("encoding notification payload: %w", err)
		}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id, type, category, job_id, section, payload, created_at, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, string(n.Type), string(n.Category), n.JobID, n.Section,
		string(payload), toNanos(n.CreatedAt), boolToInt(n.IsRead),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// GetNotification returns a notification by ID or ErrNotFound.
func (r *repos) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var row notificationRow
	err := sqlx.GetContext(ctx, r.q, &row,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id,
	)
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, notFound(err))
	}
	n, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotifications returns notifications matching filter, newest first.
func (r *repos) ListNotifications(
	ctx context.Context,
	filter NotificationFilter,
) ([]model.Notification, error) {
	where := []string{"recipient_id = ?"}
	args := []any{filter.RecipientID}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.UnreadOnly {
		where = append(where, "is_read = 0")
	}

	query := "SELECT " + notificationColumns + " FROM notifications WHERE " +
		strings.Join(where, " AND ") + " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []notificationRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing notifications for %s: %w", filter.RecipientID, err)
	}

	notifications := make([]model.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toModel()
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// CountUnreadNotifications counts the recipient's unread notifications.
func (r *repos) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = 0",
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications for %s: %w", recipientID, err)
	}
	return n, nil
}

// MarkNotificationRead sets is_read on one notification. It returns false
// when the notification was already read and ErrNotFound when it does not exist.
func (r *repos) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 0", id,
	)
	if err != nil {
		return false, fmt.Errorf("marking notification %s read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := r.GetNotification(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("checking notification %s: %w", id, err)
	}
	return false, nil
}

// MarkAllNotificationsRead marks every unread notification of the recipient
// as read and returns how many changed.
func (r *repos) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE recipient_id = ? AND is_read = 0",
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read for %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}
