package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/covenant-clm/covenant/internal/platform/httpx"
)

// Repository provides PostgreSQL access for notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a notification for a user.
func (r *Repository) Create(ctx context.Context, input CreateNotificationInput) (*Notification, error) {
	var n Notification
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, notification_type, title, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, notification_type, title, message, read, created_at
	`, input.UserID, input.Type, input.Title, input.Message).Scan(
		&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &n, nil
}

// ListForUser returns a user's notifications, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_id, notification_type, title, message, read, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// CountUnread returns how many unread notifications a user has.
func (r *Repository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one notification as read, scoped to its owner.
func (r *Repository) MarkRead(ctx context.Context, id, userID int64) (*Notification, error) {
	var n Notification
	err := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET read = TRUE
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, notification_type, title, message, read, created_at
	`, id, userID).Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("notification %d: %w", id, httpx.ErrNotFound)
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return &n, nil
}

// MarkAllRead flags every unread notification of a user as read and reports
// how many were affected.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}
