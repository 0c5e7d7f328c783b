package notifications

import "time"

// NotificationType categorizes notifications for client rendering.
type NotificationType string

const (
	TypePaymentReminder NotificationType = "payment_reminder"
	TypeSystem          NotificationType = "system"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"userId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// CreateNotificationInput carries the fields persisted on insert.
type CreateNotificationInput struct {
	UserID  int64
	Type    NotificationType
	Title   string
	Message string
}
