package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies an in-app notification.
type NotificationType string

const (
	NotificationEventUpdate NotificationType = "event_update"
	NotificationNewEvent    NotificationType = "new_event"
	NotificationReminder    NotificationType = "reminder"
	NotificationOther       NotificationType = "other"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationEventUpdate, NotificationNewEvent, NotificationReminder, NotificationOther:
		return true
	}
	return false
}

// Notification is an in-app message for one user. Purging an event marks its
// notifications deleted instead of removing them.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	Deleted   bool             `json:"deleted"`
	EventID   *uuid.UUID       `json:"event_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
