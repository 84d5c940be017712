package models

import (
	"time"
)

// NotificationEventType represents what happened
type NotificationEventType string

const (
	NotificationEventLicenseIssued   NotificationEventType = "license_issued"
	NotificationEventPaymentVerified NotificationEventType = "payment_verified"
	NotificationEventPaymentRejected NotificationEventType = "payment_rejected"
	NotificationEventOrderCancelled  NotificationEventType = "order_cancelled"
)

// NotificationEvent records an outbound notification emitted by the core.
// Actual delivery (email etc.) is handled by an external dispatcher that
// polls or subscribes; the core only guarantees the event exists.
type NotificationEvent struct {
	ID         uint                  `gorm:"column:id;primaryKey" json:"id"`
	Type       NotificationEventType `gorm:"column:type;size:50;not null;index" json:"type"`
	CustomerID uint                  `gorm:"column:customer_id;not null;index" json:"customer_id"`
	OrderID    *uint                 `gorm:"column:order_id;index" json:"order_id"`
	LicenseID  *uint                 `gorm:"column:license_id" json:"license_id"`
	Payload    string                `gorm:"column:payload;type:text" json:"payload"` // JSON details for the dispatcher
	Status     string                `gorm:"column:status;size:20;default:pending;index" json:"status"` // pending, dispatched, failed
	SentAt     *time.Time            `gorm:"column:sent_at" json:"sent_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;index" json:"created_at"`
}

func (NotificationEvent) TableName() string {
	return "notification_events"
}
