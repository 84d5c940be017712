package notify

import (
	"encoding/json"
	"log"

	"github.com/addonhub/backend/internal/models"
	"gorm.io/gorm"
)

// Dispatcher records outbound notification events. Delivery (email,
// webhooks) is an external concern; the core only guarantees an event row
// exists for every issuance and payment decision.
type Dispatcher struct {
	db *gorm.DB
}

func NewDispatcher(db *gorm.DB) *Dispatcher {
	return &Dispatcher{db: db}
}

// Emit records one event. Failures are logged, never propagated: a lost
// notification must not fail the business operation that triggered it.
func (d *Dispatcher) Emit(eventType models.NotificationEventType, customerID uint, orderID, licenseID *uint, details map[string]interface{}) {
	payload := ""
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			payload = string(raw)
		}
	}

	event := models.NotificationEvent{
		Type:       eventType,
		CustomerID: customerID,
		OrderID:    orderID,
		LicenseID:  licenseID,
		Payload:    payload,
		Status:     "pending",
	}

	if err := d.db.Create(&event).Error; err != nil {
		log.Printf("Notify: failed to record %s event for customer %d: %v", eventType, customerID, err)
		return
	}
	log.Printf("Notify: %s event %d recorded for customer %d", eventType, event.ID, customerID)
}
