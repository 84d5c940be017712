package licensing

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/addonhub/backend/internal/models"
	"gorm.io/gorm"
)

// keyInsertAttempts bounds the generate-and-insert retry loop. The random
// space is large enough that more than one collision in a row means
// something else is wrong.
const keyInsertAttempts = 5

// StateMachine owns license lifecycle transitions. All writes go through
// here so invalid transitions are caught structurally instead of by ad hoc
// status comparisons scattered around handlers.
type StateMachine struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStateMachine creates a state machine. A nil clock means wall-clock time.
func NewStateMachine(db *gorm.DB, clock func() time.Time) *StateMachine {
	if clock == nil {
		clock = time.Now
	}
	return &StateMachine{db: db, clock: clock}
}

// IssueParams describes one license to issue. Scope, type, duration and
// max activations are snapshots of the product configuration at issuance.
type IssueParams struct {
	CustomerID     uint
	OrderID        *uint
	ProductID      uint
	Scope          models.LicenseScope
	Type           models.LicenseType
	Duration       models.LicenseDuration
	MaxActivations int
	Notes          string
}

// Issue creates a new active license inside the given transaction. The
// expiry is fixed from the duration at issuance time and is never
// recomputed from later catalog changes.
func (m *StateMachine) Issue(tx *gorm.DB, p IssueParams) (*models.License, error) {
	now := m.clock()

	var expiresAt *time.Time
	switch p.Duration {
	case models.LicenseDuration1Year:
		t := now.AddDate(1, 0, 0)
		expiresAt = &t
	case models.LicenseDuration2Years:
		t := now.AddDate(2, 0, 0)
		expiresAt = &t
	case models.LicenseDurationLifetime:
		expiresAt = nil
	default:
		return nil, fmt.Errorf("unknown license duration %q", p.Duration)
	}

	maxActivations := p.MaxActivations
	if p.Type == models.LicenseTypeUnlimited {
		maxActivations = models.UnlimitedActivations
	}
	if maxActivations < 1 {
		maxActivations = 1
	}

	license := models.License{
		CustomerID:     p.CustomerID,
		OrderID:        p.OrderID,
		ProductID:      p.ProductID,
		Scope:          p.Scope,
		Type:           p.Type,
		Duration:       p.Duration,
		MaxActivations: maxActivations,
		Status:         models.LicenseStatusActive,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		Notes:          p.Notes,
	}

	// Generate-and-insert with retry on key collision
	var lastErr error
	for attempt := 0; attempt < keyInsertAttempts; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		license.ID = 0
		license.Key = key

		if err := tx.Create(&license).Error; err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return &license, nil
	}
	return nil, fmt.Errorf("could not insert unique license key after %d attempts: %w", keyInsertAttempts, lastErr)
}

// Suspend pauses an active license. Revoked and already-expired licenses
// cannot be suspended.
func (m *StateMachine) Suspend(licenseID uint) (*models.License, error) {
	var license models.License
	if err := m.load(licenseID, &license); err != nil {
		return nil, err
	}

	if status := license.EffectiveStatus(m.clock()); status != models.LicenseStatusActive {
		return nil, &InvalidTransitionError{Status: status, Action: "suspend"}
	}

	if err := m.setStatus(&license, models.LicenseStatusSuspended); err != nil {
		return nil, err
	}
	return &license, nil
}

// Unsuspend resumes a suspended license. If its expiry passed while it was
// on hold it comes back as expired, not active.
func (m *StateMachine) Unsuspend(licenseID uint) (*models.License, error) {
	var license models.License
	if err := m.load(licenseID, &license); err != nil {
		return nil, err
	}

	if license.Status != models.LicenseStatusSuspended {
		return nil, &InvalidTransitionError{Status: license.Status, Action: "unsuspend"}
	}

	next := models.LicenseStatusActive
	if license.ExpiresAt != nil && !license.ExpiresAt.After(m.clock()) {
		next = models.LicenseStatusExpired
	}

	if err := m.setStatus(&license, next); err != nil {
		return nil, err
	}
	return &license, nil
}

// Revoke terminally disables a license and closes all of its open
// activations in the same transaction.
func (m *StateMachine) Revoke(licenseID uint) (*models.License, error) {
	var license models.License
	if err := m.load(licenseID, &license); err != nil {
		return nil, err
	}

	if license.Status == models.LicenseStatusRevoked {
		return nil, &InvalidTransitionError{Status: license.Status, Action: "revoke"}
	}

	now := m.clock()
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.License{}).
			Where("id = ?", license.ID).
			Update("status", models.LicenseStatusRevoked).Error; err != nil {
			return err
		}
		result := tx.Model(&models.Activation{}).
			Where("license_id = ? AND deactivated_at IS NULL", license.ID).
			Update("deactivated_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			log.Printf("StateMachine: revoke closed %d activation(s) for license %s", result.RowsAffected, license.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	license.Status = models.LicenseStatusRevoked
	return &license, nil
}

// Extend pushes the stored expiry out by the given number of months.
// Extending early never discards banked time; the addition is always on
// the stored expires_at, not on now. Lifetime licenses cannot be extended.
func (m *StateMachine) Extend(licenseID uint, months int) (*models.License, error) {
	if months <= 0 {
		return nil, fmt.Errorf("extension months must be positive, got %d", months)
	}

	var license models.License
	if err := m.load(licenseID, &license); err != nil {
		return nil, err
	}

	if license.Status == models.LicenseStatusRevoked {
		return nil, &InvalidTransitionError{Status: license.Status, Action: "extend"}
	}
	if license.ExpiresAt == nil {
		return nil, &InvalidTransitionError{Status: license.Status, Action: "extend"}
	}

	newExpiry := license.ExpiresAt.AddDate(0, months, 0)
	updates := map[string]interface{}{"expires_at": newExpiry}

	// An expired license whose new expiry is in the future becomes active
	// again; the expiry was the only thing wrong with it.
	if license.EffectiveStatus(m.clock()) == models.LicenseStatusExpired && newExpiry.After(m.clock()) {
		updates["status"] = models.LicenseStatusActive
	}

	if err := m.db.Model(&models.License{}).Where("id = ?", license.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	license.ExpiresAt = &newExpiry
	if s, ok := updates["status"]; ok {
		license.Status = s.(models.LicenseStatus)
	}
	return &license, nil
}

// MarkExpired persists the expired status for every active license whose
// expiry has passed. Suspended licenses are left alone; Unsuspend checks
// expiry on its own.
func (m *StateMachine) MarkExpired() (int64, error) {
	result := m.db.Model(&models.License{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.LicenseStatusActive, m.clock()).
		Update("status", models.LicenseStatusExpired)
	return result.RowsAffected, result.Error
}

func (m *StateMachine) load(id uint, dest *models.License) error {
	if err := m.db.First(dest, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		return err
	}
	return nil
}

func (m *StateMachine) setStatus(license *models.License, status models.LicenseStatus) error {
	if err := m.db.Model(&models.License{}).Where("id = ?", license.ID).Update("status", status).Error; err != nil {
		return err
	}
	license.Status = status
	return nil
}

// isUniqueViolation matches duplicate-key errors across the postgres and
// sqlite dialects without importing driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
