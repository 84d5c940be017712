package licensing

import (
	"errors"
	"strings"
	"time"

	"github.com/addonhub/backend/internal/models"
	"gorm.io/gorm"
)

// Validator resolves license keys presented by remote installations
type Validator struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewValidator creates a validator. A nil clock means wall-clock time.
func NewValidator(db *gorm.DB, clock func() time.Time) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{db: db, clock: clock}
}

// Resolve checks format, existence and scope compatibility of a key and
// returns the license. Status and expiry are NOT enforced here; callers
// decide what states they accept (cleanup calls work on dead licenses).
func (v *Validator) Resolve(key, domain, journalPath string) (*models.License, error) {
	key = NormalizeKey(key)
	if !ValidKeyFormat(key) {
		return nil, ErrInvalidKeyFormat
	}
	if strings.TrimSpace(domain) == "" {
		return nil, ErrInvalidKeyFormat
	}

	var license models.License
	if err := v.db.Where("key = ?", key).First(&license).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	switch license.Scope {
	case models.LicenseScopeJournal:
		if strings.TrimSpace(journalPath) == "" {
			return nil, ErrScopeMismatch
		}
	case models.LicenseScopeInstallation:
		if strings.TrimSpace(journalPath) != "" {
			return nil, ErrScopeMismatch
		}
	}

	return &license, nil
}

// EffectiveStatus reports the license status as of the validator's clock
func (v *Validator) EffectiveStatus(license *models.License) models.LicenseStatus {
	return license.EffectiveStatus(v.clock())
}

// Now exposes the validator's clock so callers evaluating cached state
// use the same time source as status derivation.
func (v *Validator) Now() time.Time {
	return v.clock()
}
