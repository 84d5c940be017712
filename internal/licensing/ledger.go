package licensing

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/addonhub/backend/internal/models"
	"gorm.io/gorm"
)

// Ledger enforces per-license activation slot limits. The slot claim is a
// conditional insert (insert iff open-count < max) so two racing callers
// can never both land on the last slot; the per-license mutex keeps the
// in-process contention off the database.
type Ledger struct {
	db    *gorm.DB
	clock func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewLedger creates an activation ledger. A nil clock means wall-clock time.
func NewLedger(db *gorm.DB, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		db:    db,
		clock: clock,
		locks: make(map[uint]*sync.Mutex),
	}
}

// ActivateRequest carries what a remote installation sends to claim a slot
type ActivateRequest struct {
	Key           string
	Domain        string
	JournalPath   string
	ClientVersion string
	ClientIP      string
}

func (l *Ledger) lockFor(licenseID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[licenseID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[licenseID] = lock
	}
	return lock
}

// Activate claims an activation slot for the given installation. The call
// is idempotent for an identical (license, domain, journal_path): the
// existing open activation is refreshed and no new slot is consumed.
func (l *Ledger) Activate(validator *Validator, req ActivateRequest) (*models.Activation, error) {
	license, err := validator.Resolve(req.Key, req.Domain, req.JournalPath)
	if err != nil {
		return nil, err
	}

	switch license.EffectiveStatus(l.clock()) {
	case models.LicenseStatusActive:
		// proceed
	case models.LicenseStatusExpired:
		return nil, ErrLicenseExpired
	default:
		return nil, ErrLicenseNotActive
	}

	domain := normalizeDomain(req.Domain)
	journalPath := strings.TrimSpace(req.JournalPath)
	now := l.clock()

	lock := l.lockFor(license.ID)
	lock.Lock()
	defer lock.Unlock()

	var activation *models.Activation
	err = withRetry(func() error {
		return l.db.Transaction(func(tx *gorm.DB) error {
			// Idempotency: same site re-activating keeps its slot
			var existing models.Activation
			err := tx.Where("license_id = ? AND domain = ? AND journal_path = ? AND deactivated_at IS NULL",
				license.ID, domain, journalPath).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Updates(map[string]interface{}{
					"last_check_at":  now,
					"client_version": req.ClientVersion,
					"client_ip":      req.ClientIP,
				}).Error; err != nil {
					return err
				}
				existing.LastCheckAt = now
				activation = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			// Claim a slot only if one is free. The count and the insert are
			// a single statement so the limit holds even without the mutex.
			result := tx.Exec(`
				INSERT INTO activations (license_id, domain, journal_path, client_version, client_ip, activated_at, last_check_at)
				SELECT ?, ?, ?, ?, ?, ?, ?
				WHERE (SELECT COUNT(*) FROM activations WHERE license_id = ? AND deactivated_at IS NULL) < ?`,
				license.ID, domain, journalPath, req.ClientVersion, req.ClientIP, now, now,
				license.ID, license.MaxActivations)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrSlotsExhausted
			}

			var created models.Activation
			if err := tx.Where("license_id = ? AND domain = ? AND journal_path = ? AND deactivated_at IS NULL",
				license.ID, domain, journalPath).First(&created).Error; err != nil {
				return err
			}
			activation = &created
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Ledger: activation %d open for license %s on %s", activation.ID, license.Key, domain)
	return activation, nil
}

// CheckIn refreshes last_check_at for the open activation of the given
// installation. It never consumes or releases a slot, and a stale
// installation is never auto-deactivated here.
func (l *Ledger) CheckIn(validator *Validator, key, domain, journalPath string) (*models.Activation, error) {
	license, err := validator.Resolve(key, domain, journalPath)
	if err != nil {
		return nil, err
	}

	var activation models.Activation
	err = l.db.Where("license_id = ? AND domain = ? AND journal_path = ? AND deactivated_at IS NULL",
		license.ID, normalizeDomain(domain), strings.TrimSpace(journalPath)).First(&activation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}

	now := l.clock()
	if err := l.db.Model(&activation).Update("last_check_at", now).Error; err != nil {
		return nil, err
	}
	activation.LastCheckAt = now
	return &activation, nil
}

// Deactivate closes an activation and frees its slot. Cleanup is always
// allowed, even on revoked or expired licenses, and the call is idempotent.
// Only the key is resolved; no domain or scope check, since the client
// names the activation directly.
func (l *Ledger) Deactivate(key string, activationID uint) error {
	key = NormalizeKey(key)
	if !ValidKeyFormat(key) {
		return ErrInvalidKeyFormat
	}

	var license models.License
	if err := l.db.Where("key = ?", key).First(&license).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		return err
	}

	var activation models.Activation
	if err := l.db.Where("id = ? AND license_id = ?", activationID, license.ID).First(&activation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrActivationNotFound
		}
		return err
	}

	if activation.DeactivatedAt != nil {
		return nil // already closed
	}

	return l.db.Model(&activation).Update("deactivated_at", l.clock()).Error
}

// ResetAll closes every open activation of a license in one transaction,
// so a racing Activate either lands before the reset (and is closed by it)
// or after it (and sees every slot free).
func (l *Ledger) ResetAll(licenseID uint) (int64, error) {
	lock := l.lockFor(licenseID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock()
	var closed int64
	err := l.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Activation{}).
			Where("license_id = ? AND deactivated_at IS NULL", licenseID).
			Update("deactivated_at", now)
		closed = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, err
	}

	if closed > 0 {
		log.Printf("Ledger: reset closed %d activation(s) for license %d", closed, licenseID)
	}
	return closed, nil
}

// OpenCount returns the number of slots currently held on a license
func (l *Ledger) OpenCount(licenseID uint) (int64, error) {
	var count int64
	err := l.db.Model(&models.Activation{}).
		Where("license_id = ? AND deactivated_at IS NULL", licenseID).
		Count(&count).Error
	return count, err
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// withRetry retries a storage operation once with a short backoff when it
// failed for a non-domain reason (lock timeout, serialization failure).
// Domain errors surface immediately.
func withRetry(op func() error) error {
	err := op()
	if err == nil || isDomainError(err) {
		return err
	}

	time.Sleep(50 * time.Millisecond)
	if err = op(); err == nil || isDomainError(err) {
		return err
	}
	log.Printf("Ledger: storage conflict not resolved by retry: %v", err)
	return ErrTransient
}

func isDomainError(err error) bool {
	var it *InvalidTransitionError
	return errors.Is(err, ErrSlotsExhausted) ||
		errors.Is(err, ErrLicenseNotActive) ||
		errors.Is(err, ErrLicenseExpired) ||
		errors.Is(err, ErrScopeMismatch) ||
		errors.Is(err, ErrLicenseNotFound) ||
		errors.Is(err, ErrActivationNotFound) ||
		errors.Is(err, ErrInvalidKeyFormat) ||
		errors.As(err, &it)
}
