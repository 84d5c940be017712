package licensing

import (
	"testing"
	"time"

	"github.com/addonhub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func issueWith(t *testing.T, db *gorm.DB, machine *StateMachine, p IssueParams) *models.License {
	t.Helper()
	var license *models.License
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		license, txErr = machine.Issue(tx, p)
		return txErr
	})
	require.NoError(t, err)
	return license
}

func baseParams(t *testing.T, db *gorm.DB) IssueParams {
	customer := seedCustomer(t, db)
	product := seedProduct(t, db, models.LicenseScopeInstallation, 1)
	return IssueParams{
		CustomerID:     customer.ID,
		ProductID:      product.ID,
		Scope:          models.LicenseScopeInstallation,
		Type:           models.LicenseTypeSingleSite,
		Duration:       models.LicenseDuration1Year,
		MaxActivations: 1,
	}
}

func TestIssueSetsExpiryFromDuration(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	p := baseParams(t, db)

	oneYear := issueWith(t, db, machine, p)
	require.NotNil(t, oneYear.ExpiresAt)
	assert.Equal(t, clock.Now().AddDate(1, 0, 0), oneYear.ExpiresAt.UTC())
	assert.Equal(t, models.LicenseStatusActive, oneYear.Status)
	assert.True(t, ValidKeyFormat(oneYear.Key))

	p.Duration = models.LicenseDuration2Years
	twoYears := issueWith(t, db, machine, p)
	require.NotNil(t, twoYears.ExpiresAt)
	assert.Equal(t, clock.Now().AddDate(2, 0, 0), twoYears.ExpiresAt.UTC())

	p.Duration = models.LicenseDurationLifetime
	lifetime := issueWith(t, db, machine, p)
	assert.Nil(t, lifetime.ExpiresAt)
	assert.True(t, lifetime.IsLifetime())
}

func TestIssueUnlimitedType(t *testing.T) {
	db := newTestDB(t)
	machine := NewStateMachine(db, newTestClock().Now)

	p := baseParams(t, db)
	p.Type = models.LicenseTypeUnlimited
	p.MaxActivations = 5 // ignored for unlimited

	license := issueWith(t, db, machine, p)
	assert.Equal(t, models.UnlimitedActivations, license.MaxActivations)
}

func TestIssueRejectsUnknownDuration(t *testing.T) {
	db := newTestDB(t)
	machine := NewStateMachine(db, newTestClock().Now)

	p := baseParams(t, db)
	p.Duration = models.LicenseDuration("6m")

	err := db.Transaction(func(tx *gorm.DB) error {
		_, txErr := machine.Issue(tx, p)
		return txErr
	})
	assert.Error(t, err)
}

func TestSuspendRequiresActive(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	license := issueWith(t, db, machine, baseParams(t, db))

	suspended, err := machine.Suspend(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusSuspended, suspended.Status)

	// A second suspend is an invalid transition
	_, err = machine.Suspend(license.ID)
	var it *InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, models.LicenseStatusSuspended, it.Status)
}

func TestSuspendRejectsRunOutLicense(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	license := issueWith(t, db, machine, baseParams(t, db))

	// Stored status is still "active" but the expiry has passed
	clock.Advance(2 * 366 * 24 * time.Hour)

	_, err := machine.Suspend(license.ID)
	var it *InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, models.LicenseStatusExpired, it.Status)
}

func TestUnsuspendRestoresByClock(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	license := issueWith(t, db, machine, baseParams(t, db))
	_, err := machine.Suspend(license.ID)
	require.NoError(t, err)

	restored, err := machine.Unsuspend(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, restored.Status)

	// Suspend again, let the expiry pass while on hold, and unsuspend: the
	// license lands on expired, not active
	_, err = machine.Suspend(license.ID)
	require.NoError(t, err)
	clock.Advance(2 * 366 * 24 * time.Hour)

	restored, err = machine.Unsuspend(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusExpired, restored.Status)
}

func TestRevokeClosesOpenActivations(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)
	ledger := NewLedger(db, clock.Now)
	validator := NewValidator(db, clock.Now)

	p := baseParams(t, db)
	p.MaxActivations = 3
	license := issueWith(t, db, machine, p)

	for _, domain := range []string{"a.example.org", "b.example.org"} {
		_, err := ledger.Activate(validator, ActivateRequest{Key: license.Key, Domain: domain})
		require.NoError(t, err)
	}

	revoked, err := machine.Revoke(license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, revoked.Status)

	open, err := ledger.OpenCount(license.ID)
	require.NoError(t, err)
	assert.Zero(t, open)

	// Revoke is terminal
	_, err = machine.Revoke(license.ID)
	var it *InvalidTransitionError
	assert.ErrorAs(t, err, &it)
}

func TestExtendAddsToStoredExpiry(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	license := issueWith(t, db, machine, baseParams(t, db))
	originalExpiry := license.ExpiresAt.UTC()

	extended, err := machine.Extend(license.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, originalExpiry.AddDate(0, 6, 0), extended.ExpiresAt.UTC())
}

func TestExtendReactivatesExpired(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	license := issueWith(t, db, machine, baseParams(t, db))

	clock.Advance(366 * 24 * time.Hour)
	_, err := machine.MarkExpired()
	require.NoError(t, err)

	// 12 more months puts the new expiry in the future again
	extended, err := machine.Extend(license.ID, 12)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, extended.Status)
	assert.True(t, extended.ExpiresAt.After(clock.Now()))
}

func TestExtendRejectsLifetimeAndRevoked(t *testing.T) {
	db := newTestDB(t)
	machine := NewStateMachine(db, newTestClock().Now)

	p := baseParams(t, db)
	p.Duration = models.LicenseDurationLifetime
	lifetime := issueWith(t, db, machine, p)

	var it *InvalidTransitionError
	_, err := machine.Extend(lifetime.ID, 12)
	assert.ErrorAs(t, err, &it)

	p.Duration = models.LicenseDuration1Year
	revoked := issueWith(t, db, machine, p)
	_, err = machine.Revoke(revoked.ID)
	require.NoError(t, err)

	_, err = machine.Extend(revoked.ID, 12)
	assert.ErrorAs(t, err, &it)
}

func TestMarkExpiredSweep(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	machine := NewStateMachine(db, clock.Now)

	expiring := issueWith(t, db, machine, baseParams(t, db))

	p := baseParams(t, db)
	p.Duration = models.LicenseDurationLifetime
	lifetime := issueWith(t, db, machine, p)

	suspended := issueWith(t, db, machine, baseParams(t, db))
	_, err := machine.Suspend(suspended.ID)
	require.NoError(t, err)

	clock.Advance(366 * 24 * time.Hour)

	n, err := machine.MarkExpired()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var reloaded models.License
	require.NoError(t, db.First(&reloaded, expiring.ID).Error)
	assert.Equal(t, models.LicenseStatusExpired, reloaded.Status)

	// Lifetime and suspended licenses are untouched by the sweep
	var reloadedLifetime models.License
	require.NoError(t, db.First(&reloadedLifetime, lifetime.ID).Error)
	assert.Equal(t, models.LicenseStatusActive, reloadedLifetime.Status)
	var reloadedSuspended models.License
	require.NoError(t, db.First(&reloadedSuspended, suspended.ID).Error)
	assert.Equal(t, models.LicenseStatusSuspended, reloadedSuspended.Status)
}
