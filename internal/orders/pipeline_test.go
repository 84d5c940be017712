package orders

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/addonhub/backend/internal/discount"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/models"
	"github.com/addonhub/backend/internal/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	db       *gorm.DB
	clock    *testClock
	pipeline *Pipeline
	customer *models.Customer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db))

	clock := newTestClock()
	engine := discount.NewEngine(db, clock.Now)
	machine := licensing.NewStateMachine(db, clock.Now)
	notifier := notify.NewDispatcher(db)
	pipeline := NewPipeline(db, engine, machine, notifier, opts, clock.Now)

	customer := models.Customer{
		Email:    uuid.NewString() + "@example.org",
		Password: "x",
		IsActive: true,
	}
	require.NoError(t, db.Create(&customer).Error)

	return &fixture{db: db, clock: clock, pipeline: pipeline, customer: &customer}
}

func (f *fixture) seedProduct(t *testing.T, price float64, duration models.LicenseDuration) *models.Product {
	t.Helper()
	product := models.Product{
		Name:           "Plagiarism Scanner",
		Slug:           "plagiarism-scanner-" + uuid.NewString()[:8],
		Price:          price,
		LicenseScope:   models.LicenseScopeInstallation,
		LicenseType:    models.LicenseTypeSingleSite,
		Duration:       duration,
		MaxActivations: 1,
		IsActive:       true,
	}
	require.NoError(t, f.db.Create(&product).Error)
	return &product
}

func (f *fixture) submitWithProof(t *testing.T, cart []CartItem, code string) *models.Order {
	t.Helper()
	order, err := f.pipeline.SubmitOrder(f.customer.ID, cart, code)
	require.NoError(t, err)
	_, err = f.pipeline.SubmitPaymentProof(order.ID, ProofInput{
		BankName:       "First National",
		AccountName:    "Test Customer",
		TransferAmount: order.TotalAmount,
		TransferDate:   f.clock.Now(),
		ImageRef:       "proofs/" + order.OrderNumber + ".png",
	})
	require.NoError(t, err)
	return order
}

func TestSubmitOrderComputesTotals(t *testing.T) {
	f := newFixture(t, Options{TaxRatePercent: 10, PaymentDeadlineHrs: 72})
	p1 := f.seedProduct(t, 100, models.LicenseDuration1Year)
	p2 := f.seedProduct(t, 40, models.LicenseDuration1Year)

	require.NoError(t, f.db.Create(&models.DiscountCode{
		Code:          "TEN",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 10,
		UsageLimit:    5,
		IsActive:      true,
	}).Error)

	order, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 1},
	}, "ten")
	require.NoError(t, err)

	// subtotal 240, discount 24, tax 10% of 216 = 21.60, total 237.60
	assert.Equal(t, 240.0, order.SubTotal)
	assert.Equal(t, 24.0, order.Discount)
	assert.Equal(t, 21.60, order.Tax)
	assert.Equal(t, 237.60, order.TotalAmount)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, order.PaymentStatus)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), order.PaymentDeadline.UTC())
	assert.Len(t, order.Items, 2)
	assert.Contains(t, order.OrderNumber, "ORD-20250601-")

	// The discount claim and its usage record committed with the order
	var code models.DiscountCode
	require.NoError(t, f.db.Where("code = ?", "TEN").First(&code).Error)
	assert.Equal(t, 1, code.UsedCount)

	var usage models.DiscountUsage
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&usage).Error)
	assert.Equal(t, 24.0, usage.Amount)
}

func TestSubmitOrderSnapshotsPrices(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	order, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	// Later catalog edits never rewrite the order
	require.NoError(t, f.db.Model(product).Update("price", 999).Error)

	var reloaded models.Order
	require.NoError(t, f.db.Preload("Items").First(&reloaded, order.ID).Error)
	assert.Equal(t, 100.0, reloaded.Items[0].UnitPrice)
	assert.Equal(t, 100.0, reloaded.SubTotal)
}

func TestSubmitOrderRejectsEmptyAndInactive(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})

	_, err := f.pipeline.SubmitOrder(f.customer.ID, nil, "")
	assert.ErrorIs(t, err, ErrEmptyCart)

	product := f.seedProduct(t, 100, models.LicenseDuration1Year)
	require.NoError(t, f.db.Model(product).Update("is_active", false).Error)

	_, err = f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestSubmitOrderDiscountFailureRollsBack(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	require.NoError(t, f.db.Create(&models.DiscountCode{
		Code:          "GONE",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 10,
		UsageLimit:    1,
		UsedCount:     1,
		IsActive:      true,
	}).Error)

	_, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "GONE")
	assert.ErrorIs(t, err, discount.ErrCodeExhausted)

	// No half-created order survives the failed redemption
	var count int64
	f.db.Model(&models.Order{}).Count(&count)
	assert.Zero(t, count)
}

func TestSubmitProofTransitions(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	order, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	// Verification before any proof is rejected
	_, err = f.pipeline.Verify(order.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidOrderState)

	proof, err := f.pipeline.SubmitPaymentProof(order.ID, ProofInput{TransferAmount: 100, ImageRef: "proofs/x.png"})
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusPending, proof.Status)

	var reloaded models.Order
	require.NoError(t, f.db.First(&reloaded, order.ID).Error)
	assert.Equal(t, models.PaymentStatusPendingVerification, reloaded.PaymentStatus)

	// A second submission while under verification is rejected
	_, err = f.pipeline.SubmitPaymentProof(order.ID, ProofInput{TransferAmount: 100})
	assert.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestVerifyIssuesLicensesPerUnit(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	p1 := f.seedProduct(t, 100, models.LicenseDuration1Year)
	p2 := f.seedProduct(t, 50, models.LicenseDurationLifetime)

	order := f.submitWithProof(t, []CartItem{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 1},
	}, "")

	verified, err := f.pipeline.Verify(order.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, verified.PaymentStatus)
	assert.Equal(t, models.OrderStatusCompleted, verified.Status)

	// One license per item unit: 2 + 1
	var licenses []models.License
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Find(&licenses).Error)
	require.Len(t, licenses, 3)
	for _, lic := range licenses {
		assert.Equal(t, models.LicenseStatusActive, lic.Status)
		assert.Equal(t, f.customer.ID, lic.CustomerID)
		assert.True(t, licensing.ValidKeyFormat(lic.Key))
	}

	var proof models.PaymentProof
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&proof).Error)
	assert.Equal(t, models.ProofStatusVerified, proof.Status)
	require.NotNil(t, proof.VerifiedBy)
	assert.EqualValues(t, 7, *proof.VerifiedBy)

	// Notification events for the verification and each license
	var events []models.NotificationEvent
	require.NoError(t, f.db.Find(&events).Error)
	assert.Len(t, events, 4)

	// Verification is not repeatable
	_, err = f.pipeline.Verify(order.ID, 7)
	assert.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestVerifyRollsBackWholeOnIssuanceFailure(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	good := f.seedProduct(t, 100, models.LicenseDuration1Year)
	bad := f.seedProduct(t, 50, models.LicenseDuration1Year)

	order := f.submitWithProof(t, []CartItem{
		{ProductID: good.ID, Quantity: 1},
		{ProductID: bad.ID, Quantity: 1},
	}, "")

	// Corrupt the second product's duration so its issuance fails mid-batch
	require.NoError(t, f.db.Model(bad).Update("duration", "bogus").Error)

	_, err := f.pipeline.Verify(order.ID, 7)
	assert.ErrorIs(t, err, ErrIssuanceFailed)

	// The whole verification rolled back: no licenses, order still waiting
	var count int64
	f.db.Model(&models.License{}).Where("order_id = ?", order.ID).Count(&count)
	assert.Zero(t, count)

	var reloaded models.Order
	require.NoError(t, f.db.First(&reloaded, order.ID).Error)
	assert.Equal(t, models.PaymentStatusPendingVerification, reloaded.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, reloaded.Status)

	var proof models.PaymentProof
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&proof).Error)
	assert.Equal(t, models.ProofStatusPending, proof.Status)

	// After the catalog is fixed the same order verifies cleanly
	require.NoError(t, f.db.Model(bad).Update("duration", models.LicenseDuration1Year).Error)
	_, err = f.pipeline.Verify(order.ID, 7)
	require.NoError(t, err)
	f.db.Model(&models.License{}).Where("order_id = ?", order.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestRejectThenResubmit(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	order := f.submitWithProof(t, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")

	require.NoError(t, f.pipeline.Reject(order.ID, 7, "amount does not match"))

	var reloaded models.Order
	require.NoError(t, f.db.First(&reloaded, order.ID).Error)
	assert.Equal(t, models.PaymentStatusRejected, reloaded.PaymentStatus)

	var proof models.PaymentProof
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&proof).Error)
	assert.Equal(t, models.ProofStatusRejected, proof.Status)
	assert.Equal(t, "amount does not match", proof.RejectionReason)

	// Rejection is not repeatable
	assert.ErrorIs(t, f.pipeline.Reject(order.ID, 7, "again"), ErrInvalidOrderState)

	// The customer resubmits and verification succeeds this time
	newProof, err := f.pipeline.SubmitPaymentProof(order.ID, ProofInput{TransferAmount: 100, ImageRef: "proofs/retry.png"})
	require.NoError(t, err)
	assert.Equal(t, models.ProofStatusPending, newProof.Status)
	assert.Equal(t, proof.ID, newProof.ID, "resubmission replaces the proof row")

	_, err = f.pipeline.Verify(order.ID, 7)
	assert.NoError(t, err)
}

func TestCancelOverdue(t *testing.T) {
	f := newFixture(t, Options{PaymentDeadlineHrs: 48})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	stale, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	underReview := f.submitWithProof(t, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")

	f.clock.Advance(49 * time.Hour)

	fresh, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	n, err := f.pipeline.CancelOverdue()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var reloaded models.Order
	require.NoError(t, f.db.First(&reloaded, stale.ID).Error)
	assert.Equal(t, models.OrderStatusCancelled, reloaded.Status)

	// Orders under verification or within the deadline are untouched
	var reloadedUnderReview models.Order
	require.NoError(t, f.db.First(&reloadedUnderReview, underReview.ID).Error)
	assert.Equal(t, models.OrderStatusPending, reloadedUnderReview.Status)
	var reloadedFresh models.Order
	require.NoError(t, f.db.First(&reloadedFresh, fresh.ID).Error)
	assert.Equal(t, models.OrderStatusPending, reloadedFresh.Status)
}

func TestSubmitOrderTaxRateFromPreference(t *testing.T) {
	f := newFixture(t, Options{TaxRatePercent: 10, PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 200, models.LicenseDuration1Year)

	require.NoError(t, f.db.Create(&models.SystemPreference{
		Key:   "tax_rate_percent",
		Value: "5",
	}).Error)

	order, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)

	// The stored preference overrides the configured 10%
	assert.Equal(t, 10.0, order.Tax)
	assert.Equal(t, 210.0, order.TotalAmount)
}

func TestSubmitOrderTaxRateFallsBackOnBadPreference(t *testing.T) {
	f := newFixture(t, Options{TaxRatePercent: 10, PaymentDeadlineHrs: 72})
	product := f.seedProduct(t, 100, models.LicenseDuration1Year)

	require.NoError(t, f.db.Create(&models.SystemPreference{
		Key:   "tax_rate_percent",
		Value: "not-a-number",
	}).Error)

	order, err := f.pipeline.SubmitOrder(f.customer.ID, []CartItem{{ProductID: product.ID, Quantity: 1}}, "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, order.Tax)
}

func TestWithRetryRecoversOnce(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetrySkipsDomainErrors(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		return discount.ErrCodeExhausted
	})
	assert.ErrorIs(t, err, discount.ErrCodeExhausted)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withRetry(func() error {
		calls++
		return ErrInvalidOrderState
	})
	assert.ErrorIs(t, err, ErrInvalidOrderState)
	assert.Equal(t, 1, calls)
}

func TestWithRetrySurfacesTransientAfterSecondFailure(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, calls)
}
