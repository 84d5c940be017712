package discount

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/addonhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func seedCode(t *testing.T, db *gorm.DB, code models.DiscountCode) *models.DiscountCode {
	t.Helper()
	if code.Code == "" {
		code.Code = "LAUNCH25"
	}
	if code.UsageLimit == 0 {
		code.UsageLimit = 100
	}
	require.NoError(t, db.Create(&code).Error)
	return &code
}

func TestValidateHappyPath(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	seedCode(t, db, models.DiscountCode{
		Code:          "LAUNCH25",
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 25,
		IsActive:      true,
	})

	// Lookup is case and whitespace insensitive
	code, err := engine.Validate("  launch25 ", 1000)
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH25", code.Code)
}

func TestValidateFailureOrder(t *testing.T) {
	db := newTestDB(t)
	clock := newTestClock()
	engine := NewEngine(db, clock.Now)

	_, err := engine.Validate("MISSING", 1000)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	seedCode(t, db, models.DiscountCode{
		Code:          "DISABLED",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 10,
		IsActive:      false,
	})
	_, err = engine.Validate("DISABLED", 1000)
	assert.ErrorIs(t, err, ErrCodeInactive)

	future := clock.Now().Add(24 * time.Hour)
	seedCode(t, db, models.DiscountCode{
		Code:          "TOMORROW",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 10,
		IsActive:      true,
		ValidFrom:     &future,
	})
	_, err = engine.Validate("TOMORROW", 1000)
	assert.ErrorIs(t, err, ErrCodeNotYetValid)

	past := clock.Now().Add(-24 * time.Hour)
	seedCode(t, db, models.DiscountCode{
		Code:          "YESTERDAY",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 10,
		IsActive:      true,
		ValidUntil:    &past,
	})
	_, err = engine.Validate("YESTERDAY", 1000)
	assert.ErrorIs(t, err, ErrCodeExpired)

	seedCode(t, db, models.DiscountCode{
		Code:          "USEDUP",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 10,
		IsActive:      true,
		UsageLimit:    5,
		UsedCount:     5,
	})
	_, err = engine.Validate("USEDUP", 1000)
	assert.ErrorIs(t, err, ErrCodeExhausted)

	minimum := 500.0
	seedCode(t, db, models.DiscountCode{
		Code:            "BIGSPENDER",
		DiscountType:    models.DiscountTypeFixed,
		DiscountValue:   10,
		IsActive:        true,
		MinimumPurchase: &minimum,
	})
	_, err = engine.Validate("BIGSPENDER", 499.99)
	assert.ErrorIs(t, err, ErrMinimumNotMet)
	_, err = engine.Validate("BIGSPENDER", 500)
	assert.NoError(t, err)
}

func TestComputeDiscountPercentageWithCap(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	maxDiscount := 50000.0
	code := seedCode(t, db, models.DiscountCode{
		Code:            "TWENTY",
		DiscountType:    models.DiscountTypePercentage,
		DiscountValue:   20,
		MaximumDiscount: &maxDiscount,
		IsActive:        true,
	})

	// 20% of 500000 is 100000, capped at 50000
	assert.Equal(t, 50000.0, engine.ComputeDiscount(code, 500000))

	// Under the cap the percentage applies untouched
	assert.Equal(t, 200.0, engine.ComputeDiscount(code, 1000))
}

func TestComputeDiscountFixedCappedBySubtotal(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	code := seedCode(t, db, models.DiscountCode{
		Code:          "FLAT100",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 100,
		IsActive:      true,
	})

	assert.Equal(t, 100.0, engine.ComputeDiscount(code, 250))
	// A fixed discount never drives the total negative
	assert.Equal(t, 60.0, engine.ComputeDiscount(code, 60))
}

func TestApplyClaimsUsage(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	code := seedCode(t, db, models.DiscountCode{
		Code:          "ONCE",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 50,
		UsageLimit:    1,
		IsActive:      true,
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		applied, amount, err := engine.Apply(tx, "once", 400)
		require.NoError(t, err)
		assert.Equal(t, 50.0, amount)
		assert.Equal(t, 1, applied.UsedCount)
		return engine.RecordUsage(tx, applied.ID, 1, amount)
	})
	require.NoError(t, err)

	var reloaded models.DiscountCode
	require.NoError(t, db.First(&reloaded, code.ID).Error)
	assert.Equal(t, 1, reloaded.UsedCount)

	var usages []models.DiscountUsage
	require.NoError(t, db.Where("discount_code_id = ?", code.ID).Find(&usages).Error)
	require.Len(t, usages, 1)
	assert.Equal(t, 50.0, usages[0].Amount)

	// The single slot is gone
	err = db.Transaction(func(tx *gorm.DB) error {
		_, _, err := engine.Apply(tx, "ONCE", 400)
		return err
	})
	assert.ErrorIs(t, err, ErrCodeExhausted)
}

func TestApplyRollsBackWithCallerTransaction(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	code := seedCode(t, db, models.DiscountCode{
		Code:          "ROLLBACK",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 50,
		UsageLimit:    1,
		IsActive:      true,
	})

	boom := errors.New("order creation failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := engine.Apply(tx, "ROLLBACK", 400)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The claim rolled back with the order; the slot is free again
	var reloaded models.DiscountCode
	require.NoError(t, db.First(&reloaded, code.ID).Error)
	assert.Zero(t, reloaded.UsedCount)
}

func TestApplyMinimumFailsAfterClaim(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	minimum := 500.0
	code := seedCode(t, db, models.DiscountCode{
		Code:            "MIN500",
		DiscountType:    models.DiscountTypeFixed,
		DiscountValue:   50,
		UsageLimit:      10,
		MinimumPurchase: &minimum,
		IsActive:        true,
	})

	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := engine.Apply(tx, "MIN500", 100)
		return err
	})
	assert.ErrorIs(t, err, ErrMinimumNotMet)

	// The transaction rolled back, so the claimed slot was returned
	var reloaded models.DiscountCode
	require.NoError(t, db.First(&reloaded, code.ID).Error)
	assert.Zero(t, reloaded.UsedCount)
}

func TestConcurrentApplyLastSlot(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newTestClock().Now)

	code := seedCode(t, db, models.DiscountCode{
		Code:          "LASTONE",
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: 25,
		UsageLimit:    1,
		IsActive:      true,
	})

	const racers = 4
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				_, _, err := engine.Apply(tx, "LASTONE", 400)
				return err
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, ErrCodeExhausted)
		}
	}
	assert.Equal(t, 1, wins, "exactly one checkout may redeem the last slot")

	var reloaded models.DiscountCode
	require.NoError(t, db.First(&reloaded, code.ID).Error)
	assert.Equal(t, 1, reloaded.UsedCount)
}
