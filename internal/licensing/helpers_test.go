package licensing

import (
	"fmt"
	"testing"
	"time"

	"github.com/addonhub/backend/internal/models"
	"github.com/google/uuid"
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

// testClock is a controllable clock shared by the engines under test
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

func seedCustomer(t *testing.T, db *gorm.DB) *models.Customer {
	t.Helper()
	customer := models.Customer{
		Email:    uuid.NewString() + "@example.org",
		Password: "x",
		FullName: "Test Customer",
		IsActive: true,
	}
	require.NoError(t, db.Create(&customer).Error)
	return &customer
}

func seedProduct(t *testing.T, db *gorm.DB, scope models.LicenseScope, maxActivations int) *models.Product {
	t.Helper()
	product := models.Product{
		Name:           "Citation Booster",
		Slug:           "citation-booster-" + uuid.NewString()[:8],
		Price:          149,
		LicenseScope:   scope,
		LicenseType:    models.LicenseTypeSingleSite,
		Duration:       models.LicenseDuration1Year,
		MaxActivations: maxActivations,
		IsActive:       true,
	}
	require.NoError(t, db.Create(&product).Error)
	return &product
}

func seedLicense(t *testing.T, db *gorm.DB, clock *testClock, scope models.LicenseScope, maxActivations int) *models.License {
	t.Helper()

	customer := seedCustomer(t, db)
	product := seedProduct(t, db, scope, maxActivations)

	machine := NewStateMachine(db, clock.Now)
	var license *models.License
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		license, txErr = machine.Issue(tx, IssueParams{
			CustomerID:     customer.ID,
			ProductID:      product.ID,
			Scope:          scope,
			Type:           models.LicenseTypeSingleSite,
			Duration:       models.LicenseDuration1Year,
			MaxActivations: maxActivations,
		})
		return txErr
	})
	require.NoError(t, err)
	return license
}
