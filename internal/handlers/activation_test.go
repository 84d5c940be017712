package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newActivationApp(t *testing.T) (*fiber.App, *gorm.DB) {
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

	// Handlers read through the package-level connection; Redis stays nil
	// so the license cache is a no-op in tests
	database.DB = db
	database.Redis = nil

	validator := licensing.NewValidator(db, nil)
	ledger := licensing.NewLedger(db, nil)
	handler := NewActivationHandler(validator, ledger)

	app := fiber.New()
	app.Post("/remote/activate", handler.Activate)
	app.Post("/remote/check-in", handler.CheckIn)
	app.Post("/remote/deactivate", handler.Deactivate)
	app.Post("/remote/validate", handler.Validate)

	return app, db
}

func seedRemoteLicense(t *testing.T, db *gorm.DB, status models.LicenseStatus, maxActivations int) *models.License {
	t.Helper()

	customer := models.Customer{Email: uuid.NewString() + "@example.org", Password: "x", IsActive: true}
	require.NoError(t, db.Create(&customer).Error)
	product := models.Product{
		Name: "Review Assistant", Slug: "review-assistant-" + uuid.NewString()[:8],
		Price: 99, LicenseScope: models.LicenseScopeInstallation,
		LicenseType: models.LicenseTypeSingleSite, Duration: models.LicenseDuration1Year,
		MaxActivations: maxActivations, IsActive: true,
	}
	require.NoError(t, db.Create(&product).Error)

	key, err := licensing.GenerateKey()
	require.NoError(t, err)
	expires := time.Now().AddDate(1, 0, 0)
	license := models.License{
		Key:        key,
		CustomerID: customer.ID, ProductID: product.ID,
		Scope: models.LicenseScopeInstallation, Type: models.LicenseTypeSingleSite,
		Duration: models.LicenseDuration1Year, MaxActivations: maxActivations,
		Status: status, IssuedAt: time.Now(), ExpiresAt: &expires,
	}
	require.NoError(t, db.Create(&license).Error)
	return &license
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestRemoteActivateAndDeactivate(t *testing.T) {
	app, db := newActivationApp(t)
	license := seedRemoteLicense(t, db, models.LicenseStatusActive, 1)

	status, body := postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: license.Key, Domain: "ojs.university.edu", ClientVersion: "3.4.0",
	})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]interface{})
	activationID := uint(data["activation_id"].(float64))
	require.NotZero(t, activationID)

	// Second site: slots exhausted, conflict on the wire
	status, body = postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: license.Key, Domain: "other.university.edu",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "slots_exhausted", body["error_kind"])

	// Check-in for the active site succeeds
	status, _ = postJSON(t, app, "/remote/check-in", ActivationRequest{
		LicenseKey: license.Key, Domain: "ojs.university.edu",
	})
	assert.Equal(t, fiber.StatusOK, status)

	// Release the slot, then the other site can take it
	status, _ = postJSON(t, app, "/remote/deactivate", ActivationRequest{
		LicenseKey: license.Key, ActivationID: activationID,
	})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: license.Key, Domain: "other.university.edu",
	})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRemoteActivateErrorKinds(t *testing.T) {
	app, db := newActivationApp(t)

	status, body := postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: "garbage", Domain: "x.example.org",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_key_format", body["error_kind"])

	status, body = postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: "ADH-ABCD-EFGH-JKLM-NPQR", Domain: "x.example.org",
	})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "license_not_found", body["error_kind"])

	suspended := seedRemoteLicense(t, db, models.LicenseStatusSuspended, 1)
	status, body = postJSON(t, app, "/remote/activate", ActivationRequest{
		LicenseKey: suspended.Key, Domain: "x.example.org",
	})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "license_not_active", body["error_kind"])
}

func TestRemoteValidateReportsStatus(t *testing.T) {
	app, db := newActivationApp(t)
	license := seedRemoteLicense(t, db, models.LicenseStatusActive, 1)

	status, body := postJSON(t, app, "/remote/validate", ActivationRequest{
		LicenseKey: license.Key, Domain: "ojs.university.edu",
	})
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "active", data["status"])
	assert.Equal(t, "installation", data["scope"])
}
