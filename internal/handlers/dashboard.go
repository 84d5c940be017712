package handlers

import (
	"time"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

// DashboardHandler serves back-office overview stats
type DashboardHandler struct{}

func NewDashboardHandler() *DashboardHandler {
	return &DashboardHandler{}
}

// Stats returns the headline numbers for the admin dashboard
func (h *DashboardHandler) Stats(c *fiber.Ctx) error {
	var (
		totalCustomers      int64
		totalLicenses       int64
		activeLicenses      int64
		expiredLicenses     int64
		suspendedLicenses   int64
		pendingVerification int64
		openActivations     int64
		revenue30d          float64
	)

	database.DB.Model(&models.Customer{}).Count(&totalCustomers)
	database.DB.Model(&models.License{}).Count(&totalLicenses)
	database.DB.Model(&models.License{}).Where("status = ?", models.LicenseStatusActive).Count(&activeLicenses)
	database.DB.Model(&models.License{}).Where("status = ?", models.LicenseStatusExpired).Count(&expiredLicenses)
	database.DB.Model(&models.License{}).Where("status = ?", models.LicenseStatusSuspended).Count(&suspendedLicenses)
	database.DB.Model(&models.Order{}).Where("payment_status = ?", models.PaymentStatusPendingVerification).Count(&pendingVerification)
	database.DB.Model(&models.Activation{}).Where("deactivated_at IS NULL").Count(&openActivations)

	since := time.Now().AddDate(0, 0, -30)
	database.DB.Model(&models.Order{}).
		Where("payment_status = ? AND updated_at >= ?", models.PaymentStatusPaid, since).
		Select("COALESCE(SUM(total_amount), 0)").Scan(&revenue30d)

	// Licenses expiring within 30 days, for renewal outreach
	var expiringSoon int64
	cutoff := time.Now().AddDate(0, 0, 30)
	database.DB.Model(&models.License{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at BETWEEN ? AND ?",
			models.LicenseStatusActive, time.Now(), cutoff).
		Count(&expiringSoon)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_customers":      totalCustomers,
			"total_licenses":       totalLicenses,
			"active_licenses":      activeLicenses,
			"expired_licenses":     expiredLicenses,
			"suspended_licenses":   suspendedLicenses,
			"pending_verification": pendingVerification,
			"open_activations":     openActivations,
			"expiring_soon":        expiringSoon,
			"revenue_30d":          revenue30d,
		},
	})
}

// RecentAudit returns the latest audit log entries
func (h *DashboardHandler) RecentAudit(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	var logs []models.AuditLog
	if err := database.DB.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch audit logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
	})
}
