package handlers

import (
	"errors"
	"strconv"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// LicenseHandler exposes the admin license lifecycle surface
type LicenseHandler struct {
	machine *licensing.StateMachine
	ledger  *licensing.Ledger
}

func NewLicenseHandler(machine *licensing.StateMachine, ledger *licensing.Ledger) *LicenseHandler {
	return &LicenseHandler{machine: machine, ledger: ledger}
}

// List returns paginated licenses with optional filters
func (h *LicenseHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := database.DB.Model(&models.License{}).
		Preload("Customer").Preload("Product")

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if customerID := c.QueryInt("customer_id", 0); customerID > 0 {
		query = query.Where("customer_id = ?", customerID)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("key LIKE ?", "%"+licensing.NormalizeKey(search)+"%")
	}

	var total int64
	query.Count(&total)

	var licenses []models.License
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&licenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch licenses",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    licenses,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get returns one license with its activation history
func (h *LicenseHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid license ID",
		})
	}

	var license models.License
	if err := database.DB.Preload("Customer").Preload("Product").First(&license, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "License not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch license",
		})
	}

	var activations []models.Activation
	database.DB.Where("license_id = ?", license.ID).Order("activated_at DESC").Find(&activations)

	openSlots, _ := h.ledger.OpenCount(license.ID)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"license":     license,
			"activations": activations,
			"open_slots":  openSlots,
		},
	})
}

// IssueRequest describes a manual license issuance outside the order flow
// (support replacements, promo grants)
type IssueRequest struct {
	CustomerID uint   `json:"customer_id"`
	ProductID  uint   `json:"product_id"`
	Notes      string `json:"notes"`
}

// Issue manually issues a license from current product configuration
func (h *LicenseHandler) Issue(c *fiber.Ctx) error {
	var req IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	var customer models.Customer
	if err := database.DB.First(&customer, req.CustomerID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Customer not found",
		})
	}

	var product models.Product
	if err := database.DB.First(&product, req.ProductID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Product not found",
		})
	}

	var license *models.License
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		license, txErr = h.machine.Issue(tx, licensing.IssueParams{
			CustomerID:     customer.ID,
			ProductID:      product.ID,
			Scope:          product.LicenseScope,
			Type:           product.LicenseType,
			Duration:       product.Duration,
			MaxActivations: product.MaxActivations,
			Notes:          req.Notes,
		})
		return txErr
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to issue license",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "License issued",
		"data":    license,
	})
}

// Suspend pauses an active license
func (h *LicenseHandler) Suspend(c *fiber.Ctx) error {
	return h.transition(c, h.machine.Suspend, "License suspended")
}

// Unsuspend resumes a suspended license
func (h *LicenseHandler) Unsuspend(c *fiber.Ctx) error {
	return h.transition(c, h.machine.Unsuspend, "License unsuspended")
}

// Revoke permanently kills a license and closes its activations
func (h *LicenseHandler) Revoke(c *fiber.Ctx) error {
	return h.transition(c, h.machine.Revoke, "License revoked")
}

// Extend pushes the expiry of a non-lifetime license forward
func (h *LicenseHandler) Extend(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid license ID",
		})
	}

	var req struct {
		Months int `json:"months"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.Months <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Months must be positive",
		})
	}

	license, err := h.machine.Extend(uint(id), req.Months)
	if err != nil {
		return lifecycleError(c, err)
	}

	database.InvalidateLicenseCache(license.Key)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "License extended",
		"data":    license,
	})
}

// ResetActivations force-closes every open activation of a license
func (h *LicenseHandler) ResetActivations(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid license ID",
		})
	}

	var license models.License
	if err := database.DB.First(&license, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "License not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch license",
		})
	}

	closed, err := h.ledger.ResetAll(license.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to reset activations",
		})
	}

	database.InvalidateLicenseCache(license.Key)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Activations reset",
		"data": fiber.Map{
			"closed": closed,
		},
	})
}

// transition runs a simple id-only lifecycle action
func (h *LicenseHandler) transition(c *fiber.Ctx, op func(uint) (*models.License, error), okMessage string) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid license ID",
		})
	}

	license, err := op(uint(id))
	if err != nil {
		return lifecycleError(c, err)
	}

	database.InvalidateLicenseCache(license.Key)

	return c.JSON(fiber.Map{
		"success": true,
		"message": okMessage,
		"data":    license,
	})
}

// lifecycleError maps state machine errors to HTTP responses
func lifecycleError(c *fiber.Ctx, err error) error {
	var it *licensing.InvalidTransitionError
	switch {
	case errors.Is(err, licensing.ErrLicenseNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "License not found",
		})
	case errors.As(err, &it):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": it.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "License operation failed",
		})
	}
}
