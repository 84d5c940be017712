package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/discount"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// DiscountHandler exposes the admin discount code surface plus the
// public validation preview used by the storefront cart.
type DiscountHandler struct {
	engine *discount.Engine
}

func NewDiscountHandler(engine *discount.Engine) *DiscountHandler {
	return &DiscountHandler{engine: engine}
}

// DiscountCodeRequest is the create/update payload
type DiscountCodeRequest struct {
	Code            string     `json:"code"`
	DiscountType    string     `json:"discount_type"`
	DiscountValue   float64    `json:"discount_value"`
	UsageLimit      int        `json:"usage_limit"`
	ValidFrom       *time.Time `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until"`
	MinimumPurchase *float64   `json:"minimum_purchase"`
	MaximumDiscount *float64   `json:"maximum_discount"`
	IsActive        *bool      `json:"is_active"`
	Description     string     `json:"description"`
}

func (r *DiscountCodeRequest) validate() string {
	if discount.Normalize(r.Code) == "" {
		return "Code is required"
	}
	switch models.DiscountType(r.DiscountType) {
	case models.DiscountTypePercentage:
		if r.DiscountValue <= 0 || r.DiscountValue > 100 {
			return "Percentage value must be between 0 and 100"
		}
	case models.DiscountTypeFixed:
		if r.DiscountValue <= 0 {
			return "Fixed discount value must be positive"
		}
	default:
		return "Discount type must be percentage or fixed"
	}
	if r.UsageLimit < 1 {
		return "Usage limit must be at least 1"
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom) {
		return "valid_until must be after valid_from"
	}
	return ""
}

// List returns paginated discount codes
func (h *DiscountHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := database.DB.Model(&models.DiscountCode{})
	if search := c.Query("search"); search != "" {
		query = query.Where("code LIKE ?", "%"+discount.Normalize(search)+"%")
	}

	var total int64
	query.Count(&total)

	var codes []models.DiscountCode
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&codes).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch discount codes",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    codes,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get returns one discount code with its redemption history
func (h *DiscountHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid discount code ID",
		})
	}

	var code models.DiscountCode
	if err := database.DB.First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Discount code not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch discount code",
		})
	}

	var usages []models.DiscountUsage
	database.DB.Where("discount_code_id = ?", code.ID).Order("created_at DESC").Find(&usages)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"code":   code,
			"usages": usages,
		},
	})
}

// Create creates a new discount code
func (h *DiscountHandler) Create(c *fiber.Ctx) error {
	var req DiscountCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": msg,
		})
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	code := models.DiscountCode{
		Code:            discount.Normalize(req.Code),
		DiscountType:    models.DiscountType(req.DiscountType),
		DiscountValue:   req.DiscountValue,
		UsageLimit:      req.UsageLimit,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		MinimumPurchase: req.MinimumPurchase,
		MaximumDiscount: req.MaximumDiscount,
		IsActive:        isActive,
		Description:     req.Description,
	}

	if err := database.DB.Create(&code).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": "Discount code already exists",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Discount code created",
		"data":    code,
	})
}

// Update edits a discount code. The code string and used_count are
// immutable here; usage accounting belongs to the engine alone.
func (h *DiscountHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid discount code ID",
		})
	}

	var code models.DiscountCode
	if err := database.DB.First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Discount code not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch discount code",
		})
	}

	var req DiscountCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	req.Code = code.Code // immutable
	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": msg,
		})
	}
	if req.UsageLimit < code.UsedCount {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Usage limit cannot be below the current used count",
		})
	}

	updates := map[string]interface{}{
		"discount_type":    req.DiscountType,
		"discount_value":   req.DiscountValue,
		"usage_limit":      req.UsageLimit,
		"valid_from":       req.ValidFrom,
		"valid_until":      req.ValidUntil,
		"minimum_purchase": req.MinimumPurchase,
		"maximum_discount": req.MaximumDiscount,
		"description":      req.Description,
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if err := database.DB.Model(&code).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update discount code",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Discount code updated",
		"data":    code,
	})
}

// Delete soft-deletes a discount code. Redemption records survive.
func (h *DiscountHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid discount code ID",
		})
	}

	result := database.DB.Delete(&models.DiscountCode{}, id)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete discount code",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Discount code not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Discount code deleted",
	})
}

// Preview validates a code against a subtotal without redeeming it, so
// the cart can show the discounted total before checkout.
func (h *DiscountHandler) Preview(c *fiber.Ctx) error {
	var req struct {
		Code     string  `json:"code"`
		SubTotal float64 `json:"sub_total"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	code, err := h.engine.Validate(req.Code, req.SubTotal)
	if err != nil {
		return discountError(c, err)
	}

	amount := h.engine.ComputeDiscount(code, req.SubTotal)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"code":            code.Code,
			"discount_type":   code.DiscountType,
			"discount_amount": amount,
			"total":           req.SubTotal - amount,
		},
	})
}

// discountError maps discount engine errors to HTTP responses
func discountError(c *fiber.Ctx, err error) error {
	kind := discount.ErrorKind(err)

	status := fiber.StatusConflict
	switch kind {
	case "code_not_found":
		status = fiber.StatusNotFound
	case "minimum_not_met":
		status = fiber.StatusBadRequest
	case "internal":
		status = fiber.StatusInternalServerError
	}

	message := err.Error()
	if kind == "internal" {
		message = "Discount operation failed"
	}

	return c.Status(status).JSON(fiber.Map{
		"success":    false,
		"error_kind": kind,
		"message":    message,
	})
}
