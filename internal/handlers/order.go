package handlers

import (
	"errors"
	"strconv"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/middleware"
	"github.com/addonhub/backend/internal/models"
	"github.com/addonhub/backend/internal/orders"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// OrderHandler exposes the admin order and payment verification surface
type OrderHandler struct {
	pipeline *orders.Pipeline
}

func NewOrderHandler(pipeline *orders.Pipeline) *OrderHandler {
	return &OrderHandler{pipeline: pipeline}
}

// List returns paginated orders with optional filters
func (h *OrderHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := database.DB.Model(&models.Order{}).
		Preload("Customer").Preload("Items")

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if paymentStatus := c.Query("payment_status"); paymentStatus != "" {
		query = query.Where("payment_status = ?", paymentStatus)
	}
	if customerID := c.QueryInt("customer_id", 0); customerID > 0 {
		query = query.Where("customer_id = ?", customerID)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("order_number LIKE ?", "%"+search+"%")
	}

	var total int64
	query.Count(&total)

	var list []models.Order
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&list).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch orders",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    list,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get returns one order with items, proof and issued licenses
func (h *OrderHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid order ID",
		})
	}

	var order models.Order
	if err := database.DB.
		Preload("Customer").
		Preload("Items").
		Preload("Proof").
		Preload("Licenses").
		First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Order not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch order",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    order,
	})
}

// Verify confirms the payment and issues the order's licenses
func (h *OrderHandler) Verify(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid order ID",
		})
	}

	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	order, err := h.pipeline.Verify(uint(id), user.ID)
	if err != nil {
		return pipelineError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payment verified, licenses issued",
		"data":    order,
	})
}

// Reject marks the payment proof as rejected with a reason
func (h *OrderHandler) Reject(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid order ID",
		})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Rejection reason is required",
		})
	}

	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	if err := h.pipeline.Reject(uint(id), user.ID, req.Reason); err != nil {
		return pipelineError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payment proof rejected",
	})
}

// pipelineError maps order pipeline errors to HTTP responses
func pipelineError(c *fiber.Ctx, err error) error {
	kind := orders.ErrorKind(err)

	status := fiber.StatusInternalServerError
	switch kind {
	case "order_not_found", "product_not_found":
		status = fiber.StatusNotFound
	case "empty_cart":
		status = fiber.StatusBadRequest
	case "invalid_order_state":
		status = fiber.StatusConflict
	}

	message := err.Error()
	if kind == "internal" {
		message = "Order operation failed"
	}

	return c.Status(status).JSON(fiber.Map{
		"success":    false,
		"error_kind": kind,
		"message":    message,
	})
}
