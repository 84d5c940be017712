package handlers

import (
	"errors"
	"strconv"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// CustomerHandler exposes the admin customer surface
type CustomerHandler struct{}

func NewCustomerHandler() *CustomerHandler {
	return &CustomerHandler{}
}

// List returns paginated customers
func (h *CustomerHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := database.DB.Model(&models.Customer{})
	if search := c.Query("search"); search != "" {
		query = query.Where("email LIKE ? OR full_name LIKE ? OR institution LIKE ?",
			"%"+search+"%", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	query.Count(&total)

	var customers []models.Customer
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&customers).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch customers",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    customers,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get returns one customer with their orders and licenses
func (h *CustomerHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid customer ID",
		})
	}

	var customer models.Customer
	if err := database.DB.First(&customer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Customer not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch customer",
		})
	}

	var customerOrders []models.Order
	database.DB.Where("customer_id = ?", customer.ID).Order("created_at DESC").Find(&customerOrders)

	var licenses []models.License
	database.DB.Preload("Product").Where("customer_id = ?", customer.ID).Order("created_at DESC").Find(&licenses)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"customer": customer,
			"orders":   customerOrders,
			"licenses": licenses,
		},
	})
}

// SetActive enables or disables a customer account
func (h *CustomerHandler) SetActive(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid customer ID",
		})
	}

	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	result := database.DB.Model(&models.Customer{}).Where("id = ?", id).Update("is_active", req.IsActive)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update customer",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Customer not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Customer updated",
	})
}
