package handlers

import (
	"errors"
	"strconv"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ProductHandler exposes the admin catalog surface and the public listing
type ProductHandler struct{}

func NewProductHandler() *ProductHandler {
	return &ProductHandler{}
}

// Catalog returns active products for the storefront, cached in Redis
func (h *ProductHandler) Catalog(c *fiber.Ctx) error {
	if database.Redis != nil {
		var cached []models.Product
		if err := database.CacheGet(database.CacheKeyProducts, &cached); err == nil {
			return c.JSON(fiber.Map{
				"success": true,
				"data":    cached,
			})
		}
	}

	var products []models.Product
	if err := database.DB.Where("is_active = ?", true).Order("name").Find(&products).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch products",
		})
	}

	if database.Redis != nil {
		database.CacheSet(database.CacheKeyProducts, products, database.CacheTTLProducts)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    products,
	})
}

// List returns all products including inactive ones, for the back office
func (h *ProductHandler) List(c *fiber.Ctx) error {
	var products []models.Product
	if err := database.DB.Order("name").Find(&products).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch products",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    products,
	})
}

// Get returns one product
func (h *ProductHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid product ID",
		})
	}

	var product models.Product
	if err := database.DB.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Product not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch product",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    product,
	})
}

// ProductRequest is the create/update payload
type ProductRequest struct {
	Name           string  `json:"name"`
	Slug           string  `json:"slug"`
	Description    string  `json:"description"`
	Price          float64 `json:"price"`
	LicenseScope   string  `json:"license_scope"`
	LicenseType    string  `json:"license_type"`
	Duration       string  `json:"duration"`
	MaxActivations int     `json:"max_activations"`
	IsActive       *bool   `json:"is_active"`
}

func (r *ProductRequest) validate() string {
	if r.Name == "" || r.Slug == "" {
		return "Name and slug are required"
	}
	if r.Price < 0 {
		return "Price cannot be negative"
	}
	switch models.LicenseScope(r.LicenseScope) {
	case models.LicenseScopeInstallation, models.LicenseScopeJournal:
	default:
		return "License scope must be installation or journal"
	}
	switch models.LicenseType(r.LicenseType) {
	case models.LicenseTypeSingleSite, models.LicenseTypeSingleJournal,
		models.LicenseTypeMultiSite, models.LicenseTypeMultiJournal, models.LicenseTypeUnlimited:
	default:
		return "Invalid license type"
	}
	switch models.LicenseDuration(r.Duration) {
	case models.LicenseDuration1Year, models.LicenseDuration2Years, models.LicenseDurationLifetime:
	default:
		return "Duration must be 1y, 2y or lifetime"
	}
	if r.MaxActivations < 1 && models.LicenseType(r.LicenseType) != models.LicenseTypeUnlimited {
		return "Max activations must be at least 1"
	}
	return ""
}

// Create creates a new product
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var req ProductRequest
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

	product := models.Product{
		Name:           req.Name,
		Slug:           req.Slug,
		Description:    req.Description,
		Price:          req.Price,
		LicenseScope:   models.LicenseScope(req.LicenseScope),
		LicenseType:    models.LicenseType(req.LicenseType),
		Duration:       models.LicenseDuration(req.Duration),
		MaxActivations: req.MaxActivations,
		IsActive:       isActive,
	}

	if err := database.DB.Create(&product).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": "Product slug already exists",
		})
	}

	if database.Redis != nil {
		database.InvalidateProductsCache()
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Product created",
		"data":    product,
	})
}

// Update edits a product. Issued licenses keep their snapshots; changes
// here only affect future issuances.
func (h *ProductHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid product ID",
		})
	}

	var product models.Product
	if err := database.DB.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Product not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch product",
		})
	}

	var req ProductRequest
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

	updates := map[string]interface{}{
		"name":            req.Name,
		"slug":            req.Slug,
		"description":     req.Description,
		"price":           req.Price,
		"license_scope":   req.LicenseScope,
		"license_type":    req.LicenseType,
		"duration":        req.Duration,
		"max_activations": req.MaxActivations,
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if err := database.DB.Model(&product).Updates(updates).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update product",
		})
	}

	if database.Redis != nil {
		database.InvalidateProductsCache()
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Product updated",
		"data":    product,
	})
}

// Delete soft-deletes a product. Existing licenses and orders keep their
// snapshots and are unaffected.
func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid product ID",
		})
	}

	result := database.DB.Delete(&models.Product{}, id)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete product",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Product not found",
		})
	}

	if database.Redis != nil {
		database.InvalidateProductsCache()
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Product deleted",
	})
}
