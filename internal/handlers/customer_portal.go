package handlers

import (
	"strconv"
	"time"

	"github.com/addonhub/backend/internal/config"
	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/addonhub/backend/internal/orders"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CustomerPortalHandler serves the storefront account surface: signup,
// login, checkout, payment proof submission and the customer's own
// orders and licenses.
type CustomerPortalHandler struct {
	cfg      *config.Config
	pipeline *orders.Pipeline
}

func NewCustomerPortalHandler(cfg *config.Config, pipeline *orders.Pipeline) *CustomerPortalHandler {
	return &CustomerPortalHandler{cfg: cfg, pipeline: pipeline}
}

// CustomerLoginRequest represents customer login request
type CustomerLoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// CustomerLoginResponse represents customer login response
type CustomerLoginResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Token    string        `json:"token,omitempty"`
	Customer *CustomerInfo `json:"customer,omitempty"`
}

// CustomerInfo represents customer info in response
type CustomerInfo struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Institution string `json:"institution"`
	Country     string `json:"country"`
}

// Register creates a new customer account
func (h *CustomerPortalHandler) Register(c *fiber.Ctx) error {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		FullName    string `json:"full_name"`
		Institution string `json:"institution"`
		Phone       string `json:"phone"`
		Country     string `json:"country"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Email and password are required",
		})
	}
	if len(req.Password) < 6 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Password must be at least 6 characters",
		})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to hash password",
		})
	}

	customer := models.Customer{
		Email:       req.Email,
		Password:    string(hashed),
		FullName:    req.FullName,
		Institution: req.Institution,
		Phone:       req.Phone,
		Country:     req.Country,
		IsActive:    true,
	}
	if err := database.DB.Create(&customer).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": "Email is already registered",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Account created",
	})
}

// Login authenticates a customer by email and password
func (h *CustomerPortalHandler) Login(c *fiber.Ctx) error {
	var req CustomerLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Invalid request body",
		})
	}

	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Email and password are required",
		})
	}

	var customer models.Customer
	if err := database.DB.Where("email = ?", req.Email).First(&customer).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Invalid email or password",
		})
	}

	if !customer.IsActive {
		return c.Status(fiber.StatusUnauthorized).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Account is disabled",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(customer.Password), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Invalid email or password",
		})
	}

	token, err := h.generateCustomerToken(customer.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(CustomerLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
	}

	now := time.Now()
	database.DB.Model(&customer).Update("last_login", now)

	return c.JSON(CustomerLoginResponse{
		Success: true,
		Token:   token,
		Customer: &CustomerInfo{
			ID:          customer.ID,
			Email:       customer.Email,
			FullName:    customer.FullName,
			Institution: customer.Institution,
			Country:     customer.Country,
		},
	})
}

// Checkout creates an unpaid order from the customer's cart
func (h *CustomerPortalHandler) Checkout(c *fiber.Ctx) error {
	customerID := customerIDFromContext(c)

	var req struct {
		Items        []orders.CartItem `json:"items"`
		DiscountCode string            `json:"discount_code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	order, err := h.pipeline.SubmitOrder(customerID, req.Items, req.DiscountCode)
	if err != nil {
		return checkoutError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Order created",
		"data":    order,
	})
}

// SubmitProof attaches a bank transfer receipt to the customer's order
func (h *CustomerPortalHandler) SubmitProof(c *fiber.Ctx) error {
	customerID := customerIDFromContext(c)

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid order ID",
		})
	}

	// The order must belong to the calling customer
	var order models.Order
	if err := database.DB.Where("id = ? AND customer_id = ?", id, customerID).First(&order).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Order not found",
		})
	}

	var input orders.ProofInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	proof, err := h.pipeline.SubmitPaymentProof(order.ID, input)
	if err != nil {
		return checkoutError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payment proof submitted",
		"data":    proof,
	})
}

// MyOrders returns the customer's orders, newest first
func (h *CustomerPortalHandler) MyOrders(c *fiber.Ctx) error {
	customerID := customerIDFromContext(c)

	var list []models.Order
	if err := database.DB.Preload("Items").Preload("Proof").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").Find(&list).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch orders",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    list,
	})
}

// MyOrder returns one of the customer's orders with issued licenses
func (h *CustomerPortalHandler) MyOrder(c *fiber.Ctx) error {
	customerID := customerIDFromContext(c)

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid order ID",
		})
	}

	var order models.Order
	if err := database.DB.Preload("Items").Preload("Proof").Preload("Licenses").
		Where("id = ? AND customer_id = ?", id, customerID).First(&order).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Order not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    order,
	})
}

// MyLicenses returns the customer's licenses with open slot counts
func (h *CustomerPortalHandler) MyLicenses(c *fiber.Ctx) error {
	customerID := customerIDFromContext(c)

	var licenses []models.License
	if err := database.DB.Preload("Product").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").Find(&licenses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to fetch licenses",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    licenses,
	})
}

// generateCustomerToken generates a JWT token for the customer portal
func (h *CustomerPortalHandler) generateCustomerToken(customerID uint) (string, error) {
	claims := jwt.MapClaims{
		"customer_id": customerID,
		"type":        "customer",
		"exp":         time.Now().Add(24 * time.Hour).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.JWTSecret))
}

// CustomerAuthMiddleware validates customer JWT token
func CustomerAuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Authorization header required",
			})
		}

		tokenString := ""
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenString = authHeader[7:]
		} else {
			tokenString = authHeader
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
			}
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid or expired token",
			})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token claims",
			})
		}

		if claims["type"] != "customer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token type",
			})
		}

		// JSON numbers decode as float64
		idFloat, ok := claims["customer_id"].(float64)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid token claims",
			})
		}
		c.Locals("customer_id", uint(idFloat))

		return c.Next()
	}
}

func customerIDFromContext(c *fiber.Ctx) uint {
	id, _ := c.Locals("customer_id").(uint)
	return id
}

// checkoutError maps pipeline and discount errors for the portal surface
func checkoutError(c *fiber.Ctx, err error) error {
	if kind := orders.ErrorKind(err); kind != "internal" {
		return pipelineError(c, err)
	}
	return discountError(c, err)
}
