package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/addonhub/backend/internal/config"
	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/discount"
	"github.com/addonhub/backend/internal/handlers"
	"github.com/addonhub/backend/internal/licensing"
	"github.com/addonhub/backend/internal/middleware"
	"github.com/addonhub/backend/internal/models"
	"github.com/addonhub/backend/internal/notify"
	"github.com/addonhub/backend/internal/orders"
	"github.com/addonhub/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user if not exists
	seedAdminUser()

	// Core engines
	validator := licensing.NewValidator(database.DB, nil)
	machine := licensing.NewStateMachine(database.DB, nil)
	ledger := licensing.NewLedger(database.DB, nil)
	engine := discount.NewEngine(database.DB, nil)
	notifier := notify.NewDispatcher(database.DB)
	pipeline := orders.NewPipeline(database.DB, engine, machine, notifier, orders.Options{
		TaxRatePercent:     cfg.TaxRatePercent,
		PaymentDeadlineHrs: cfg.PaymentDeadlineHrs,
	}, nil)

	// Background sweeps
	expirySweep := services.NewExpirySweepService(machine, 1*time.Hour)
	expirySweep.Start()

	deadlineSweep := services.NewPaymentDeadlineService(pipeline, 15*time.Minute)
	deadlineSweep.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "AddonHub API v1.0",
		ServerHeader: "AddonHub",
		BodyLimit:    10 * 1024 * 1024, // 10MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "addonhub-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg)
	twoFAHandler := handlers.NewTwoFAHandler()
	activationHandler := handlers.NewActivationHandler(validator, ledger)
	licenseHandler := handlers.NewLicenseHandler(machine, ledger)
	orderHandler := handlers.NewOrderHandler(pipeline)
	discountHandler := handlers.NewDiscountHandler(engine)
	productHandler := handlers.NewProductHandler()
	customerHandler := handlers.NewCustomerHandler()
	portalHandler := handlers.NewCustomerPortalHandler(cfg, pipeline)
	dashboardHandler := handlers.NewDashboardHandler()

	api := app.Group("/api/v1")

	// Remote activation protocol, spoken by installed product instances.
	// Throttled per IP; no session auth, the license key is the credential.
	remote := api.Group("/remote", middleware.ActivationRateLimiter(cfg.ActivationRateLimit, 1*time.Minute))
	remote.Post("/activate", activationHandler.Activate)
	remote.Post("/check-in", activationHandler.CheckIn)
	remote.Post("/deactivate", activationHandler.Deactivate)
	remote.Post("/validate", activationHandler.Validate)

	// Public storefront
	api.Get("/catalog", productHandler.Catalog)
	api.Post("/discounts/preview", discountHandler.Preview)

	// Customer portal
	portal := api.Group("/portal")
	portal.Post("/register", middleware.RateLimiter(5, 1*time.Minute), portalHandler.Register)
	portal.Post("/login", portalHandler.Login)

	portalAuth := portal.Group("", handlers.CustomerAuthMiddleware(cfg))
	portalAuth.Post("/checkout", portalHandler.Checkout)
	portalAuth.Get("/orders", portalHandler.MyOrders)
	portalAuth.Get("/orders/:id", portalHandler.MyOrder)
	portalAuth.Post("/orders/:id/proof", portalHandler.SubmitProof)
	portalAuth.Get("/licenses", portalHandler.MyLicenses)

	// Back-office auth
	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Post("/logout", middleware.AuthRequired(cfg), authHandler.Logout)
	auth.Get("/me", middleware.AuthRequired(cfg), authHandler.Me)
	auth.Post("/change-password", middleware.AuthRequired(cfg), authHandler.ChangePassword)
	auth.Post("/refresh", middleware.AuthRequired(cfg), authHandler.RefreshToken)

	twofa := api.Group("/2fa", middleware.AuthRequired(cfg))
	twofa.Post("/setup", twoFAHandler.Setup)
	twofa.Post("/verify", twoFAHandler.Verify)
	twofa.Post("/disable", twoFAHandler.Disable)
	twofa.Get("/status", twoFAHandler.Status)

	// Back-office, staff and admin. Mutations are audit-logged.
	admin := api.Group("/admin", middleware.AuthRequired(cfg), middleware.StaffOrAdmin(), middleware.AuditLogger())

	admin.Get("/dashboard", dashboardHandler.Stats)
	admin.Get("/audit", dashboardHandler.RecentAudit)

	licenses := admin.Group("/licenses")
	licenses.Get("/", licenseHandler.List)
	licenses.Get("/:id", licenseHandler.Get)
	licenses.Post("/issue", middleware.AdminOnly(), licenseHandler.Issue)
	licenses.Post("/:id/suspend", licenseHandler.Suspend)
	licenses.Post("/:id/unsuspend", licenseHandler.Unsuspend)
	licenses.Post("/:id/revoke", middleware.AdminOnly(), licenseHandler.Revoke)
	licenses.Post("/:id/extend", licenseHandler.Extend)
	licenses.Post("/:id/reset-activations", licenseHandler.ResetActivations)

	adminOrders := admin.Group("/orders")
	adminOrders.Get("/", orderHandler.List)
	adminOrders.Get("/:id", orderHandler.Get)
	adminOrders.Post("/:id/verify", orderHandler.Verify)
	adminOrders.Post("/:id/reject", orderHandler.Reject)

	discounts := admin.Group("/discounts")
	discounts.Get("/", discountHandler.List)
	discounts.Get("/:id", discountHandler.Get)
	discounts.Post("/", middleware.AdminOnly(), discountHandler.Create)
	discounts.Put("/:id", middleware.AdminOnly(), discountHandler.Update)
	discounts.Delete("/:id", middleware.AdminOnly(), discountHandler.Delete)

	products := admin.Group("/products")
	products.Get("/", productHandler.List)
	products.Get("/:id", productHandler.Get)
	products.Post("/", middleware.AdminOnly(), productHandler.Create)
	products.Put("/:id", middleware.AdminOnly(), productHandler.Update)
	products.Delete("/:id", middleware.AdminOnly(), productHandler.Delete)

	customers := admin.Group("/customers")
	customers.Get("/", customerHandler.List)
	customers.Get("/:id", customerHandler.Get)
	customers.Put("/:id/active", customerHandler.SetActive)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		expirySweep.Stop()
		deadlineSweep.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting AddonHub API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedAdminUser() {
	var count int64
	database.DB.Model(&models.User{}).Where("user_type = ?", models.UserTypeAdmin).Count(&count)

	if count == 0 {
		log.Println("Creating default admin user...")

		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)

		admin := models.User{
			Username:            "admin",
			Password:            string(hashedPassword),
			Email:               "admin@addonhub.local",
			FullName:            "System Administrator",
			UserType:            models.UserTypeAdmin,
			ForcePasswordChange: true,
			IsActive:            true,
		}

		if err := database.DB.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created successfully (username: admin, password: admin123)")
		}
	}
}
