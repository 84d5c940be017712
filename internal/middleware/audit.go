package middleware

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

var idPattern = regexp.MustCompile(`/(\d+)(?:/|$)`)

// AuditLogger middleware logs back-office mutations to the audit log
func AuditLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip non-modifying requests
		method := c.Method()
		if method == "GET" || method == "HEAD" || method == "OPTIONS" {
			return c.Next()
		}

		// Skip auth endpoints; login/logout are recorded by their handlers
		path := c.Path()
		skipPaths := []string{"/api/v1/auth/", "/health"}
		for _, skip := range skipPaths {
			if strings.HasPrefix(path, skip) {
				return c.Next()
			}
		}

		user := GetCurrentUser(c)
		ip := c.IP()
		userAgent := c.Get("User-Agent")

		// Execute the request
		err := c.Next()

		// Only log successful responses
		statusCode := c.Response().StatusCode()
		if statusCode >= 200 && statusCode < 400 && user != nil {
			entry := models.AuditLog{
				UserID:      user.ID,
				Username:    user.Username,
				UserType:    user.UserType,
				Action:      actionForMethod(method, path),
				EntityType:  entityTypeFromPath(path),
				EntityID:    entityIDFromPath(path),
				Description: method + " " + path,
				IPAddress:   ip,
				UserAgent:   userAgent,
			}
			database.DB.Create(&entry)
		}

		return err
	}
}

func actionForMethod(method, path string) models.AuditAction {
	switch {
	case strings.HasSuffix(path, "/verify"):
		return models.AuditActionVerify
	case strings.HasSuffix(path, "/reject"):
		return models.AuditActionReject
	case strings.HasSuffix(path, "/suspend"):
		return models.AuditActionSuspend
	case strings.HasSuffix(path, "/unsuspend"):
		return models.AuditActionUnsuspend
	case strings.HasSuffix(path, "/revoke"):
		return models.AuditActionRevoke
	case strings.HasSuffix(path, "/extend"):
		return models.AuditActionExtend
	case strings.HasSuffix(path, "/reset-activations"):
		return models.AuditActionReset
	case strings.HasSuffix(path, "/issue"):
		return models.AuditActionIssue
	case method == "POST":
		return models.AuditActionCreate
	case method == "DELETE":
		return models.AuditActionDelete
	default:
		return models.AuditActionUpdate
	}
}

func entityTypeFromPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/v1/admin/"), "/")
	if len(parts) == 0 {
		return ""
	}
	switch parts[0] {
	case "licenses":
		return "license"
	case "orders":
		return "order"
	case "discounts":
		return "discount_code"
	case "products":
		return "product"
	case "customers":
		return "customer"
	case "users":
		return "user"
	default:
		return parts[0]
	}
}

func entityIDFromPath(path string) uint {
	matches := idPattern.FindStringSubmatch(path)
	if len(matches) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(matches[1], 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}
