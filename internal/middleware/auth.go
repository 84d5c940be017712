package middleware

import (
	"strings"
	"time"

	"github.com/addonhub/backend/internal/config"
	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims are the signed claims carried by back-office tokens
type JWTClaims struct {
	UserID   uint            `json:"user_id"`
	Username string          `json:"username"`
	UserType models.UserType `json:"user_type"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for a back-office user
func GenerateToken(user *models.User, cfg *config.Config) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		UserType: user.UserType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.JWTExpireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "addonhub",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// AuthRequired authenticates back-office requests: bearer token present,
// not blacklisted, valid signature, and the account still exists and is
// active. The raw token lands in Locals("token") so Logout can revoke it.
func AuthRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return unauthorized(c, "Missing authorization header")
		}

		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			return unauthorized(c, "Invalid authorization header format")
		}

		if database.IsTokenBlacklisted(tokenString) {
			return unauthorized(c, "Token has been revoked (logged out)")
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			return unauthorized(c, "Invalid token claims")
		}

		// A token outlives account changes, so re-check the user row
		var user models.User
		if err := database.DB.First(&user, claims.UserID).Error; err != nil {
			return unauthorized(c, "User not found")
		}
		if !user.IsActive {
			return unauthorized(c, "User account is disabled")
		}

		c.Locals("user", &user)
		c.Locals("userID", claims.UserID)
		c.Locals("username", claims.Username)
		c.Locals("userType", claims.UserType)
		c.Locals("token", tokenString)

		return c.Next()
	}
}

// AdminOnly rejects non-admin users. Runs after AuthRequired.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userType, ok := c.Locals("userType").(models.UserType); !ok || userType != models.UserTypeAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"message": "Admin access required",
			})
		}
		return c.Next()
	}
}

// StaffOrAdmin admits staff and admin users. Runs after AuthRequired.
func StaffOrAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userType, ok := c.Locals("userType").(models.UserType)
		if !ok || (userType != models.UserTypeAdmin && userType != models.UserTypeStaff) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"message": "Staff access required",
			})
		}
		return c.Next()
	}
}

// GetCurrentUser returns the authenticated user stored by AuthRequired,
// or nil on unauthenticated routes.
func GetCurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}
