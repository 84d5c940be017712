package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/png"

	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/middleware"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// TwoFAHandler manages TOTP enrollment for back-office users. The flow is
// setup (secret stored but not yet enabled) then verify (first valid code
// turns it on), so a user cannot lock themselves out with an app that
// never scanned the QR.
type TwoFAHandler struct{}

func NewTwoFAHandler() *TwoFAHandler {
	return &TwoFAHandler{}
}

var errNotAuthenticated = errors.New("not authenticated")

// currentUserFresh re-reads the authenticated user so secret and enabled
// flag reflect writes from earlier calls in the same session.
func currentUserFresh(c *fiber.Ctx) (*models.User, error) {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return nil, errNotAuthenticated
	}

	var fresh models.User
	if err := database.DB.First(&fresh, user.ID).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

func twoFAFail(c *fiber.Ctx, err error) error {
	if errors.Is(err, errNotAuthenticated) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Failed to get user data",
	})
}

// Setup generates a fresh TOTP secret for the user and returns it with an
// inline QR image. The secret is stored immediately but two_factor_enabled
// stays false until Verify sees a valid code.
func (h *TwoFAHandler) Setup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return twoFAFail(c, errNotAuthenticated)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "AddonHub",
		AccountName: user.Username,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate 2FA secret",
		})
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate QR code",
		})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to encode QR code",
		})
	}

	database.DB.Model(&models.User{}).Where("id = ?", user.ID).
		Update("two_factor_secret", key.Secret())

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"secret":  key.Secret(),
			"qr_code": "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
			"otpauth": key.URL(),
		},
	})
}

// Verify consumes the first code from the enrolled authenticator and
// flips two_factor_enabled on.
func (h *TwoFAHandler) Verify(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Code is required",
		})
	}

	user, err := currentUserFresh(c)
	if err != nil {
		return twoFAFail(c, err)
	}

	if user.TwoFactorSecret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "2FA not set up. Please call setup first",
		})
	}
	if !totp.Validate(req.Code, user.TwoFactorSecret) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid code. Please try again",
		})
	}

	database.DB.Model(&models.User{}).Where("id = ?", user.ID).
		Update("two_factor_enabled", true)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "2FA enabled successfully",
	})
}

// Disable turns 2FA off. Requires both the account password and a current
// code, so a stolen session alone cannot weaken the account.
func (h *TwoFAHandler) Disable(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	user, err := currentUserFresh(c)
	if err != nil {
		return twoFAFail(c, err)
	}

	if !user.TwoFactorEnabled {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "2FA is not enabled",
		})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid password",
		})
	}
	if !totp.Validate(req.Code, user.TwoFactorSecret) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid 2FA code",
		})
	}

	database.DB.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"two_factor_enabled": false,
		"two_factor_secret":  "",
	})

	return c.JSON(fiber.Map{
		"success": true,
		"message": "2FA disabled successfully",
	})
}

// Status reports whether the current user has 2FA enabled
func (h *TwoFAHandler) Status(c *fiber.Ctx) error {
	user, err := currentUserFresh(c)
	if err != nil {
		return twoFAFail(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"enabled": user.TwoFactorEnabled,
		},
	})
}
