package handlers

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/addonhub/backend/internal/config"
	"github.com/addonhub/backend/internal/database"
	"github.com/addonhub/backend/internal/middleware"
	"github.com/addonhub/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const attemptWindow = 15 * time.Minute

// loginThrottle counts failed back-office logins per source IP and blocks
// the IP for attemptWindow once the configured limit is hit. In-memory:
// a restart forgives everyone, which is acceptable for a staff surface.
type loginThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
}

type throttleEntry struct {
	failures  int
	lastTry   time.Time
	blockedAt *time.Time
}

var throttle = &loginThrottle{entries: make(map[string]*throttleEntry)}

func maxLoginAttempts() int {
	var pref models.SystemPreference
	if err := database.DB.Where("key = ?", "max_login_attempts").First(&pref).Error; err == nil {
		if v, err := strconv.Atoi(pref.Value); err == nil && v > 0 {
			return v
		}
	}
	return 5
}

// blocked reports whether the IP is currently locked out and, if so, how
// many minutes remain.
func (t *loginThrottle) blocked(ip string) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok {
		return false, 0
	}

	if entry.blockedAt != nil {
		elapsed := time.Since(*entry.blockedAt)
		if elapsed < attemptWindow {
			return true, int((attemptWindow - elapsed).Minutes()) + 1
		}
		delete(t.entries, ip)
		return false, 0
	}

	// A quiet window forgives earlier failures
	if time.Since(entry.lastTry) > attemptWindow {
		delete(t.entries, ip)
		return false, 0
	}

	return entry.failures >= maxLoginAttempts(), 0
}

// fail records one failed attempt and returns how many remain before the
// IP gets blocked.
func (t *loginThrottle) fail(ip string) int {
	limit := maxLoginAttempts()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ip]
	if !ok {
		entry = &throttleEntry{}
		t.entries[ip] = entry
	}
	entry.failures++
	entry.lastTry = time.Now()
	if entry.failures >= limit {
		now := time.Now()
		entry.blockedAt = &now
	}
	return limit - entry.failures
}

func (t *loginThrottle) clear(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, ip)
}

type AuthHandler struct {
	cfg *config.Config
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	TwoFACode string `json:"two_fa_code"`
}

type LoginResponse struct {
	Success             bool      `json:"success"`
	Message             string    `json:"message,omitempty"`
	Token               string    `json:"token,omitempty"`
	User                *UserInfo `json:"user,omitempty"`
	Requires2FA         bool      `json:"requires_2fa,omitempty"`
	ForcePasswordChange bool      `json:"force_password_change,omitempty"`
}

type UserInfo struct {
	ID                  uint            `json:"id"`
	Username            string          `json:"username"`
	Email               string          `json:"email"`
	FullName            string          `json:"full_name"`
	UserType            models.UserType `json:"user_type"`
	ForcePasswordChange bool            `json:"force_password_change"`
}

// rejectLogin records the failure and answers 401 with the remaining
// attempt count, so operators notice the lockout coming.
func rejectLogin(c *fiber.Ctx, ip, message string) error {
	remaining := throttle.fail(ip)
	if remaining > 0 {
		message = fmt.Sprintf("%s. %d attempts remaining", message, remaining)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(LoginResponse{
		Success: false,
		Message: message,
	})
}

// Login authenticates a back-office user: throttle, password, then TOTP
// when the account has it enabled.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	ip := c.IP()

	if isBlocked, minutes := throttle.blocked(ip); isBlocked {
		return c.Status(fiber.StatusTooManyRequests).JSON(LoginResponse{
			Success: false,
			Message: fmt.Sprintf("Too many failed login attempts. Please try again in %d minutes", minutes),
		})
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(LoginResponse{
			Success: false,
			Message: "Invalid request body",
		})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(LoginResponse{
			Success: false,
			Message: "Username and password are required",
		})
	}

	var user models.User
	if err := database.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		return rejectLogin(c, ip, "Invalid username or password")
	}
	if !user.IsActive {
		return c.Status(fiber.StatusUnauthorized).JSON(LoginResponse{
			Success: false,
			Message: "Account is disabled",
		})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return rejectLogin(c, ip, "Invalid username or password")
	}

	if user.TwoFactorEnabled {
		if req.TwoFACode == "" {
			// Password checked out; the client should re-submit with a code
			return c.JSON(LoginResponse{
				Success:     false,
				Requires2FA: true,
				Message:     "2FA code required",
			})
		}
		if !totp.Validate(req.TwoFACode, user.TwoFactorSecret) {
			return rejectLogin(c, ip, "Invalid 2FA code")
		}
	}

	throttle.clear(ip)

	token, err := middleware.GenerateToken(&user, h.cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(LoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
	}

	database.DB.Model(&user).Update("last_login", time.Now())
	recordAuthAudit(c, &user, models.AuditActionLogin, "User logged in")

	return c.JSON(LoginResponse{
		Success:             true,
		Token:               token,
		ForcePasswordChange: user.ForcePasswordChange,
		User: &UserInfo{
			ID:                  user.ID,
			Username:            user.Username,
			Email:               user.Email,
			FullName:            user.FullName,
			UserType:            user.UserType,
			ForcePasswordChange: user.ForcePasswordChange,
		},
	})
}

func recordAuthAudit(c *fiber.Ctx, user *models.User, action models.AuditAction, description string) {
	database.DB.Create(&models.AuditLog{
		UserID:      user.ID,
		Username:    user.Username,
		UserType:    user.UserType,
		Action:      action,
		EntityType:  "user",
		EntityID:    user.ID,
		EntityName:  user.Username,
		Description: description,
		IPAddress:   c.IP(),
		UserAgent:   c.Get("User-Agent"),
	})
}

// Logout blacklists the presented token for its remaining lifetime so it
// cannot be replayed before its natural expiry.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if user := middleware.GetCurrentUser(c); user != nil {
		recordAuthAudit(c, user, models.AuditActionLogout, "User logged out")
	}

	if tokenString, ok := c.Locals("token").(string); ok && tokenString != "" {
		ttl := time.Duration(h.cfg.JWTExpireHours) * time.Hour
		if token, _, err := jwt.NewParser().ParseUnverified(tokenString, &middleware.JWTClaims{}); err == nil {
			if claims, ok := token.Claims.(*middleware.JWTClaims); ok && claims.ExpiresAt != nil {
				if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
					ttl = remaining
				}
			}
		}
		database.BlacklistToken(tokenString, ttl)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Me returns the authenticated user's own record
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":                 user.ID,
			"username":           user.Username,
			"email":              user.Email,
			"full_name":          user.FullName,
			"user_type":          user.UserType,
			"is_active":          user.IsActive,
			"two_factor_enabled": user.TwoFactorEnabled,
			"last_login":         user.LastLogin,
			"created_at":         user.CreatedAt,
		},
	})
}

// ChangePassword verifies the current password and stores the new hash.
// Clears force_password_change so seeded accounts graduate on first use.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Current password is incorrect",
		})
	}
	if len(req.NewPassword) < 6 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Password must be at least 6 characters",
		})
	}

	hashed, err := HashPassword(req.NewPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to hash password",
		})
	}

	if err := database.DB.Model(user).Updates(map[string]interface{}{
		"password":              hashed,
		"force_password_change": false,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to update password",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Password changed successfully",
	})
}

// RefreshToken issues a fresh token for the authenticated user
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "User not found",
		})
	}

	token, err := middleware.GenerateToken(user, h.cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to generate token",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"token":   token,
	})
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hashed), err
}
