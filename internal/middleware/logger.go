package middleware

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/addonhub/backend/internal/database"
	"github.com/gofiber/fiber/v2"
)

// Logger writes one line per request with status, latency, source IP,
// method and path.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.Printf(
			"%s | %3d | %13v | %15s | %-7s %s",
			time.Now().Format("2006/01/02 - 15:04:05"),
			c.Response().StatusCode(),
			time.Since(start),
			c.IP(),
			c.Method(),
			c.Path(),
		)
		return err
	}
}

// CORS answers preflight requests and sets the usual cross-origin headers
func CORS() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", "*")
		c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Set("Access-Control-Allow-Credentials", "true")
		c.Set("Access-Control-Max-Age", "86400")

		if c.Method() == "OPTIONS" {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

type ipWindow struct {
	hits    int
	resetAt time.Time
}

var (
	ipWindows   = make(map[string]*ipWindow)
	ipWindowsMu sync.Mutex
)

// RateLimiter is a fixed-window in-memory limiter for single-instance
// surfaces like portal registration. Counters reset on restart.
func RateLimiter(maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		now := time.Now()

		ipWindowsMu.Lock()
		w, ok := ipWindows[ip]
		if !ok || now.After(w.resetAt) {
			ipWindows[ip] = &ipWindow{hits: 1, resetAt: now.Add(window)}
			ipWindowsMu.Unlock()
			return c.Next()
		}
		if w.hits >= maxRequests {
			retryIn := int(w.resetAt.Sub(now).Seconds())
			ipWindowsMu.Unlock()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", retryIn),
			})
		}
		w.hits++
		ipWindowsMu.Unlock()

		return c.Next()
	}
}

// ActivationRateLimiter throttles the public activation API per client IP
// using redis counters, so the limit holds across instances.
func ActivationRateLimiter(maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if database.Redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		ctx := context.Background()
		key := fmt.Sprintf("addonhub:ratelimit:activation:%s", c.IP())

		count, err := database.Redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis trouble must not take the activation API down
			return c.Next()
		}
		if count == 1 {
			database.Redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":    false,
				"error_kind": "rate_limited",
				"message":    "Too many requests",
			})
		}

		return c.Next()
	}
}
